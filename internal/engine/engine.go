// Package engine is the top-level tick handler. Each tick runs the candle-edge
// detector, the position reconciler and the compounding ledger, then hands
// the pair to its strategy variant and sends the resulting commands through
// the order gateway. Nothing escapes Tick: every path ends in a terminal
// status that is logged and counted.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"quant-grid-bot-go/internal/config"
	"quant-grid-bot-go/internal/gateway"
	"quant-grid-bot-go/internal/grid"
	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/optimizer"
	"quant-grid-bot-go/internal/position"
	"quant-grid-bot-go/internal/strategy"

	"go.uber.org/zap"
)

var (
	ErrDataNotReady      = errors.New("candle history not ready")
	ErrInsufficientFunds = gateway.ErrInsufficientFunds
	ErrGatewayFailure    = gateway.ErrHostFailure
	ErrStateCorruption   = errors.New("persisted state corrupted")
	ErrUnknownStrategy   = errors.New("unknown strategy")
)

// SharedParams are the parameter keys every variant understands.
type SharedParams struct {
	InitialCapital float64 `json:"INITIAL_CAPITAL" jsonschema:"title=Initial Capital,description=Notional of the first entry and the grid's starting capital.,default=1000,minimum=10,maximum=100000"`
	StartTime      int64   `json:"GQ_START_TIME" jsonschema:"title=Strategy Start Time,description=Unix ms; sells before it do not count for compounding.,default=0,minimum=0"`
}

// NewSharedParams returns the documented defaults.
func NewSharedParams() *SharedParams {
	return &SharedParams{InitialCapital: 1000}
}

// Engine handles the ticks of one pair. It is not safe for concurrent use;
// the state manager serializes ticks per pair.
type Engine struct {
	gateway *gateway.Gateway
	logger  *zap.Logger
	metrics *metrics.Metrics
	rng     *rand.Rand
	warned  map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRand sets the random source of the optimizer's exploration.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// New 创建一个交易对的决策引擎
func New(gw *gateway.Gateway, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		gateway: gw,
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		warned:  map[string]bool{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// tick carries the per-tick working values between the stages.
type tick struct {
	ctx    context.Context
	tc     *models.TickContext
	st     *models.PairState
	newBar bool
	limit  float64
	shared SharedParams
	log    *zap.Logger
}

// Tick runs one decision for tc.Pair, mutating st in place.
func (e *Engine) Tick(ctx context.Context, tc *models.TickContext, st *models.PairState) (d models.Decision) {
	started := time.Now()
	d = models.Decision{Intent: models.IntentNone, Status: models.StatusNoAction}
	log := e.logger.With(zap.String("pair", tc.Pair), zap.String("strategy", tc.Strategy))

	defer func() {
		if r := recover(); r != nil {
			d.Status = models.StatusPanicRecovered
			d.Reason = fmt.Sprintf("panic: %v", r)
			d.Err = fmt.Errorf("tick panic: %v", r)
			log.Error("tick 发生 panic，已恢复", zap.Any("panic", r), zap.Stack("stack"))
		}
		d.Diagnostics = models.PadDiagnostics(d.Diagnostics)
		e.metrics.ObserveTick(tc.Pair, tc.Strategy, string(d.Status), string(d.Intent), time.Since(started))
		e.logTerminal(log, d)
	}()

	if tc.Now.IsZero() {
		tc.Now = time.Now()
	}
	def, ok := strategy.Lookup(tc.Strategy)
	if !ok {
		d.Status = models.StatusDisabled
		d.Reason = "unknown strategy " + tc.Strategy
		d.Err = fmt.Errorf("%w: %s", ErrUnknownStrategy, tc.Strategy)
		return d
	}

	t := &tick{ctx: ctx, tc: tc, st: st, log: log, shared: *NewSharedParams()}
	e.warn(log, "shared", config.BindParams(&t.shared, tc.Params))

	t.newBar = position.DetectNewBar(st, tc.Candles)
	for _, note := range position.Reconcile(st, position.Observe(tc)) {
		log.Info("持仓状态修正", zap.String("note", note), zap.String("fsm", string(st.FSMState)))
	}
	t.limit = position.TradingLimit(tc.Orders, t.shared.StartTime, tc.MinVolumeToSell, t.shared.InitialCapital)

	switch def.Kind {
	case strategy.KindGrid:
		e.tickGrid(t, def, &d)
	case strategy.KindOptimizer:
		e.tickOptimizer(t, def, &d)
	default:
		e.tickDirectional(t, def, &d)
	}
	d.Diagnostics = append(e.baseDiagnostics(t), d.Diagnostics...)
	return d
}

func (e *Engine) tickDirectional(t *tick, def strategy.Definition, d *models.Decision) {
	strat, warnings, err := def.Build(t.tc.Params)
	if err != nil {
		d.Status, d.Reason, d.Err = models.StatusDisabled, err.Error(), err
		return
	}
	e.warn(t.log, def.Name, warnings)

	st, tc := t.st, t.tc
	sig := strat.Evaluate(tc.Candles, st, tc.Ask)
	d.Diagnostics = sig.Diagnostics
	if !sig.Ready {
		notReady(d, tc.Candles.Len())
		return
	}

	switch st.FSMState {
	case models.InPosition:
		if st.PendingEntry != nil {
			d.Reason = "awaiting entry fill"
			return
		}
		if st.StopPrice <= 0 && sig.Stop.IsSome() {
			st.StopPrice = sig.Stop.Unwrap()
			t.log.Info("设置初始止损", zap.Float64("stop", st.StopPrice))
		}
		if sig.Trail.IsSome() {
			st.StopPrice = sig.Trail.Unwrap()
		}
		if reason, ok := protectiveExit(st, tc.Bid); ok {
			e.exit(t, reason, d)
		} else if sig.Exit {
			e.exit(t, sig.Reason, d)
		}
	case models.Idle:
		if !t.newBar || !sig.Enter {
			return
		}
		e.enter(t, d, sig.Reason, func() {
			if sig.Stop.IsSome() {
				st.PendingStopPrice = sig.Stop.Unwrap()
			}
			if sig.TakeProfit.IsSome() {
				st.PendingTakeProfitPrice = sig.TakeProfit.Unwrap()
			}
		})
	}
}

func (e *Engine) tickOptimizer(t *tick, def strategy.Definition, d *models.Decision) {
	raw, warnings := def.Bind(t.tc.Params)
	e.warn(t.log, def.Name, warnings)
	params := raw.(*optimizer.Params)

	st, tc := t.st, t.tc
	opt := optimizer.NewStrategy(*params, e.rng)
	if tc.Candles.Len() < opt.MinBars() {
		notReady(d, tc.Candles.Len())
		return
	}
	series := optimizer.NewSeries(tc.Candles.Close)

	barIndex := position.BarIndex(tc.Candles)
	if t.newBar && opt.Due(st, barIndex) {
		started := time.Now()
		res := opt.Optimize(series)
		st.BestParamsMemory = res.Memory
		st.LastOptimizationBarIndex = barIndex
		e.metrics.ObserveOptimization(tc.Pair, len(res.Memory), time.Since(started))
		t.log.Info("参数优化完成",
			zap.Int("evaluated", res.Evaluated),
			zap.Int("kept", len(res.Memory)),
			zap.Float64("bestScore", res.Best.Score),
			zap.Bool("fallback", res.Fallback),
			zap.Duration("took", time.Since(started)),
		)
	}
	d.Diagnostics = optimizerDiagnostics(st, series)

	switch st.FSMState {
	case models.InPosition:
		if st.PendingEntry != nil {
			d.Reason = "awaiting entry fill"
			return
		}
		p, ok := tradeParams(st)
		if !ok {
			if reason, hit := protectiveExit(st, tc.Bid); hit {
				e.exit(t, reason, d)
			}
			return
		}
		if st.StopPrice <= 0 && st.EntryPrice > 0 {
			if stop, ok := opt.InitialStop(series, p, st.EntryPrice); ok {
				st.StopPrice = stop
			}
		}
		if next, moved := opt.Trail(series, p, st.EntryPrice, tc.Bid, st.StopPrice); moved {
			st.StopPrice = next
		}
		if reason, ok := opt.Exit(series, p, tc.Bid, st.StopPrice); ok {
			e.exit(t, reason, d)
		}
	case models.Idle:
		st.EntryParams = nil
		if !t.newBar {
			return
		}
		p, reason, ok := opt.Entry(series, st.BestParamsMemory)
		if !ok {
			return
		}
		stop, ok := opt.InitialStop(series, p, tc.Ask)
		if !ok {
			d.Reason = "entry skipped: volatility undefined"
			return
		}
		e.enter(t, d, reason, func() {
			st.PendingStopPrice = stop
			st.EntryParams = &p
		})
	}
}

func (e *Engine) tickGrid(t *tick, def strategy.Definition, d *models.Decision) {
	raw, warnings := def.Bind(t.tc.Params)
	e.warn(t.log, def.Name, warnings)
	params := raw.(*grid.Params)

	st, tc := t.st, t.tc
	plan := grid.NewEngine(*params, tc.TickSize).Tick(tc, st)
	for _, note := range plan.Notes {
		t.log.Debug("网格", zap.String("note", note))
	}
	e.metrics.SetVirtualCapital(tc.Pair, st.VirtualCapital)
	d.Diagnostics = grid.Diagnostics(st)

	if len(plan.Commands) == 0 {
		if plan.InsufficientFunds {
			d.Status, d.Err = models.StatusInsufficientFund, ErrInsufficientFunds
		}
		if len(plan.Notes) > 0 {
			d.Reason = plan.Notes[len(plan.Notes)-1]
		}
		return
	}
	for _, cmd := range plan.Commands {
		res, err := e.gateway.Execute(t.ctx, tc, cmd)
		e.metrics.ObserveOrder(tc.Pair, string(cmd.Kind), string(res.Status))
		d.Commands = append(d.Commands, res.Command)
		d.Status, d.Reason, d.Err = res.Status, cmd.Reason, err
		if err != nil {
			// 同一 tick 内剩余的调用会遇到同样的限制
			return
		}
	}
}

// enter sizes a market buy at the trading limit and, once the gateway accepts
// it, stages the entry through commit and marks the pending entry.
func (e *Engine) enter(t *tick, d *models.Decision, reason string, commit func()) {
	st, tc := t.st, t.tc
	if st.PendingEntry != nil {
		return
	}
	d.Intent = models.IntentEnter
	d.Reason = reason
	if tc.Ask <= 0 {
		d.Status = models.StatusDataNotReady
		d.Err = fmt.Errorf("%w: no ask price", ErrDataNotReady)
		return
	}
	cmd := models.OrderCommand{Kind: models.MarketBuy, Amount: t.limit / tc.Ask, Price: tc.Ask, Reason: reason}
	if !e.execute(t, d, cmd) {
		return
	}
	st.PendingEntry = &models.PendingEntry{SubmittedAt: tc.Now.UnixMilli()}
	st.FSMState = models.InPosition
	commit()
}

// exit sells the whole base balance at market unless a sell is already resting.
func (e *Engine) exit(t *tick, reason string, d *models.Decision) {
	tc := t.tc
	d.Intent = models.IntentExit
	d.Reason = reason
	if tc.HasOpenSell() {
		d.Reason = reason + " (sell already open)"
		return
	}
	if tc.MinVolumeToSell > 0 && tc.BaseBalance*tc.Bid < tc.MinVolumeToSell {
		d.Status = models.StatusInsufficientFund
		d.Err = fmt.Errorf("%w: holdings %.8f below minimum sell volume", ErrInsufficientFunds, tc.BaseBalance*tc.Bid)
		return
	}
	e.execute(t, d, models.OrderCommand{Kind: models.MarketSell, Amount: tc.BaseBalance, Price: tc.Bid, Reason: reason})
}

func (e *Engine) execute(t *tick, d *models.Decision, cmd models.OrderCommand) bool {
	res, err := e.gateway.Execute(t.ctx, t.tc, cmd)
	e.metrics.ObserveOrder(t.tc.Pair, string(cmd.Kind), string(res.Status))
	d.Commands = append(d.Commands, res.Command)
	d.Status, d.Err = res.Status, err
	return err == nil
}

// protectiveExit checks the take profit, then the stop, against price.
func protectiveExit(st *models.PairState, price float64) (string, bool) {
	if price <= 0 {
		return "", false
	}
	if st.TakeProfitPrice > 0 && price >= st.TakeProfitPrice {
		return "Take Profit", true
	}
	if st.StopPrice > 0 && price < st.StopPrice {
		return "Stop Loss", true
	}
	return "", false
}

// tradeParams returns the parameter set the open trade was entered with,
// falling back to the best ranked set after a restart.
func tradeParams(st *models.PairState) (models.MomentumParams, bool) {
	if st.EntryParams != nil {
		return *st.EntryParams, true
	}
	if len(st.BestParamsMemory) > 0 {
		return st.BestParamsMemory[0].Params, true
	}
	return models.MomentumParams{}, false
}

func notReady(d *models.Decision, bars int) {
	d.Status = models.StatusDataNotReady
	d.Reason = fmt.Sprintf("%d bars available", bars)
	d.Err = ErrDataNotReady
}

// warn logs parameter fallbacks once per engine.
func (e *Engine) warn(log *zap.Logger, scope string, warnings []string) {
	for _, w := range warnings {
		key := scope + "|" + w
		if e.warned[key] {
			continue
		}
		e.warned[key] = true
		log.Warn("策略参数无效，使用默认值", zap.String("param", w))
	}
}

func (e *Engine) logTerminal(log *zap.Logger, d models.Decision) {
	fields := []zap.Field{
		zap.String("status", string(d.Status)),
		zap.String("intent", string(d.Intent)),
		zap.String("reason", d.Reason),
		zap.Int("commands", len(d.Commands)),
	}
	switch {
	case d.Status == models.StatusPanicRecovered || d.Status == models.StatusGatewayFailure:
		log.Error("tick 结束", append(fields, zap.Error(d.Err))...)
	case len(d.Commands) > 0 || (d.Reason != "" && d.Status != models.StatusDataNotReady):
		log.Info("tick 结束", fields...)
	default:
		log.Debug("tick 结束", fields...)
	}
}
