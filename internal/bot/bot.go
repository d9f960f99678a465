// Package bot is the host runtime around the decision engine: it assembles a
// TickContext per pair from an exchange and drives the per-pair state
// managers, either on a wall-clock interval or over a historical replay.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"quant-grid-bot-go/internal/config"
	"quant-grid-bot-go/internal/engine"
	"quant-grid-bot-go/internal/exchange"
	"quant-grid-bot-go/internal/gateway"
	"quant-grid-bot-go/internal/metrics"
	"quant-grid-bot-go/internal/models"
	"quant-grid-bot-go/internal/persistence"
	"quant-grid-bot-go/internal/statemanager"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// filterSource 由能查询交易规则的交易所实现
type filterSource interface {
	SymbolFilters(ctx context.Context, symbol string) (tickSize, stepSize float64, err error)
}

type pairRuntime struct {
	cfg     models.PairConfig
	manager *statemanager.StateManager
	since   int64 // 成交历史的起始时间 (GQ_START_TIME)
}

// Runner 驱动所有交易对的 tick
type Runner struct {
	cfg     *models.Config
	ex      exchange.Exchange
	repo    persistence.StateRepository
	metrics *metrics.Metrics
	logger  *zap.Logger
	RunID   string

	mu      sync.RWMutex
	pairs   []*pairRuntime
	started bool
}

// NewRunner 创建运行器，每个进程或回放生成一个新的运行ID
func NewRunner(cfg *models.Config, ex exchange.Exchange, repo persistence.StateRepository, m *metrics.Metrics, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	return &Runner{
		cfg:     cfg,
		ex:      ex,
		repo:    repo,
		metrics: m,
		logger:  logger.With(zap.String("run", runID)),
		RunID:   runID,
	}
}

// Start 为每个交易对加载持久化状态、构建决策引擎并启动状态管理器
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("运行器已启动")
	}

	gw := gateway.New(r.ex, r.logger)
	for _, pc := range r.cfg.Pairs {
		if pc.TickSize == 0 || pc.StepSize == 0 {
			if fs, ok := r.ex.(filterSource); ok {
				tick, step, err := fs.SymbolFilters(ctx, pc.Symbol)
				if err != nil {
					r.stopLocked()
					return fmt.Errorf("获取交易对 %s 的交易规则失败: %w", pc.Symbol, err)
				}
				if pc.TickSize == 0 {
					pc.TickSize = tick
				}
				if pc.StepSize == 0 {
					pc.StepSize = step
				}
			}
		}

		st, err := statemanager.LoadState(r.repo, r.cfg.ExchangeName, pc.Symbol, r.metrics, r.logger)
		if err != nil {
			r.stopLocked()
			return fmt.Errorf("加载交易对 %s 的状态失败: %w", pc.Symbol, err)
		}

		shared := engine.NewSharedParams()
		config.BindParams(shared, pc.Params)

		eng := engine.New(gw, r.logger, engine.WithMetrics(r.metrics))
		sm := statemanager.NewStateManager(r.cfg.ExchangeName, pc.Symbol, st, r.repo, eng, r.logger)
		sm.Start()
		r.pairs = append(r.pairs, &pairRuntime{cfg: pc, manager: sm, since: shared.StartTime})
		r.logger.Info("交易对已就绪",
			zap.String("pair", pc.Symbol),
			zap.String("strategy", pc.Strategy),
			zap.String("fsm", string(st.FSMState)),
		)
	}
	r.started = true
	return nil
}

// Stop 停止所有状态管理器并保存最终状态
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopLocked()
	r.started = false
}

func (r *Runner) stopLocked() {
	for _, p := range r.pairs {
		p.manager.Stop()
	}
	r.pairs = nil
}

// Managers 返回按交易对排序的状态管理器，供状态接口读取
func (r *Runner) Managers() []*statemanager.StateManager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*statemanager.StateManager, 0, len(r.pairs))
	for _, p := range r.pairs {
		out = append(out, p.manager)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair() < out[j].Pair() })
	return out
}

// BuildTickContext 从交易所读取一个交易对的行情与账户快照
func (r *Runner) BuildTickContext(ctx context.Context, pc models.PairConfig, since int64, now time.Time) (*models.TickContext, error) {
	bid, ask, err := r.ex.GetTicker(ctx, pc.Symbol)
	if err != nil {
		return nil, err
	}
	candles, err := r.ex.GetCandles(ctx, pc.Symbol, r.cfg.CandleInterval, r.cfg.CandleLimit)
	if err != nil {
		return nil, err
	}
	bal, err := r.ex.GetBalances(ctx, pc.Base, pc.Quote)
	if err != nil {
		return nil, err
	}
	open, err := r.ex.GetOpenOrders(ctx, pc.Symbol)
	if err != nil {
		return nil, err
	}
	history, err := r.ex.GetOrderHistory(ctx, pc.Symbol, since)
	if err != nil {
		return nil, err
	}

	tc := &models.TickContext{
		Pair:            pc.Symbol,
		Exchange:        r.cfg.ExchangeName,
		Strategy:        pc.Strategy,
		Candles:         candles,
		Bid:             bid,
		Ask:             ask,
		BaseBalance:     bal.Base,
		QuoteBalance:    bal.Quote,
		GotBag:          bal.TotalBase()*bid > pc.MinVolumeToSell && bal.TotalBase() > 0,
		OpenOrders:      open,
		Orders:          history,
		Params:          pc.Params,
		DryRun:          r.cfg.DryRun,
		BuyEnabled:      pc.BuyEnabled,
		SellEnabled:     pc.SellEnabled,
		MinVolumeToSell: pc.MinVolumeToSell,
		TickSize:        pc.TickSize,
		StepSize:        pc.StepSize,
		Now:             now,
	}
	if be, ok := r.ex.(exchange.BreakEvener); ok {
		tc.BreakEven = be.BreakEven(pc.Symbol)
	}
	return tc, nil
}

// TickOnce 对每个交易对执行一次 tick。单个交易对的失败不影响其他交易对。
func (r *Runner) TickOnce(ctx context.Context, now time.Time) {
	r.mu.RLock()
	pairs := append([]*pairRuntime(nil), r.pairs...)
	r.mu.RUnlock()

	for _, p := range pairs {
		tc, err := r.BuildTickContext(ctx, p.cfg, p.since, now)
		if err != nil {
			r.logger.Warn("构建行情快照失败，跳过本次 tick", zap.String("pair", p.cfg.Symbol), zap.Error(err))
			continue
		}
		if _, err := p.manager.Dispatch(ctx, tc); err != nil {
			r.logger.Warn("tick 未执行", zap.String("pair", p.cfg.Symbol), zap.Error(err))
		}
	}
}

// RunLive 按 tick_interval_sec 周期运行，直到 ctx 结束
func (r *Runner) RunLive(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Stop()

	interval := time.Duration(r.cfg.TickIntervalSec) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	r.logger.Info("实盘循环已启动", zap.Duration("interval", interval), zap.Int("pairs", len(r.cfg.Pairs)), zap.Bool("dryRun", r.cfg.DryRun))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.TickOnce(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("实盘循环已停止")
			return nil
		case now := <-ticker.C:
			r.TickOnce(ctx, now)
		}
	}
}

// RunReplay 将历史K线逐根推入回测交易所，累积 warmup 根后每根K线执行一次 tick
func (r *Runner) RunReplay(ctx context.Context, be *exchange.BacktestExchange, candles models.Candles, warmup int) error {
	if r.ex != exchange.Exchange(be) {
		return errors.New("回放必须使用运行器自身的回测交易所")
	}
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer r.Stop()

	n := candles.Len()
	if warmup >= n {
		return fmt.Errorf("数据不足: 共 %d 根K线, 预热需要 %d 根", n, warmup)
	}
	r.logger.Info("开始回放", zap.Int("bars", n), zap.Int("warmup", warmup))

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var volume float64
		if i < len(candles.Volume) {
			volume = candles.Volume[i]
		}
		be.SetBar(candles.Time[i], candles.Open[i], candles.High[i], candles.Low[i], candles.Close[i], volume)
		if i+1 < warmup {
			continue
		}
		r.TickOnce(ctx, time.UnixMilli(candles.Time[i]))
	}
	r.logger.Info("回放结束", zap.Float64("equity", be.Equity()), zap.Int("trades", len(be.TradeLog)))
	return nil
}
