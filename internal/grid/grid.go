// Package grid maintains a self-balancing ladder of resting limit orders with
// per-pair compounding virtual capital.
package grid

import (
	"fmt"
	"math"
	"sort"

	"quant-grid-bot-go/internal/models"
)

// Params are the grid variant settings.
type Params struct {
	InitialCapital   float64 `json:"INITIAL_CAPITAL" jsonschema:"title=Initial Capital,description=Capital allocated to this pair's grid.,default=1000,minimum=10,maximum=100000"`
	MaxGrids         int     `json:"GQ_GRID_MAX_GRIDS" jsonschema:"title=Max Active Grids,description=Total number of active buy/sell limit orders.,default=20,minimum=2,maximum=100"`
	SpacingPct       float64 `json:"GQ_GRID_GRID_SPACING_PCT" jsonschema:"title=Grid Spacing (%),description=Spacing between grid levels as a percentage.,default=1,minimum=0.1,maximum=10"`
	TickSize         float64 `json:"GQ_GRID_TICK_SIZE" jsonschema:"title=Tick Size,description=Price quantization step; 0 uses the pair tick size.,default=0,minimum=0,maximum=1000"`
	MaxOrdersPerTick int     `json:"GQ_GRID_MAX_ORDERS_PER_TICK" jsonschema:"title=Max Orders Per Tick,description=Order calls (cancels first) issued per tick.,default=1,minimum=1,maximum=100"`
}

// NewParams returns the documented defaults.
func NewParams() *Params {
	return &Params{InitialCapital: 1000, MaxGrids: 20, SpacingPct: 1.0, MaxOrdersPerTick: 1}
}

// Plan is the outcome of one grid tick.
type Plan struct {
	Commands          []models.OrderCommand
	Notes             []string
	Initialized       bool
	Fills             int
	InsufficientFunds bool
}

// Engine reconciles the ladder stored in PairState against the exchange.
type Engine struct {
	params Params
	factor float64
	quant  Quantizer
}

// NewEngine builds an engine; pairTick is used when params carry no tick size.
func NewEngine(p Params, pairTick float64) *Engine {
	tick := p.TickSize
	if tick <= 0 {
		tick = pairTick
	}
	return &Engine{params: p, factor: 1 + p.SpacingPct/100, quant: NewQuantizer(tick)}
}

// Tick initializes the ladder once, applies fills observed since the last
// check and diffs intended levels against open orders. Running it again with
// unchanged inputs yields the same commands and leaves st unchanged.
func (e *Engine) Tick(tc *models.TickContext, st *models.PairState) Plan {
	var plan Plan
	if st.GridPhase != models.GridActive {
		if !e.initialize(tc, st, &plan) {
			return plan
		}
	}

	buys := e.newLevelSet(st.GridBuyLevels)
	sells := e.newLevelSet(st.GridSellLevels)
	e.applyFills(tc, st, buys, sells, &plan)
	e.trim(buys, sells, &plan)
	st.GridBuyLevels = buys.sorted()
	st.GridSellLevels = sells.sorted()

	e.diff(tc, st, buys, sells, &plan)
	return plan
}

func (e *Engine) initialize(tc *models.TickContext, st *models.PairState, plan *Plan) bool {
	perLevel := e.params.InitialCapital / float64(e.params.MaxGrids)
	switch {
	case !tc.BuyEnabled:
		plan.Notes = append(plan.Notes, "grid waiting: buys disabled")
		return false
	case tc.HasHoldings():
		plan.Notes = append(plan.Notes, "grid waiting: existing holdings")
		return false
	case tc.Bid <= 0:
		plan.Notes = append(plan.Notes, "grid waiting: no bid")
		return false
	case tc.QuoteBalance < perLevel:
		plan.InsufficientFunds = true
		plan.Notes = append(plan.Notes, fmt.Sprintf("grid waiting: quote %.8f below one level %.8f", tc.QuoteBalance, perLevel))
		return false
	}

	st.VirtualCapital = e.params.InitialCapital
	st.GridBuyLevels = InitialLevels(tc.Bid, e.params.MaxGrids, e.params.SpacingPct, e.quant)
	st.GridSellLevels = nil
	st.GridLastCheck = tc.Now.UnixMilli()
	st.GridPhase = models.GridActive
	plan.Initialized = true
	plan.Notes = append(plan.Notes, fmt.Sprintf("grid anchored at %.8f with %d buy levels", tc.Bid, len(st.GridBuyLevels)))
	return true
}

// InitialLevels returns maxGrids buy levels geometrically below anchor, nearest first.
func InitialLevels(anchor float64, maxGrids int, spacingPct float64, q Quantizer) []float64 {
	factor := 1 + spacingPct/100
	levels := make([]float64, 0, maxGrids)
	for n := 1; n <= maxGrids; n++ {
		levels = append(levels, q.Round(anchor/math.Pow(factor, float64(n))))
	}
	return levels
}

// fill is one exchange order's trades since the last check, summed.
type fill struct {
	id     string
	side   models.Side
	price  float64
	amount float64
	first  int64
	last   int64
}

// applyFills moves levels for orders that finished filling since the last
// check. Trades are grouped by order id; an order that is still open is only
// partially filled, so its level stays put and the check is held at its first
// trade until the remainder fills or goes away.
func (e *Engine) applyFills(tc *models.TickContext, st *models.PairState, buys, sells levelSet, plan *Plan) {
	var fills []*fill
	byID := make(map[string]*fill)
	for _, o := range tc.Orders {
		if o.Timestamp < st.GridLastCheck || (o.Side != models.Buy && o.Side != models.Sell) {
			continue
		}
		id := o.ID
		if id == "" {
			id = fmt.Sprintf("%s:%d:%s", o.Side, o.Timestamp, e.quant.Key(o.Price))
		}
		f, ok := byID[id]
		if !ok {
			f = &fill{id: id, side: o.Side, price: o.Price, first: o.Timestamp, last: o.Timestamp}
			byID[id] = f
			fills = append(fills, f)
		}
		f.amount += o.Amount
		f.first = min(f.first, o.Timestamp)
		f.last = max(f.last, o.Timestamp)
	}
	if len(fills) == 0 {
		return
	}
	sort.SliceStable(fills, func(i, j int) bool { return fills[i].last < fills[j].last })

	open := make(map[string]bool, len(tc.OpenOrders))
	for _, o := range tc.OpenOrders {
		if o.ID != "" {
			open[o.ID] = true
		}
	}
	applied := make(map[string]bool, len(st.GridAppliedOrders))
	for _, id := range st.GridAppliedOrders {
		applied[id] = true
	}

	var (
		seen     []string
		held     = int64(math.MaxInt64)
		deferred bool
		newest   int64
	)
	for _, f := range fills {
		newest = max(newest, f.last)
		if open[f.id] {
			deferred = true
			held = min(held, f.first)
			continue
		}
		seen = append(seen, f.id)
		if applied[f.id] {
			continue
		}
		e.applyFill(f, st, buys, sells, plan)
	}

	if deferred {
		st.GridLastCheck = held
		st.GridAppliedOrders = seen
		plan.Notes = append(plan.Notes, "grid waiting on partially filled orders")
		return
	}
	st.GridLastCheck = newest + 1
	st.GridAppliedOrders = nil
}

func (e *Engine) applyFill(f *fill, st *models.PairState, buys, sells levelSet, plan *Plan) {
	level := e.quant.Round(f.price)
	switch f.side {
	case models.Buy:
		if !buys.remove(e.quant.Key(level)) {
			return
		}
		sells.add(e.quant, level*e.factor)
		if buys.len()+sells.len() > e.params.MaxGrids {
			sells.removeLowest()
		}
	case models.Sell:
		if !sells.remove(e.quant.Key(level)) {
			return
		}
		if f.amount > 0 {
			st.VirtualCapital += f.amount * (level - level/e.factor)
		}
		buys.add(e.quant, level/e.factor)
		if buys.len()+sells.len() > e.params.MaxGrids {
			buys.removeHighest()
		}
	default:
		return
	}
	plan.Fills++
	plan.Notes = append(plan.Notes, fmt.Sprintf("grid %s filled at %s", f.side, e.quant.Key(level)))
}

// trim drops the farthest levels of the longer side until the ladder fits
// MaxGrids. A persisted ladder can exceed it after MaxGrids was lowered.
func (e *Engine) trim(buys, sells levelSet, plan *Plan) {
	n := 0
	for e.params.MaxGrids > 0 && buys.len()+sells.len() > e.params.MaxGrids {
		if buys.len() >= sells.len() {
			buys.removeLowest()
		} else {
			sells.removeHighest()
		}
		n++
	}
	if n > 0 {
		plan.Notes = append(plan.Notes, fmt.Sprintf("grid trimmed %d levels above max grids %d", n, e.params.MaxGrids))
	}
}

func (e *Engine) diff(tc *models.TickContext, st *models.PairState, buys, sells levelSet, plan *Plan) {
	open := map[models.Side]map[string]bool{models.Buy: {}, models.Sell: {}}
	var cancels []models.OrderCommand
	for _, o := range tc.OpenOrders {
		key := e.quant.Key(o.Price)
		intended := (o.Side == models.Buy && buys.has(key)) || (o.Side == models.Sell && sells.has(key))
		if !intended || open[o.Side][key] {
			cancels = append(cancels, models.OrderCommand{
				Kind: models.Cancel, OrderID: o.ID, Price: o.Price, Amount: o.Amount,
				Reason: fmt.Sprintf("grid level %s no longer intended", key),
			})
			continue
		}
		open[o.Side][key] = true
	}

	budget := e.params.MaxOrdersPerTick
	if budget <= 0 {
		budget = 1
	}
	for _, c := range cancels {
		if len(plan.Commands) >= budget {
			return
		}
		plan.Commands = append(plan.Commands, c)
	}

	perLevel := st.VirtualCapital / float64(e.params.MaxGrids)
	quote, base := tc.QuoteBalance, tc.BaseBalance

	// take-profit sells first, then buys; nearest levels first on each side
	for _, level := range sells.sorted() {
		if open[models.Sell][e.quant.Key(level)] {
			continue
		}
		if !tc.SellEnabled {
			plan.Notes = append(plan.Notes, "grid sells disabled")
			break
		}
		if len(plan.Commands) >= budget {
			return
		}
		amount := math.Min(perLevel/(level/e.factor), base)
		if amount <= 0 {
			plan.InsufficientFunds = true
			plan.Notes = append(plan.Notes, fmt.Sprintf("grid sell at %s skipped: no base balance", e.quant.Key(level)))
			break
		}
		base -= amount
		plan.Commands = append(plan.Commands, models.OrderCommand{
			Kind: models.LimitSell, Price: level, Amount: amount,
			Reason: "grid sell level " + e.quant.Key(level),
		})
	}

	buyLevels := buys.sorted()
	for i := len(buyLevels) - 1; i >= 0; i-- {
		level := buyLevels[i]
		if open[models.Buy][e.quant.Key(level)] {
			continue
		}
		if !tc.BuyEnabled {
			plan.Notes = append(plan.Notes, "grid buys disabled")
			return
		}
		if len(plan.Commands) >= budget {
			return
		}
		if perLevel <= 0 || quote < perLevel {
			plan.InsufficientFunds = true
			plan.Notes = append(plan.Notes, fmt.Sprintf("grid buy at %s skipped: quote %.8f < %.8f", e.quant.Key(level), quote, perLevel))
			return
		}
		quote -= perLevel
		plan.Commands = append(plan.Commands, models.OrderCommand{
			Kind: models.LimitBuy, Price: level, Amount: perLevel / level,
			Reason: "grid buy level " + e.quant.Key(level),
		})
	}
}

// Diagnostics summarizes the ladder for display.
func Diagnostics(st *models.PairState) []models.Diagnostic {
	d := []models.Diagnostic{
		{Label: "Grid", Value: string(st.GridPhase), Tooltip: "ladder phase"},
		{Label: "Virtual capital", Value: fmt.Sprintf("%.2f", st.VirtualCapital), Tooltip: "compounded per-pair capital"},
		{Label: "Levels", Value: fmt.Sprintf("%d buy / %d sell", len(st.GridBuyLevels), len(st.GridSellLevels)), Tooltip: "intended resting orders"},
	}
	if n := len(st.GridBuyLevels); n > 0 {
		d = append(d, models.Diagnostic{Label: "Next buy", Value: fmt.Sprintf("%.8g", st.GridBuyLevels[n-1]), Tooltip: "highest buy level"})
	}
	if len(st.GridSellLevels) > 0 {
		d = append(d, models.Diagnostic{Label: "Next sell", Value: fmt.Sprintf("%.8g", st.GridSellLevels[0]), Tooltip: "lowest sell level", Color: "green"})
	}
	return d
}

// levelSet is a set of quantized prices keyed by their canonical string.
type levelSet map[string]float64

func (e *Engine) newLevelSet(levels []float64) levelSet {
	s := make(levelSet, len(levels))
	for _, l := range levels {
		if l > 0 && !math.IsNaN(l) && !math.IsInf(l, 0) {
			s.add(e.quant, l)
		}
	}
	return s
}

func (s levelSet) add(q Quantizer, price float64) {
	s[q.Key(price)] = q.Round(price)
}

func (s levelSet) has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s levelSet) remove(key string) bool {
	if !s.has(key) {
		return false
	}
	delete(s, key)
	return true
}

func (s levelSet) len() int { return len(s) }

// sorted returns the prices ascending.
func (s levelSet) sorted() []float64 {
	if len(s) == 0 {
		return nil
	}
	out := make([]float64, 0, len(s))
	for _, p := range s {
		out = append(out, p)
	}
	sort.Float64s(out)
	return out
}

func (s levelSet) removeLowest() {
	var key string
	low := math.Inf(1)
	for k, p := range s {
		if p < low {
			key, low = k, p
		}
	}
	delete(s, key)
}

func (s levelSet) removeHighest() {
	var key string
	high := math.Inf(-1)
	for k, p := range s {
		if p > high {
			key, high = k, p
		}
	}
	delete(s, key)
}
