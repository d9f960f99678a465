// Package optimizer implements the walk-forward momentum optimizer: a grid
// search over moving-average cross parameters scored by an inline replay of
// recent bars, plus the live entry/exit rules that trade the ranked results.
package optimizer

import (
	"math"
	"sort"

	"quant-grid-bot-go/internal/indicator"
	"quant-grid-bot-go/internal/models"
)

// Params are the optimizer settings.
type Params struct {
	Lookback            int       `json:"GQ_DMO_LOOKBACK" jsonschema:"title=Optimization Lookback,description=Bars replayed per optimization.,default=500,minimum=50,maximum=5000"`
	ReoptimizeEvery     int       `json:"GQ_DMO_REOPTIMIZE_EVERY" jsonschema:"title=Re-optimize Every,description=Bars between optimizations.,default=168,minimum=1,maximum=5000"`
	FastPeriods         []int     `json:"GQ_DMO_FAST_MA_PERIODS" jsonschema:"title=Fast MA Periods,description=Candidate fast SMA periods.,minimum=2,maximum=1000"`
	SlowPeriods         []int     `json:"GQ_DMO_SLOW_MA_PERIODS" jsonschema:"title=Slow MA Periods,description=Candidate slow SMA periods.,minimum=2,maximum=1000"`
	ATRPeriods          []int     `json:"GQ_DMO_ATR_PERIODS" jsonschema:"title=Volatility Periods,description=Candidate volatility (std-dev) periods.,minimum=2,maximum=1000"`
	ATRMultipliers      []float64 `json:"GQ_DMO_ATR_MULTIPLIERS" jsonschema:"title=Volatility Multipliers,description=Candidate stop multipliers.,minimum=0.1,maximum=20"`
	TopParamMemory      int       `json:"GQ_DMO_TOP_PARAM_MEMORY" jsonschema:"title=Top Param Memory,description=Ranked parameter sets kept.,default=25,minimum=1,maximum=1000"`
	ConfidenceThreshold float64   `json:"GQ_DMO_CONFIDENCE_THRESHOLD" jsonschema:"title=Confidence Threshold,description=Minimum profit factor kept in memory.,default=3,minimum=0,maximum=1000000"`
	ExplorationRate     float64   `json:"GQ_DMO_EXPLORATION_RATE" jsonschema:"title=Exploration Rate,description=Chance of trying a random parameter set when nothing crosses.,default=0.01,minimum=0,maximum=1"`
	TrailTriggerMult    float64   `json:"GQ_DMO_TRAIL_TRIGGER_MULT" jsonschema:"title=Trail Trigger Multiplier,description=Profit in stop distances before the stop trails.,default=1,minimum=0,maximum=20"`
	ReplayStops         bool      `json:"GQ_DMO_REPLAY_STOPS" jsonschema:"title=Replay Stops,description=Apply the trailing stop inside the scoring replay.,default=false"`
}

// NewParams returns the documented defaults.
func NewParams() *Params {
	return &Params{
		Lookback:            500,
		ReoptimizeEvery:     168,
		FastPeriods:         intRange(10, 80, 4),
		SlowPeriods:         intRange(90, 300, 10),
		ATRPeriods:          intRange(10, 60, 5),
		ATRMultipliers:      []float64{1.0, 1.5, 2.0, 2.5, 3.0, 3.5, 4.0, 4.5, 5.0, 5.5},
		TopParamMemory:      25,
		ConfidenceThreshold: 3.0,
		ExplorationRate:     0.01,
		TrailTriggerMult:    1.0,
	}
}

// intRange returns start, start+step, ... below stop.
func intRange(start, stop, step int) []int {
	var out []int
	for v := start; v < stop; v += step {
		out = append(out, v)
	}
	return out
}

// Grid is the cartesian product of the candidate lists without fast >= slow cells.
func Grid(p Params) []models.MomentumParams {
	var grid []models.MomentumParams
	for _, fast := range p.FastPeriods {
		for _, slow := range p.SlowPeriods {
			if fast >= slow {
				continue
			}
			for _, vol := range p.ATRPeriods {
				for _, mult := range p.ATRMultipliers {
					grid = append(grid, models.MomentumParams{FastPeriod: fast, SlowPeriod: slow, ATRPeriod: vol, ATRMult: mult})
				}
			}
		}
	}
	return grid
}

// Series memoizes the SMA and std-dev lines of one close sequence so that
// every grid cell and the live rules share a single computation per period.
type Series struct {
	Close []float64
	sma   map[int][]float64
	std   map[int][]float64
	slope map[int][]float64
}

// NewSeries wraps close.
func NewSeries(close []float64) *Series {
	return &Series{Close: close, sma: map[int][]float64{}, std: map[int][]float64{}, slope: map[int][]float64{}}
}

// SMA returns the memoized SMA(period).
func (s *Series) SMA(period int) []float64 {
	if v, ok := s.sma[period]; ok {
		return v
	}
	v := indicator.SMA(s.Close, period)
	s.sma[period] = v
	return v
}

// Slope returns the memoized regression slope of SMA(period), taken over the
// last period values of that SMA.
func (s *Series) Slope(period int) []float64 {
	if v, ok := s.slope[period]; ok {
		return v
	}
	v := indicator.Slope(s.SMA(period), period)
	s.slope[period] = v
	return v
}

// Volatility returns the memoized population std-dev(period), the volatility
// measure behind the optimizer's stop distance.
func (s *Series) Volatility(period int) []float64 {
	if v, ok := s.std[period]; ok {
		return v
	}
	v := indicator.StdDev(s.Close, period)
	s.std[period] = v
	return v
}

// Result is the outcome of one optimization.
type Result struct {
	Memory    []models.ScoredParams
	Evaluated int
	Best      models.ScoredParams
	Fallback  bool
}

// Optimize replays every grid cell over the last p.Lookback bars and ranks
// the cells by score.
func Optimize(s *Series, p Params) Result {
	grid := Grid(p)
	end := len(s.Close)
	start := end - p.Lookback
	if start < 0 {
		start = 0
	}

	// without stops a cell's score depends on its fast/slow pair only
	pairScores := map[[2]int]float64{}
	scored := make([]models.ScoredParams, len(grid))
	for k, cell := range grid {
		pair := [2]int{cell.FastPeriod, cell.SlowPeriod}
		v, ok := pairScores[pair]
		if !ok || p.ReplayStops {
			v = replay(s, cell, start, end, p.TrailTriggerMult, p.ReplayStops)
			pairScores[pair] = v
		}
		scored[k] = models.ScoredParams{Params: cell, Score: v}
	}
	return rank(scored, p)
}

func rank(scored []models.ScoredParams, p Params) Result {
	res := Result{Evaluated: len(scored)}
	if len(scored) == 0 {
		return res
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	res.Best = scored[0]

	for _, sp := range scored {
		if sp.Score < p.ConfidenceThreshold {
			break
		}
		res.Memory = append(res.Memory, sp)
		if len(res.Memory) >= p.TopParamMemory {
			break
		}
	}
	if len(res.Memory) == 0 && res.Best.Score > 0 {
		res.Memory = []models.ScoredParams{res.Best}
		res.Fallback = true
	}
	return res
}

// replay runs a single-position backtest on moving-average crosses and
// returns the profit factor of the closed trades: grossProfit/grossLoss, or
// grossProfit*1000 without losses, or 0 without profits. With stops enabled
// the volatility stop and its trailing rule also close trades.
func replay(s *Series, cell models.MomentumParams, start, end int, trailTrigger float64, stops bool) float64 {
	fast := s.SMA(cell.FastPeriod)
	slow := s.SMA(cell.SlowPeriod)
	var vol []float64
	if stops {
		vol = s.Volatility(cell.ATRPeriod)
	}

	var grossProfit, grossLoss, entry, stop float64
	inPos := false
	for i := start + 1; i < end; i++ {
		if !indicator.Valid(fast[i], slow[i]) {
			continue
		}
		if stops && !indicator.Valid(vol[i]) {
			continue
		}
		price := s.Close[i]
		switch {
		case !inPos && goldenCross(fast, slow, i):
			inPos, entry = true, price
			if stops {
				stop = entry - vol[i]*cell.ATRMult
			}
		case inPos:
			exit := deathCross(fast, slow, i)
			if stops {
				distance := vol[i] * cell.ATRMult
				if price-entry > distance*trailTrigger {
					stop = math.Max(stop, price-distance)
				}
				exit = exit || price < stop
			}
			if exit {
				pnl := (price - entry) / entry
				if pnl > 0 {
					grossProfit += pnl
				} else {
					grossLoss -= pnl
				}
				inPos = false
			}
		}
	}
	return score(grossProfit, grossLoss)
}

func score(grossProfit, grossLoss float64) float64 {
	switch {
	case grossLoss > 0:
		return grossProfit / grossLoss
	case grossProfit > 0:
		return grossProfit * 1000
	default:
		return 0
	}
}

// goldenCross and deathCross share the indicator package's cross rule, so the
// optimizer replays the same signals the directional variants trade.
func goldenCross(fast, slow []float64, i int) bool { return indicator.CrossOver(fast, slow, i) }

func deathCross(fast, slow []float64, i int) bool { return indicator.CrossUnder(fast, slow, i) }
