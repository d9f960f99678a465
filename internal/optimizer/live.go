package optimizer

import (
	"fmt"
	"math/rand"
	"time"

	"quant-grid-bot-go/internal/indicator"
	"quant-grid-bot-go/internal/models"
)

// Strategy trades the ranked parameter memory on live bars.
type Strategy struct {
	params Params
	grid   []models.MomentumParams
	rng    *rand.Rand
}

// NewStrategy builds the live rules. A nil rng is seeded from the clock.
func NewStrategy(p Params, rng *rand.Rand) *Strategy {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Strategy{params: p, grid: Grid(p), rng: rng}
}

// Params returns the bound settings.
func (s *Strategy) Params() Params { return s.params }

// MinBars is the shortest history on which the slowest candidate is defined.
func (s *Strategy) MinBars() int {
	m := 0
	for _, v := range append(append([]int(nil), s.params.SlowPeriods...), s.params.FastPeriods...) {
		if v > m {
			m = v
		}
	}
	return m + 1
}

// Due reports whether an optimization should run at barIndex. A stored index
// ahead of the current one (clock or feed reset) also counts as due.
func (s *Strategy) Due(st *models.PairState, barIndex int64) bool {
	if st.LastOptimizationBarIndex == 0 && len(st.BestParamsMemory) == 0 {
		return true
	}
	elapsed := barIndex - st.LastOptimizationBarIndex
	return elapsed < 0 || elapsed >= int64(s.params.ReoptimizeEvery)
}

// Optimize runs the grid search on series.
func (s *Strategy) Optimize(series *Series) Result {
	return Optimize(series, s.params)
}

// Entry scans memory in rank order and adopts the first set whose fast/slow
// SMAs cross up on the latest bar. When none does, a random grid cell is
// tried with probability ExplorationRate.
func (s *Strategy) Entry(series *Series, memory []models.ScoredParams) (models.MomentumParams, string, bool) {
	i := len(series.Close) - 1
	for _, sp := range memory {
		fast, slow := series.SMA(sp.Params.FastPeriod), series.SMA(sp.Params.SlowPeriod)
		if goldenCross(fast, slow, i) {
			return sp.Params, fmt.Sprintf("golden cross SMA %d/%d (score %.2f)", sp.Params.FastPeriod, sp.Params.SlowPeriod, sp.Score), true
		}
	}
	if len(s.grid) > 0 && s.params.ExplorationRate > 0 && s.rng.Float64() < s.params.ExplorationRate {
		p := s.grid[s.rng.Intn(len(s.grid))]
		return p, fmt.Sprintf("exploration SMA %d/%d", p.FastPeriod, p.SlowPeriod), true
	}
	return models.MomentumParams{}, "", false
}

// InitialStop places the stop ATRMult volatility units below price. It fails
// while the volatility is undefined or zero.
func (s *Strategy) InitialStop(series *Series, p models.MomentumParams, price float64) (float64, bool) {
	vol := last(series.Volatility(p.ATRPeriod))
	if !indicator.Valid(vol) {
		return 0, false
	}
	stop := price - vol*p.ATRMult
	return stop, stop < price
}

// Trail raises the stop to price - vol*mult once price is more than
// vol*mult*TrailTriggerMult above entry. The stop never moves down.
func (s *Strategy) Trail(series *Series, p models.MomentumParams, entry, price, stop float64) (float64, bool) {
	vol := last(series.Volatility(p.ATRPeriod))
	if !indicator.Valid(vol) || entry <= 0 {
		return stop, false
	}
	distance := vol * p.ATRMult
	if price-entry <= distance*s.params.TrailTriggerMult {
		return stop, false
	}
	if next := price - distance; next > stop {
		return next, true
	}
	return stop, false
}

// Exit checks the bearish cross of the trade's own parameter set first, then the stop.
func (s *Strategy) Exit(series *Series, p models.MomentumParams, price, stop float64) (string, bool) {
	i := len(series.Close) - 1
	if p.FastPeriod > 0 && p.SlowPeriod > 0 && i >= 1 {
		fast, slow := series.SMA(p.FastPeriod), series.SMA(p.SlowPeriod)
		if deathCross(fast, slow, i) {
			return "Signal Cross", true
		}
	}
	if stop > 0 && price < stop {
		return "Stop Loss", true
	}
	return "", false
}

func last(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	return x[len(x)-1]
}
