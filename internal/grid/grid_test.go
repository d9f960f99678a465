package grid

import (
	"math/rand"
	"testing"
	"time"

	"quant-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(maxGrids int) Params {
	p := NewParams()
	p.MaxGrids = maxGrids
	p.SpacingPct = 1
	p.TickSize = 0.01
	return *p
}

func tickContext(now time.Time) *models.TickContext {
	return &models.TickContext{
		Pair:         "BTCUSDT",
		Bid:          100,
		Ask:          100.01,
		QuoteBalance: 1000,
		BuyEnabled:   true,
		SellEnabled:  true,
		Now:          now,
	}
}

func TestQuantizer(t *testing.T) {
	q := NewQuantizer(0.01)
	assert.Equal(t, q.Key(0.1+0.2), q.Key(0.3))
	assert.Equal(t, "98.03", q.Key(98.0296))
	assert.InDelta(t, 98.03, q.Round(98.0296), 1e-12)

	def := NewQuantizer(0)
	assert.Equal(t, "0.00000001", def.Key(DefaultTickSize))
	assert.Equal(t, "99.00990099", def.Key(100/1.01))
}

func TestInitializationScenario(t *testing.T) {
	now := time.Now()
	e := NewEngine(testParams(4), 0)
	st := models.NewPairState()

	plan := e.Tick(tickContext(now), st)
	require.True(t, plan.Initialized)
	assert.Equal(t, models.GridActive, st.GridPhase)
	assert.Equal(t, []float64{96.10, 97.06, 98.03, 99.01}, st.GridBuyLevels)
	assert.Empty(t, st.GridSellLevels)
	assert.Equal(t, 1000.0, st.VirtualCapital)

	require.Len(t, plan.Commands, 1, "one order call per tick")
	cmd := plan.Commands[0]
	assert.Equal(t, models.LimitBuy, cmd.Kind)
	assert.Equal(t, 99.01, cmd.Price)
	assert.InDelta(t, 250.0, cmd.Cost(), 1e-9)
}

func TestInitializationPreconditions(t *testing.T) {
	now := time.Now()
	e := NewEngine(testParams(4), 0)

	holding := tickContext(now)
	holding.GotBag = true
	st := models.NewPairState()
	plan := e.Tick(holding, st)
	assert.Empty(t, plan.Commands)
	assert.Equal(t, models.GridUninitialized, st.GridPhase)

	poor := tickContext(now)
	poor.QuoteBalance = 100
	plan = e.Tick(poor, st)
	assert.True(t, plan.InsufficientFunds)
	assert.Empty(t, plan.Commands)

	noBuys := tickContext(now)
	noBuys.BuyEnabled = false
	plan = e.Tick(noBuys, st)
	assert.Empty(t, plan.Commands)
	assert.Equal(t, models.GridUninitialized, st.GridPhase)
}

func TestTickIsIdempotent(t *testing.T) {
	now := time.Now()
	e := NewEngine(testParams(4), 0)
	st := models.NewPairState()
	tc := tickContext(now)
	e.Tick(tc, st)

	tc.OpenOrders = []models.Order{{ID: "a", Side: models.Buy, Price: 99.01, Amount: 2.5}}
	before := st.Clone()
	first := e.Tick(tc, st)
	second := e.Tick(tc, st)
	assert.Equal(t, before, st)
	assert.Equal(t, first.Commands, second.Commands)
	require.Len(t, first.Commands, 1)
	assert.Equal(t, 98.03, first.Commands[0].Price, "next missing level, never a duplicate")
}

func TestBuyFillCreatesSellOneSpacingAbove(t *testing.T) {
	now := time.Now()
	e := NewEngine(testParams(4), 0)
	st := models.NewPairState()
	tc := tickContext(now)
	e.Tick(tc, st)

	tc.BaseBalance = 2.5
	tc.QuoteBalance = 250
	tc.OpenOrders = []models.Order{
		{ID: "b", Side: models.Buy, Price: 98.03},
		{ID: "c", Side: models.Buy, Price: 97.06},
		{ID: "d", Side: models.Buy, Price: 96.10},
	}
	tc.Orders = []models.Order{{ID: "a", Side: models.Buy, Price: 99.01, Amount: 2.525, Timestamp: now.UnixMilli() + 1000}}

	plan := e.Tick(tc, st)
	assert.Equal(t, 1, plan.Fills)
	assert.Equal(t, []float64{96.10, 97.06, 98.03}, st.GridBuyLevels)
	assert.Equal(t, []float64{100.00}, st.GridSellLevels)
	assert.Equal(t, now.UnixMilli()+1001, st.GridLastCheck)

	require.Len(t, plan.Commands, 1)
	assert.Equal(t, models.LimitSell, plan.Commands[0].Kind)
	assert.Equal(t, 100.0, plan.Commands[0].Price)
	assert.InDelta(t, 2.5, plan.Commands[0].Amount, 1e-12, "capped at available base")

	// the same fill is not applied twice
	again := e.Tick(tc, st)
	assert.Zero(t, again.Fills)
}

func TestSellFillCompoundsVirtualCapital(t *testing.T) {
	now := time.Now()
	e := NewEngine(testParams(4), 0)
	st := models.NewPairState()
	st.GridPhase = models.GridActive
	st.VirtualCapital = 1000
	st.GridBuyLevels = []float64{96.10, 97.06, 98.03}
	st.GridSellLevels = []float64{100.00}
	st.GridLastCheck = now.UnixMilli()

	tc := tickContext(now)
	tc.Orders = []models.Order{{Side: models.Sell, Price: 100, Amount: 2.5, Timestamp: now.UnixMilli()}}
	plan := e.Tick(tc, st)

	assert.Equal(t, 1, plan.Fills)
	assert.Empty(t, st.GridSellLevels)
	assert.Equal(t, []float64{96.10, 97.06, 98.03, 99.01}, st.GridBuyLevels)
	assert.InDelta(t, 1000+2.5*(100-100/1.01), st.VirtualCapital, 1e-9)
}

func TestStaleOrdersAreCancelledFirst(t *testing.T) {
	now := time.Now()
	p := testParams(4)
	p.MaxOrdersPerTick = 3
	e := NewEngine(p, 0)
	st := models.NewPairState()
	tc := tickContext(now)
	e.Tick(tc, st)

	tc.OpenOrders = []models.Order{
		{ID: "stale", Side: models.Buy, Price: 90},
		{ID: "dup1", Side: models.Buy, Price: 99.01},
		{ID: "dup2", Side: models.Buy, Price: 99.01},
	}
	plan := e.Tick(tc, st)
	require.Len(t, plan.Commands, 3)
	assert.Equal(t, models.Cancel, plan.Commands[0].Kind)
	assert.Equal(t, "stale", plan.Commands[0].OrderID)
	assert.Equal(t, models.Cancel, plan.Commands[1].Kind)
	assert.Equal(t, "dup2", plan.Commands[1].OrderID)
	assert.Equal(t, models.LimitBuy, plan.Commands[2].Kind)
	assert.Equal(t, 98.03, plan.Commands[2].Price)
}

func TestLadderStaysBoundedUnderRandomFills(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, maxGrids := range []int{2, 4, 9} {
		now := time.Now()
		e := NewEngine(testParams(maxGrids), 0)
		st := models.NewPairState()
		tc := tickContext(now)
		e.Tick(tc, st)

		ts := now.UnixMilli()
		for step := 0; step < 300; step++ {
			ts += 1000
			levels := append(append([]float64(nil), st.GridBuyLevels...), st.GridSellLevels...)
			require.NotEmpty(t, levels)
			pick := rng.Intn(len(levels))
			side := models.Buy
			if pick >= len(st.GridBuyLevels) {
				side = models.Sell
			}
			tc.Orders = []models.Order{{Side: side, Price: levels[pick], Amount: rng.Float64() * 3, Timestamp: ts}}
			buys, sells := len(st.GridBuyLevels), len(st.GridSellLevels)

			plan := e.Tick(tc, st)
			require.Equal(t, 1, plan.Fills)
			assert.LessOrEqual(t, len(st.GridBuyLevels)+len(st.GridSellLevels), maxGrids)
			assert.GreaterOrEqual(t, st.VirtualCapital, 0.0)
			if side == models.Buy {
				assert.LessOrEqual(t, len(st.GridSellLevels), sells+1)
				assert.Equal(t, buys-1, len(st.GridBuyLevels))
			} else {
				assert.LessOrEqual(t, len(st.GridBuyLevels), buys+1)
				assert.Equal(t, sells-1, len(st.GridSellLevels))
			}
		}
	}
}

func TestPartialFillKeepsLevelUntilOrderCompletes(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	e := NewEngine(testParams(4), 0)
	st := models.NewPairState()
	tc := tickContext(now)
	e.Tick(tc, st)

	// o1 只成交了一半，剩余部分仍在挂单；z 已完全成交
	tc.BaseBalance = 2.5
	tc.OpenOrders = []models.Order{
		{ID: "o1", Side: models.Buy, Price: 99.01, Amount: 1.2625},
		{ID: "c", Side: models.Buy, Price: 97.06},
		{ID: "d", Side: models.Buy, Price: 96.10},
	}
	tc.Orders = []models.Order{
		{ID: "o1", Side: models.Buy, Price: 99.01, Amount: 1.2625, Timestamp: ts + 1000},
		{ID: "z", Side: models.Buy, Price: 98.03, Amount: 2.55, Timestamp: ts + 1500},
	}
	plan := e.Tick(tc, st)
	assert.Equal(t, 1, plan.Fills, "only the completed order moves its level")
	for _, c := range plan.Commands {
		assert.NotEqual(t, models.Cancel, c.Kind, "the partially filled remainder stays on the book")
	}
	assert.Equal(t, []float64{96.10, 97.06, 99.01}, st.GridBuyLevels)
	assert.Equal(t, []float64{99.01}, st.GridSellLevels)
	assert.Equal(t, ts+1000, st.GridLastCheck, "check held at the open order's first trade")
	assert.Equal(t, []string{"z"}, st.GridAppliedOrders)

	before := st.Clone()
	again := e.Tick(tc, st)
	assert.Zero(t, again.Fills)
	assert.Equal(t, before, st)

	// 剩余部分成交，挂单消失
	tc.OpenOrders = []models.Order{
		{ID: "s1", Side: models.Sell, Price: 99.01},
		{ID: "c", Side: models.Buy, Price: 97.06},
		{ID: "d", Side: models.Buy, Price: 96.10},
	}
	tc.Orders = append(tc.Orders, models.Order{ID: "o1", Side: models.Buy, Price: 99.01, Amount: 1.2625, Timestamp: ts + 2000})
	plan = e.Tick(tc, st)
	assert.Equal(t, 1, plan.Fills, "z is not applied twice")
	assert.Equal(t, []float64{96.10, 97.06}, st.GridBuyLevels)
	assert.Equal(t, []float64{99.01, 100.00}, st.GridSellLevels)
	assert.Equal(t, ts+2001, st.GridLastCheck)
	assert.Empty(t, st.GridAppliedOrders)

	plan = e.Tick(tc, st)
	assert.Zero(t, plan.Fills)
}

func TestPartialSellFillCompoundsSummedAmount(t *testing.T) {
	now := time.Now()
	ts := now.UnixMilli()
	e := NewEngine(testParams(4), 0)
	st := models.NewPairState()
	st.GridPhase = models.GridActive
	st.VirtualCapital = 1000
	st.GridBuyLevels = []float64{96.10, 97.06, 98.03}
	st.GridSellLevels = []float64{100.00}
	st.GridLastCheck = ts

	tc := tickContext(now)
	tc.Orders = []models.Order{
		{ID: "s", Side: models.Sell, Price: 100, Amount: 1, Timestamp: ts},
		{ID: "s", Side: models.Sell, Price: 100, Amount: 1.5, Timestamp: ts + 10},
	}
	plan := e.Tick(tc, st)
	assert.Equal(t, 1, plan.Fills)
	assert.InDelta(t, 1000+2.5*(100-100/1.01), st.VirtualCapital, 1e-9)
}

func TestOversizedLadderIsTrimmedWithoutFills(t *testing.T) {
	now := time.Now()
	p := testParams(4)
	p.MaxOrdersPerTick = 5
	e := NewEngine(p, 0)

	st := models.NewPairState()
	st.GridPhase = models.GridActive
	st.VirtualCapital = 1000
	st.GridBuyLevels = []float64{94.20, 95.15, 96.10, 97.06, 98.03, 99.01}
	st.GridLastCheck = now.UnixMilli()
	plan := e.Tick(tickContext(now), st)
	assert.Zero(t, plan.Fills)
	assert.Equal(t, []float64{96.10, 97.06, 98.03, 99.01}, st.GridBuyLevels)

	st.GridBuyLevels = []float64{97.06, 98.03, 99.01}
	st.GridSellLevels = []float64{100.00, 101.00, 102.01}
	tc := tickContext(now)
	tc.OpenOrders = []models.Order{{ID: "far", Side: models.Buy, Price: 97.06}}
	plan = e.Tick(tc, st)
	assert.Equal(t, []float64{98.03, 99.01}, st.GridBuyLevels)
	assert.Equal(t, []float64{100.00, 101.00}, st.GridSellLevels)
	require.NotEmpty(t, plan.Commands)
	assert.Equal(t, models.Cancel, plan.Commands[0].Kind)
	assert.Equal(t, "far", plan.Commands[0].OrderID)

	before := st.Clone()
	e.Tick(tc, st)
	assert.Equal(t, before, st)
}
