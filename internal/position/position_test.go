package position

import (
	"testing"
	"time"

	"quant-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourly(n int) models.Candles {
	var c models.Candles
	start := int64(1_700_000_000_000 / 3_600_000 * 3_600_000)
	for i := 0; i < n; i++ {
		c.Append(start+int64(i)*3_600_000, 100, 101, 99, 100, 1)
	}
	return c
}

func TestDetectNewBar(t *testing.T) {
	st := models.NewPairState()
	c := hourly(5)

	assert.True(t, DetectNewBar(st, c))
	assert.Equal(t, c.LastTime(), st.LastBarOpenTime)
	assert.False(t, DetectNewBar(st, c), "same bar twice is not new")

	c.Append(c.LastTime()+3_600_000, 100, 101, 99, 100, 1)
	assert.True(t, DetectNewBar(st, c))
	assert.False(t, DetectNewBar(st, models.Candles{}))
}

func TestBarIndexIsAbsolute(t *testing.T) {
	c := hourly(10)
	idx := BarIndex(c)
	assert.Equal(t, c.LastTime()/3_600_000, idx)

	// sliding the window by one bar advances the index by one
	c.Append(c.LastTime()+3_600_000, 100, 101, 99, 100, 1)
	assert.Equal(t, idx+1, BarIndex(c.Tail(10)))

	assert.Equal(t, int64(-1), BarIndex(models.Candles{}))
	single := hourly(1)
	assert.Equal(t, int64(0), BarIndex(single))
}

func TestBarIndexIgnoresMissingBars(t *testing.T) {
	full := hourly(12)
	var gappy models.Candles
	for i := 0; i < full.Len(); i++ {
		if i == full.Len()-2 {
			continue // 倒数第二根K线缺失
		}
		gappy.Append(full.Time[i], full.Open[i], full.High[i], full.Low[i], full.Close[i], 1)
	}
	require.Equal(t, full.Len()-1, gappy.Len())
	assert.Equal(t, BarIndex(full), BarIndex(gappy))
}

func TestReconcileHoldingsPromotesPending(t *testing.T) {
	now := time.Now()
	st := models.NewPairState()
	st.PendingEntry = &models.PendingEntry{SubmittedAt: now.UnixMilli()}
	st.PendingStopPrice = 95
	st.PendingTakeProfitPrice = 110

	notes := Reconcile(st, Observation{Holdings: true, BreakEven: 100.5, Ask: 101, Now: now})
	assert.NotEmpty(t, notes)
	assert.Equal(t, models.InPosition, st.FSMState)
	assert.Nil(t, st.PendingEntry)
	assert.Equal(t, 100.5, st.EntryPrice)
	assert.Equal(t, 95.0, st.StopPrice)
	assert.Equal(t, 110.0, st.TakeProfitPrice)
	assert.Zero(t, st.PendingStopPrice)
	assert.Zero(t, st.PendingTakeProfitPrice)
}

func TestReconcileEntryFallsBackToAsk(t *testing.T) {
	st := models.NewPairState()
	Reconcile(st, Observation{Holdings: true, Ask: 101, Now: time.Now()})
	assert.Equal(t, 101.0, st.EntryPrice)
}

func TestReconcileIsIdempotent(t *testing.T) {
	now := time.Now()
	cases := []Observation{
		{Holdings: true, BreakEven: 100, Ask: 101, Now: now},
		{Holdings: false, Now: now},
		{Holdings: false, OpenBuy: true, Now: now},
	}
	for _, obs := range cases {
		st := models.NewPairState()
		st.FSMState = models.InPosition
		st.EntryPrice = 99
		st.PendingStopPrice = 90
		st.PendingEntry = &models.PendingEntry{SubmittedAt: now.Add(-time.Minute).UnixMilli()}

		Reconcile(st, obs)
		once := st.Clone()
		notes := Reconcile(st, obs)
		assert.Equal(t, once, st)
		assert.Empty(t, notes, "second pass takes no transitions")
	}
}

func TestReconcilePendingEntryGrace(t *testing.T) {
	now := time.Now()

	fresh := models.NewPairState()
	fresh.PendingEntry = &models.PendingEntry{SubmittedAt: now.Add(-time.Minute).UnixMilli()}
	fresh.PendingStopPrice = 90
	Reconcile(fresh, Observation{Now: now})
	require.NotNil(t, fresh.PendingEntry)
	assert.Equal(t, models.InPosition, fresh.FSMState)
	assert.Equal(t, 90.0, fresh.PendingStopPrice)

	expired := models.NewPairState()
	expired.PendingEntry = &models.PendingEntry{SubmittedAt: now.Add(-4 * time.Minute).UnixMilli()}
	expired.PendingStopPrice = 90
	expired.PendingTakeProfitPrice = 120
	Reconcile(expired, Observation{Now: now})
	assert.Nil(t, expired.PendingEntry)
	assert.Equal(t, models.Idle, expired.FSMState)
	assert.Zero(t, expired.PendingStopPrice)
	assert.Zero(t, expired.PendingTakeProfitPrice)

	// an open buy keeps the pending entry alive past the grace period
	waiting := models.NewPairState()
	waiting.PendingEntry = &models.PendingEntry{SubmittedAt: now.Add(-10 * time.Minute).UnixMilli()}
	Reconcile(waiting, Observation{OpenBuy: true, Now: now})
	assert.NotNil(t, waiting.PendingEntry)
}

func TestReconcileFlatResetsToIdle(t *testing.T) {
	st := models.NewPairState()
	st.FSMState = models.InPosition
	st.EntryPrice = 100
	st.StopPrice = 95
	st.TakeProfitPrice = 110

	Reconcile(st, Observation{Now: time.Now()})
	assert.Equal(t, models.Idle, st.FSMState)
	assert.Zero(t, st.EntryPrice)
	assert.Zero(t, st.StopPrice)
	assert.Zero(t, st.TakeProfitPrice)
}

func TestTradingLimit(t *testing.T) {
	start := int64(1_000)

	assert.Equal(t, 1000.0, TradingLimit(nil, start, 10, 1000), "no history uses initial capital")

	buyLast := []models.Order{
		{Side: models.Sell, Price: 10, Amount: 50, Timestamp: 2_000},
		{Side: models.Buy, Price: 10, Amount: 50, Timestamp: 3_000},
	}
	assert.Equal(t, 1000.0, TradingLimit(buyLast, start, 10, 1000))

	beforeStart := []models.Order{{Side: models.Sell, Price: 10, Amount: 50, Timestamp: 500}}
	assert.Equal(t, 1000.0, TradingLimit(beforeStart, start, 10, 1000))

	sellLast := []models.Order{
		{Side: models.Buy, Price: 10, Amount: 100, Timestamp: 2_000},
		{Side: models.Sell, Price: 12, Amount: 100, Timestamp: 3_000},
	}
	assert.Equal(t, 1200.0, TradingLimit(sellLast, start, 10, 1000), "compounds the last sell value")

	tiny := []models.Order{{Side: models.Sell, Cost: 5, Timestamp: 3_000}}
	assert.InDelta(t, 10.05, TradingLimit(tiny, start, 10, 1000), 1e-9, "floored above the minimum volume")
}
