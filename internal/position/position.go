// Package position holds the bookkeeping shared by every strategy variant:
// new-bar detection, reconciliation of the believed position against what the
// exchange reports, and the compounding trade size.
package position

import (
	"time"

	"quant-grid-bot-go/internal/models"
)

// PendingEntryGrace is how long a submitted entry may stay unconfirmed before
// its bookkeeping is dropped.
const PendingEntryGrace = 3 * time.Minute

// minVolumeSafety keeps the compounding floor just above the exchange minimum.
const minVolumeSafety = 1.005

// DetectNewBar reports whether the latest bar differs from the one seen on the
// previous tick and records it.
func DetectNewBar(st *models.PairState, c models.Candles) bool {
	t := c.LastTime()
	if c.Len() == 0 || t == st.LastBarOpenTime {
		return false
	}
	st.LastBarOpenTime = t
	return true
}

// BarIndex maps the latest bar onto an absolute bar axis (open time divided by
// the bar interval) so elapsed-bar counts survive a sliding candle window.
// The interval is the smallest positive gap in the window, so missing bars do
// not stretch it. Without a usable interval it falls back to the window position.
func BarIndex(c models.Candles) int64 {
	n := c.Len()
	if n == 0 {
		return -1
	}
	var interval int64
	for i := 1; i < n; i++ {
		if gap := c.Time[i] - c.Time[i-1]; gap > 0 && (interval == 0 || gap < interval) {
			interval = gap
		}
	}
	if interval > 0 {
		return c.Time[n-1] / interval
	}
	return int64(n - 1)
}

// Observation is the externally reported truth the reconciler works from.
type Observation struct {
	Holdings  bool
	OpenBuy   bool
	BreakEven float64
	Ask       float64
	Now       time.Time
}

// Observe extracts an Observation from a tick.
func Observe(tc *models.TickContext) Observation {
	return Observation{
		Holdings:  tc.HasHoldings(),
		OpenBuy:   tc.HasOpenBuy(),
		BreakEven: tc.BreakEven,
		Ask:       tc.Ask,
		Now:       tc.Now,
	}
}

// Reconcile rebuilds the position belief from obs. It is idempotent: a second
// call with the same observation leaves st unchanged. The returned notes describe
// the transitions taken, for logging.
func Reconcile(st *models.PairState, obs Observation) (notes []string) {
	if obs.Holdings {
		if st.FSMState != models.InPosition {
			notes = append(notes, "holdings observed, entering IN_POSITION")
		}
		st.FSMState = models.InPosition
		if st.PendingEntry != nil {
			st.PendingEntry = nil
			notes = append(notes, "entry fill confirmed")
		}
		if st.EntryPrice <= 0 {
			st.EntryPrice = obs.BreakEven
			if st.EntryPrice <= 0 {
				st.EntryPrice = obs.Ask
			}
			notes = append(notes, "entry price restored")
		}
		if st.PendingStopPrice > 0 {
			st.StopPrice = st.PendingStopPrice
			st.PendingStopPrice = 0
			notes = append(notes, "stop promoted")
		}
		if st.PendingTakeProfitPrice > 0 {
			st.TakeProfitPrice = st.PendingTakeProfitPrice
			st.PendingTakeProfitPrice = 0
			notes = append(notes, "take profit promoted")
		}
		return notes
	}

	if st.PendingEntry != nil && !obs.OpenBuy {
		submitted := time.UnixMilli(st.PendingEntry.SubmittedAt)
		if obs.Now.Sub(submitted) > PendingEntryGrace {
			st.PendingEntry = nil
			st.PendingStopPrice = 0
			st.PendingTakeProfitPrice = 0
			notes = append(notes, "pending entry expired")
		}
	}

	switch {
	case st.PendingEntry == nil && !obs.OpenBuy:
		if st.FSMState != models.Idle || st.EntryPrice != 0 || st.StopPrice != 0 || st.TakeProfitPrice != 0 {
			notes = append(notes, "flat, resetting to IDLE")
		}
		st.FSMState = models.Idle
		st.EntryPrice = 0
		st.StopPrice = 0
		st.TakeProfitPrice = 0
	case st.PendingEntry != nil:
		st.FSMState = models.InPosition
	}
	return notes
}

// TradingLimit is the notional size of the next entry. When the most recent
// fill is a sell after startTime its value is reused, floored at
// minVolumeToSell*1.005; otherwise initialCapital is used.
func TradingLimit(orders []models.Order, startTime int64, minVolumeToSell, initialCapital float64) float64 {
	var last *models.Order
	for i := range orders {
		if last == nil || orders[i].Timestamp > last.Timestamp {
			last = &orders[i]
		}
	}
	if last == nil || last.Side != models.Sell || last.Timestamp <= startTime {
		return initialCapital
	}
	floor := minVolumeToSell * minVolumeSafety
	if v := last.Notional(); v > floor {
		return v
	}
	return floor
}
