// Package strategy implements the directional signal evaluators. Every variant
// supplies a small set of Rules over precomputed indicators; Evaluate turns
// them into one Signal per tick.
package strategy

import (
	"math"

	"quant-grid-bot-go/internal/models"

	"github.com/moznion/go-optional"
)

// Rules is one directional variant. Compute is called once per tick before any
// of the index-based methods.
type Rules interface {
	// MinBars is the number of bars needed before the rules can fire.
	MinBars() int
	Compute(c models.Candles)
	Entry(i int) bool
	// Exit returns a human readable reason when the signal exit fires.
	Exit(i int) (string, bool)
	// Stop returns the initial stop for a position entered at entry.
	Stop(i int, entry float64) float64
	Diagnostics(i int) []models.Diagnostic
}

// Trailer is implemented by variants whose stop follows price.
type Trailer interface {
	Trail(i int, current float64) float64
}

// TakeProfiter is implemented by variants with a price target.
type TakeProfiter interface {
	TakeProfit(i int, entry float64) (float64, bool)
}

// Signal is the outcome of one evaluation.
type Signal struct {
	Ready       bool // false while the candle history is too short
	Enter       bool
	Exit        bool
	Reason      string
	Stop        optional.Option[float64] // staged stop for a new entry, or initial stop for an unprotected position
	TakeProfit  optional.Option[float64]
	Trail       optional.Option[float64] // tightened stop for the open position
	Diagnostics []models.Diagnostic
}

// Strategy binds a variant's rules to its name.
type Strategy struct {
	name  string
	rules Rules
}

// New wraps rules under name.
func New(name string, rules Rules) *Strategy {
	return &Strategy{name: name, rules: rules}
}

// Name returns the registered variant name.
func (s *Strategy) Name() string { return s.name }

// Evaluate computes the variant's indicators over c and evaluates the last bar.
// price is the reference price for a new entry (the ask). Entry is evaluated
// only while st is IDLE, exit and trailing only while IN_POSITION; gating on a
// new bar and the buy/sell switches is left to the caller.
func (s *Strategy) Evaluate(c models.Candles, st *models.PairState, price float64) Signal {
	sig := Signal{
		Stop:       optional.None[float64](),
		TakeProfit: optional.None[float64](),
		Trail:      optional.None[float64](),
	}
	n := c.Len()
	if n < 2 || n < s.rules.MinBars() {
		return sig
	}
	sig.Ready = true
	s.rules.Compute(c)
	i := n - 1
	sig.Diagnostics = s.rules.Diagnostics(i)

	switch st.FSMState {
	case models.Idle:
		if !s.rules.Entry(i) {
			return sig
		}
		sig.Enter = true
		sig.Reason = s.name + " entry"
		s.protect(&sig, i, price)
	case models.InPosition:
		if reason, ok := s.rules.Exit(i); ok {
			sig.Exit = true
			sig.Reason = reason
		}
		if st.StopPrice <= 0 && st.EntryPrice > 0 {
			s.protect(&sig, i, st.EntryPrice)
		}
		if t, ok := s.rules.(Trailer); ok && st.StopPrice > 0 {
			if next := t.Trail(i, st.StopPrice); indicatorOK(next) && next > st.StopPrice {
				sig.Trail = optional.Some(next)
			}
		}
	}
	return sig
}

// protect fills the stop and take-profit for a position entered at entry.
func (s *Strategy) protect(sig *Signal, i int, entry float64) {
	if entry <= 0 {
		return
	}
	if stop := s.rules.Stop(i, entry); indicatorOK(stop) && stop > 0 {
		sig.Stop = optional.Some(stop)
	}
	if tp, ok := s.rules.(TakeProfiter); ok {
		if v, ok := tp.TakeProfit(i, entry); ok && indicatorOK(v) {
			sig.TakeProfit = optional.Some(v)
		}
	}
}

func indicatorOK(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// atrStop places the stop mult ATRs below entry, or 5% below when ATR is undefined.
func atrStop(atr []float64, i int, entry, mult float64) float64 {
	if i < len(atr) && indicatorOK(atr[i]) {
		return entry - atr[i]*mult
	}
	return entry * 0.95
}

// at returns x[i], or NaN when out of range.
func at(x []float64, i int) float64 {
	if i < 0 || i >= len(x) {
		return math.NaN()
	}
	return x[i]
}
