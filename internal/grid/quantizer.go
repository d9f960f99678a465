package grid

import (
	"github.com/shopspring/decimal"
)

// DefaultTickSize is used when neither the params nor the pair define one.
const DefaultTickSize = 1e-8

// Quantizer snaps prices onto a tick-size lattice so that grid levels and
// open-order prices compare by exact decimal value instead of float equality.
type Quantizer struct {
	tick decimal.Decimal
}

// NewQuantizer builds a quantizer for tick; non-positive ticks use DefaultTickSize.
func NewQuantizer(tick float64) Quantizer {
	if tick <= 0 {
		tick = DefaultTickSize
	}
	return Quantizer{tick: decimal.NewFromFloat(tick)}
}

func (q Quantizer) snap(price float64) decimal.Decimal {
	return decimal.NewFromFloat(price).Div(q.tick).Round(0).Mul(q.tick)
}

// Round returns price rounded to the nearest tick.
func (q Quantizer) Round(price float64) float64 {
	return q.snap(price).InexactFloat64()
}

// Key returns the canonical string of the rounded price.
func (q Quantizer) Key(price float64) string {
	return q.snap(price).String()
}

