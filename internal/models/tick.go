package models

import "time"

// TickContext is the read-only market and account snapshot supplied by the host for one tick.
type TickContext struct {
	Pair     string
	Exchange string
	Strategy string

	Candles Candles
	Bid     float64
	Ask     float64

	BaseBalance  float64
	QuoteBalance float64
	GotBag       bool    // 持仓标志
	BreakEven    float64 // 交易所报告的持仓成本价

	OpenOrders []Order
	Orders     []Order // fill history

	Params map[string]any

	DryRun          bool
	BuyEnabled      bool
	SellEnabled     bool
	MinVolumeToSell float64
	TickSize        float64
	StepSize        float64

	Now time.Time
}

// HasHoldings reports whether the exchange shows a position for the pair.
func (tc *TickContext) HasHoldings() bool {
	return tc.GotBag
}

// HasOpenBuy reports whether any buy order is resting.
func (tc *TickContext) HasOpenBuy() bool {
	for _, o := range tc.OpenOrders {
		if o.Side == Buy {
			return true
		}
	}
	return false
}

// HasOpenSell reports whether any sell order is resting.
func (tc *TickContext) HasOpenSell() bool {
	for _, o := range tc.OpenOrders {
		if o.Side == Sell {
			return true
		}
	}
	return false
}

// Intent is the single per-tick decision.
type Intent string

const (
	IntentNone  Intent = "none"
	IntentEnter Intent = "enter"
	IntentExit  Intent = "exit"
)

// CommandKind enumerates host order primitives.
type CommandKind string

const (
	MarketBuy  CommandKind = "MARKET_BUY"
	MarketSell CommandKind = "MARKET_SELL"
	LimitBuy   CommandKind = "LIMIT_BUY"
	LimitSell  CommandKind = "LIMIT_SELL"
	Cancel     CommandKind = "CANCEL"
)

// Side returns the order side for placement commands.
func (k CommandKind) Side() Side {
	switch k {
	case MarketSell, LimitSell:
		return Sell
	default:
		return Buy
	}
}

// OrderCommand is one call to be made through the order gateway.
type OrderCommand struct {
	Kind    CommandKind
	Amount  float64 // base currency
	Price   float64 // limit price, or reference price for market orders
	OrderID string  // cancel target
	Reason  string
}

// Cost returns the notional value of the command.
func (c OrderCommand) Cost() float64 {
	return c.Amount * c.Price
}

// Status is the terminal status of a tick, used only for logging.
type Status string

const (
	StatusOK               Status = "OK"
	StatusNoAction         Status = "NO_ACTION"
	StatusDataNotReady     Status = "DATA_NOT_READY"
	StatusInsufficientFund Status = "INSUFFICIENT_FUNDS"
	StatusGatewayFailure   Status = "GATEWAY_FAILURE"
	StatusWatchMode        Status = "WATCH_MODE"
	StatusDisabled         Status = "DISABLED"
	StatusPanicRecovered   Status = "PANIC_RECOVERED"
)

// Decision is the outcome of one tick.
type Decision struct {
	Intent      Intent
	Commands    []OrderCommand
	Status      Status
	Reason      string
	Diagnostics []Diagnostic
	Err         error `json:"-"`
}

// Diagnostic is one display cell for the host UI.
type Diagnostic struct {
	Label   string `json:"label"`
	Value   string `json:"value"`
	Color   string `json:"color,omitempty"`
	Tooltip string `json:"tooltip"`
}

// PadDiagnostics pads the list with empty cells to a multiple of three.
func PadDiagnostics(d []Diagnostic) []Diagnostic {
	for len(d)%3 != 0 {
		d = append(d, Diagnostic{})
	}
	return d
}
