package strategy

import (
	"errors"
	"fmt"
	"sort"

	"quant-grid-bot-go/internal/config"
	"quant-grid-bot-go/internal/grid"
	"quant-grid-bot-go/internal/optimizer"
)

// Kind tells the engine which decision path a variant takes.
type Kind string

const (
	KindDirectional Kind = "directional"
	KindGrid        Kind = "grid"
	KindOptimizer   Kind = "optimizer"
)

// Variant names.
const (
	GridStrategy             = "Grid_Strategy"
	DynamicMomentumOptimizer = "Dynamic_Momentum_Optimizer"
)

var ErrNotDirectional = errors.New("strategy has no directional rules")

// Definition is the registry entry of one variant: metadata plus a typed
// params struct holding its documented defaults.
type Definition struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
	Kind        Kind   `json:"kind"`

	defaults func() any
	build    func(params any) Rules
}

// Defaults returns a fresh pointer to the variant's params struct.
func (d Definition) Defaults() any { return d.defaults() }

// Schema exports the params JSON schema.
func (d Definition) Schema() (string, error) { return config.Schema(d.defaults()) }

// Bind parses raw into the variant's params struct, falling back per field.
func (d Definition) Bind(raw map[string]any) (any, []string) {
	p := d.defaults()
	return p, config.BindParams(p, raw)
}

// Build binds raw and returns a ready-to-evaluate directional strategy.
func (d Definition) Build(raw map[string]any) (*Strategy, []string, error) {
	if d.build == nil {
		return nil, nil, fmt.Errorf("%s: %w", d.Name, ErrNotDirectional)
	}
	p, warnings := d.Bind(raw)
	return New(d.Name, d.build(p)), warnings, nil
}

func directional[P any](name, category, description string, defaults func() *P, build func(P) Rules) Definition {
	return Definition{
		Name:        name,
		Category:    category,
		Description: description,
		Kind:        KindDirectional,
		defaults:    func() any { return defaults() },
		build:       func(p any) Rules { return build(*p.(*P)) },
	}
}

var registry = map[string]Definition{}

func register(d Definition) { registry[d.Name] = d }

func init() {
	register(directional("RSI_Reversion", "Mean Reversion",
		"Buys when RSI is oversold and sells when it is overbought.",
		NewRSIReversionParams, func(p RSIReversionParams) Rules { return &rsiReversion{p: p} }))
	register(directional("BB_Reversion", "Mean Reversion",
		"Buys when price closes below the lower Bollinger Band and exits at the middle band.",
		NewBBReversionParams, func(p BBReversionParams) Rules { return &bbReversion{p: p} }))
	register(directional("Stochastic_Reversion", "Mean Reversion",
		"Buys when %K crosses into oversold and sells when it is overbought.",
		NewStochasticReversionParams, func(p StochasticReversionParams) Rules { return &stochasticReversion{p: p} }))
	register(directional("RSI_Stoch_Combo_TP", "Mean Reversion",
		"Requires RSI and Stochastic to be oversold together; exits on an ATR take profit or stop.",
		NewRSIStochComboTPParams, func(p RSIStochComboTPParams) Rules { return &rsiStochComboTP{p: p} }))
	register(directional("MACD_Cross", "Trend Following",
		"Enters when the MACD line crosses above its signal line.",
		NewMACDCrossParams, func(p MACDCrossParams) Rules { return &macdCross{p: p} }))
	register(directional("EMACross", "Trend Following",
		"Enters on a golden cross of a fast EMA over a slow EMA and exits on the death cross.",
		NewEMACrossParams, func(p EMACrossParams) Rules { return &emaCross{p: p} }))
	register(directional("Supertrend_Follower", "Trend Following",
		"Follows the Supertrend direction and trails the stop on the Supertrend line.",
		NewSupertrendFollowerParams, func(p SupertrendFollowerParams) Rules { return &supertrendFollower{p: p} }))
	register(directional("Heikin_Ashi_Trend", "Trend Following",
		"Enters when smoothed Heikin Ashi candles turn from red to green.",
		func() *HeikinAshiTrendParams { return &HeikinAshiTrendParams{} },
		func(HeikinAshiTrendParams) Rules { return &heikinAshiTrend{} }))
	register(directional("Bollinger_Band_Ride", "Trend Following",
		"Enters on a breakout above the upper Bollinger Band and trails the stop on the middle band.",
		NewBollingerBandRideParams, func(p BollingerBandRideParams) Rules { return &bollingerBandRide{p: p} }))
	register(directional("Donchian_Breakout", "Volatility / Breakout",
		"Buys when price breaks above the previous Donchian high.",
		NewDonchianBreakoutParams, func(p DonchianBreakoutParams) Rules { return &donchianBreakout{p: p} }))
	register(directional("Keltner_Squeeze_Breakout", "Volatility / Breakout",
		"Buys the upside breakout after Bollinger Bands squeeze inside the Keltner Channel.",
		NewKeltnerSqueezeBreakoutParams, func(p KeltnerSqueezeBreakoutParams) Rules { return &keltnerSqueezeBreakout{p: p} }))
	register(directional("Trend_Filter_RSI_Entry", "Advanced & Hybrids",
		"Buys RSI dips while price holds above a long trend filter SMA.",
		NewTrendFilterRSIEntryParams, func(p TrendFilterRSIEntryParams) Rules { return &trendFilterRSIEntry{p: p} }))

	register(Definition{
		Name:        GridStrategy,
		Category:    "Market Neutral",
		Description: "Self-balancing grid ladder with per-pair compounding virtual capital.",
		Kind:        KindGrid,
		defaults:    func() any { return grid.NewParams() },
	})
	register(Definition{
		Name:        DynamicMomentumOptimizer,
		Category:    "Self-Optimizing",
		Description: "Re-derives moving-average cross parameters with a periodic walk-forward backtest.",
		Kind:        KindOptimizer,
		defaults:    func() any { return optimizer.NewParams() },
	})
}

// Lookup returns the definition registered under name.
func Lookup(name string) (Definition, bool) {
	d, ok := registry[name]
	return d, ok
}

// Catalogue lists every variant ordered by category, then name.
func Catalogue() []Definition {
	out := make([]Definition, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Name < out[j].Name
	})
	return out
}
