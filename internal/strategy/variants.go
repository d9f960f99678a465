package strategy

import (
	"fmt"
	"math"

	"quant-grid-bot-go/internal/indicator"
	"quant-grid-bot-go/internal/models"
)

func diag(label string, v float64, tooltip string) models.Diagnostic {
	value := "n/a"
	if indicatorOK(v) {
		value = fmt.Sprintf("%.4f", v)
	}
	return models.Diagnostic{Label: label, Value: value, Tooltip: tooltip}
}

func maxInt(vs ...int) int {
	m := 0
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

// ---------------------------------------------------------------- RSI_Reversion

type RSIReversionParams struct {
	Period     int     `json:"GQ_RSI_REVERSION_PERIOD" jsonschema:"title=RSI Period,description=The period for RSI calculation.,default=14,minimum=2,maximum=50"`
	Oversold   int     `json:"GQ_RSI_REVERSION_OVERSOLD" jsonschema:"title=Oversold Level,description=RSI level to trigger a buy.,default=30,minimum=10,maximum=40"`
	Overbought int     `json:"GQ_RSI_REVERSION_OVERBOUGHT" jsonschema:"title=Overbought Level,description=RSI level to trigger a sell.,default=70,minimum=60,maximum=90"`
	ATRPeriod  int     `json:"GQ_RSI_REVERSION_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=The period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult    float64 `json:"GQ_RSI_REVERSION_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=2,minimum=1,maximum=5"`
}

func NewRSIReversionParams() *RSIReversionParams {
	return &RSIReversionParams{Period: 14, Oversold: 30, Overbought: 70, ATRPeriod: 14, ATRMult: 2.0}
}

type rsiReversion struct {
	p        RSIReversionParams
	rsi, atr []float64
}

func (r *rsiReversion) MinBars() int { return maxInt(r.p.Period, r.p.ATRPeriod) + 1 }
func (r *rsiReversion) Compute(c models.Candles) {
	r.rsi = indicator.RSI(c.Close, r.p.Period)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *rsiReversion) Entry(i int) bool { return r.rsi[i] < float64(r.p.Oversold) }
func (r *rsiReversion) Exit(i int) (string, bool) {
	return "RSI Overbought", r.rsi[i] > float64(r.p.Overbought)
}
func (r *rsiReversion) Stop(i int, entry float64) float64 { return atrStop(r.atr, i, entry, r.p.ATRMult) }
func (r *rsiReversion) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("RSI", r.rsi[i], fmt.Sprintf("buy < %d, sell > %d", r.p.Oversold, r.p.Overbought)),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- BB_Reversion

type BBReversionParams struct {
	Period    int     `json:"GQ_BB_REVERSION_PERIOD" jsonschema:"title=BB Period,description=Period for BB and SMA.,default=20,minimum=10,maximum=100"`
	StdDev    float64 `json:"GQ_BB_REVERSION_STD_DEV" jsonschema:"title=BB StdDev,description=Standard deviation for BB.,default=2,minimum=1,maximum=3"`
	ATRPeriod int     `json:"GQ_BB_REVERSION_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=Period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult   float64 `json:"GQ_BB_REVERSION_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=2.5,minimum=1,maximum=5"`
}

func NewBBReversionParams() *BBReversionParams {
	return &BBReversionParams{Period: 20, StdDev: 2.0, ATRPeriod: 14, ATRMult: 2.5}
}

type bbReversion struct {
	p     BBReversionParams
	close []float64
	bb    indicator.Bands
	atr   []float64
}

func (r *bbReversion) MinBars() int { return maxInt(r.p.Period, r.p.ATRPeriod) + 1 }
func (r *bbReversion) Compute(c models.Candles) {
	r.close = c.Close
	r.bb = indicator.Bollinger(c.Close, r.p.Period, r.p.StdDev)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *bbReversion) Entry(i int) bool {
	return indicator.CrossUnder(r.close, r.bb.Lower, i)
}
func (r *bbReversion) Exit(i int) (string, bool) {
	return "Crossed middle band", r.close[i] > r.bb.Middle[i]
}
func (r *bbReversion) Stop(i int, entry float64) float64 { return atrStop(r.atr, i, entry, r.p.ATRMult) }
func (r *bbReversion) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("BB lower", r.bb.Lower[i], "entry on a close below"),
		diag("BB middle", r.bb.Middle[i], "exit on a close above"),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- Stochastic_Reversion

type StochasticReversionParams struct {
	K          int     `json:"GQ_STOCHASTIC_REVERSION_K" jsonschema:"title=Stoch %K,description=The period for the %K line.,default=14,minimum=5,maximum=50"`
	D          int     `json:"GQ_STOCHASTIC_REVERSION_D" jsonschema:"title=Stoch %D,description=The period for the %D line.,default=3,minimum=1,maximum=20"`
	Slowing    int     `json:"GQ_STOCHASTIC_REVERSION_SLOWING" jsonschema:"title=Stoch Slowing,description=The slowing period for %K.,default=3,minimum=1,maximum=20"`
	Oversold   int     `json:"GQ_STOCHASTIC_REVERSION_OVERSOLD" jsonschema:"title=Oversold Level,description=Stochastic level to trigger a buy.,default=20,minimum=10,maximum=40"`
	Overbought int     `json:"GQ_STOCHASTIC_REVERSION_OVERBOUGHT" jsonschema:"title=Overbought Level,description=Stochastic level to trigger a sell.,default=80,minimum=60,maximum=90"`
	ATRPeriod  int     `json:"GQ_STOCHASTIC_REVERSION_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=Period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult    float64 `json:"GQ_STOCHASTIC_REVERSION_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=2,minimum=1,maximum=5"`
}

func NewStochasticReversionParams() *StochasticReversionParams {
	return &StochasticReversionParams{K: 14, D: 3, Slowing: 3, Oversold: 20, Overbought: 80, ATRPeriod: 14, ATRMult: 2.0}
}

type stochasticReversion struct {
	p     StochasticReversionParams
	stoch indicator.Stoch
	atr   []float64
}

func (r *stochasticReversion) MinBars() int {
	return maxInt(r.p.K+r.p.Slowing+r.p.D, r.p.ATRPeriod+1)
}
func (r *stochasticReversion) Compute(c models.Candles) {
	r.stoch = indicator.Stochastic(c.High, c.Low, c.Close, r.p.K, r.p.D, r.p.Slowing)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *stochasticReversion) Entry(i int) bool {
	level := float64(r.p.Oversold)
	return r.stoch.K[i] < level && r.stoch.K[i-1] >= level
}
func (r *stochasticReversion) Exit(i int) (string, bool) {
	return "Stoch Overbought", r.stoch.K[i] > float64(r.p.Overbought)
}
func (r *stochasticReversion) Stop(i int, entry float64) float64 {
	return atrStop(r.atr, i, entry, r.p.ATRMult)
}
func (r *stochasticReversion) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("%K", r.stoch.K[i], fmt.Sprintf("buy on a cross below %d", r.p.Oversold)),
		diag("%D", r.stoch.D[i], ""),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- MACD_Cross

type MACDCrossParams struct {
	Fast      int     `json:"GQ_MACD_CROSS_FAST" jsonschema:"title=Fast EMA,description=The fast EMA period for MACD.,default=12,minimum=5,maximum=50"`
	Slow      int     `json:"GQ_MACD_CROSS_SLOW" jsonschema:"title=Slow EMA,description=The slow EMA period for MACD.,default=26,minimum=20,maximum=100"`
	Signal    int     `json:"GQ_MACD_CROSS_SIGNAL" jsonschema:"title=Signal Line,description=The signal line EMA period.,default=9,minimum=3,maximum=20"`
	ATRPeriod int     `json:"GQ_MACD_CROSS_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=Period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult   float64 `json:"GQ_MACD_CROSS_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=3,minimum=1,maximum=6"`
}

func NewMACDCrossParams() *MACDCrossParams {
	return &MACDCrossParams{Fast: 12, Slow: 26, Signal: 9, ATRPeriod: 14, ATRMult: 3.0}
}

type macdCross struct {
	p    MACDCrossParams
	macd indicator.MACDLines
	atr  []float64
}

func (r *macdCross) MinBars() int {
	return maxInt(r.p.Fast, r.p.Slow) + r.p.Signal
}
func (r *macdCross) Compute(c models.Candles) {
	r.macd = indicator.MACD(c.Close, r.p.Fast, r.p.Slow, r.p.Signal)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *macdCross) Entry(i int) bool {
	return indicator.CrossOver(r.macd.Line, r.macd.Signal, i)
}
func (r *macdCross) Exit(i int) (string, bool) {
	return "MACD Cross Down", r.macd.Line[i] < r.macd.Signal[i]
}
func (r *macdCross) Stop(i int, entry float64) float64 { return atrStop(r.atr, i, entry, r.p.ATRMult) }
func (r *macdCross) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("MACD", r.macd.Line[i], ""),
		diag("Signal", r.macd.Signal[i], ""),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- EMACross

type EMACrossParams struct {
	Fast      int     `json:"GQ_EMACROSS_FAST" jsonschema:"title=Fast EMA,description=The fast EMA period.,default=21,minimum=5,maximum=50"`
	Slow      int     `json:"GQ_EMACROSS_SLOW" jsonschema:"title=Slow EMA,description=The slow EMA period.,default=55,minimum=20,maximum=200"`
	ATRPeriod int     `json:"GQ_EMACROSS_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=Period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult   float64 `json:"GQ_EMACROSS_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=3,minimum=1,maximum=6"`
}

func NewEMACrossParams() *EMACrossParams {
	return &EMACrossParams{Fast: 21, Slow: 55, ATRPeriod: 14, ATRMult: 3.0}
}

type emaCross struct {
	p               EMACrossParams
	fast, slow, atr []float64
}

func (r *emaCross) MinBars() int { return maxInt(r.p.Fast, r.p.Slow, r.p.ATRPeriod+1) }
func (r *emaCross) Compute(c models.Candles) {
	r.fast = indicator.EMA(c.Close, r.p.Fast)
	r.slow = indicator.EMA(c.Close, r.p.Slow)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *emaCross) Entry(i int) bool {
	return indicator.CrossOver(r.fast, r.slow, i)
}
func (r *emaCross) Exit(i int) (string, bool) {
	return "Death Cross (EMA)", r.fast[i] < r.slow[i]
}
func (r *emaCross) Stop(i int, entry float64) float64 { return atrStop(r.atr, i, entry, r.p.ATRMult) }
func (r *emaCross) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag(fmt.Sprintf("EMA %d", r.p.Fast), r.fast[i], "fast"),
		diag(fmt.Sprintf("EMA %d", r.p.Slow), r.slow[i], "slow"),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- Supertrend_Follower

type SupertrendFollowerParams struct {
	Period     int     `json:"GQ_SUPERTREND_FOLLOWER_PERIOD" jsonschema:"title=ATR Period,description=The ATR period for Supertrend.,default=10,minimum=5,maximum=30"`
	Multiplier float64 `json:"GQ_SUPERTREND_FOLLOWER_MULTIPLIER" jsonschema:"title=ATR Multiplier,description=The ATR multiplier for Supertrend.,default=3,minimum=1,maximum=5"`
}

func NewSupertrendFollowerParams() *SupertrendFollowerParams {
	return &SupertrendFollowerParams{Period: 10, Multiplier: 3.0}
}

type supertrendFollower struct {
	p  SupertrendFollowerParams
	st indicator.SupertrendLines
}

func (r *supertrendFollower) MinBars() int { return r.p.Period + 2 }
func (r *supertrendFollower) Compute(c models.Candles) {
	r.st = indicator.Supertrend(c.High, c.Low, c.Close, r.p.Period, r.p.Multiplier)
}
func (r *supertrendFollower) Entry(i int) bool {
	return r.st.Direction[i-1] < 0 && r.st.Direction[i] > 0
}
func (r *supertrendFollower) Exit(i int) (string, bool) {
	return "Supertrend flip", r.st.Direction[i] < 0
}
func (r *supertrendFollower) Stop(i int, _ float64) float64 { return r.st.Line[i] }
func (r *supertrendFollower) Trail(i int, current float64) float64 {
	return math.Max(current, r.st.Line[i])
}
func (r *supertrendFollower) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("Supertrend", r.st.Line[i], "trailing stop"),
		{Label: "Trend", Value: fmt.Sprintf("%+d", r.st.Direction[i]), Tooltip: "+1 up, -1 down"},
	}
}

// ---------------------------------------------------------------- Heikin_Ashi_Trend

// HeikinAshiTrendParams is empty; the stop uses a fixed ATR(14) x 2.5.
type HeikinAshiTrendParams struct{}

const (
	heikinAshiATRPeriod = 14
	heikinAshiATRMult   = 2.5
)

type heikinAshiTrend struct {
	ha  indicator.HeikinAshiCandles
	atr []float64
}

func (r *heikinAshiTrend) MinBars() int { return 2 }
func (r *heikinAshiTrend) Compute(c models.Candles) {
	r.ha = indicator.HeikinAshi(c.Open, c.High, c.Low, c.Close)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, heikinAshiATRPeriod)
}
func (r *heikinAshiTrend) Entry(i int) bool {
	prevRed := r.ha.Close[i-1] < r.ha.Open[i-1]
	green := r.ha.Close[i] > r.ha.Open[i]
	return prevRed && green
}
func (r *heikinAshiTrend) Exit(i int) (string, bool) {
	return "HA candle flipped red", r.ha.Close[i] < r.ha.Open[i]
}
func (r *heikinAshiTrend) Stop(i int, entry float64) float64 {
	return atrStop(r.atr, i, entry, heikinAshiATRMult)
}
func (r *heikinAshiTrend) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("HA open", r.ha.Open[i], ""),
		diag("HA close", r.ha.Close[i], "green when above open"),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- Donchian_Breakout

type DonchianBreakoutParams struct {
	Period    int     `json:"GQ_DONCHIAN_BREAKOUT_PERIOD" jsonschema:"title=Channel Period,description=The Donchian Channel period.,default=20,minimum=10,maximum=100"`
	ATRPeriod int     `json:"GQ_DONCHIAN_BREAKOUT_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=Period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult   float64 `json:"GQ_DONCHIAN_BREAKOUT_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=2,minimum=1,maximum=5"`
}

func NewDonchianBreakoutParams() *DonchianBreakoutParams {
	return &DonchianBreakoutParams{Period: 20, ATRPeriod: 14, ATRMult: 2.0}
}

type donchianBreakout struct {
	p     DonchianBreakoutParams
	close []float64
	dc    indicator.Bands
	atr   []float64
}

func (r *donchianBreakout) MinBars() int { return maxInt(r.p.Period+1, r.p.ATRPeriod+1) }
func (r *donchianBreakout) Compute(c models.Candles) {
	r.close = c.Close
	r.dc = indicator.Donchian(c.High, c.Low, r.p.Period)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *donchianBreakout) Entry(i int) bool { return r.close[i] > r.dc.Upper[i-1] }
func (r *donchianBreakout) Exit(i int) (string, bool) {
	return "Crossed middle band", r.close[i] < r.dc.Middle[i]
}
func (r *donchianBreakout) Stop(i int, entry float64) float64 {
	return atrStop(r.atr, i, entry, r.p.ATRMult)
}
func (r *donchianBreakout) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("DC upper", at(r.dc.Upper, i-1), "previous bar breakout level"),
		diag("DC middle", r.dc.Middle[i], "exit on a close below"),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- Keltner_Squeeze_Breakout

type KeltnerSqueezeBreakoutParams struct {
	Period int     `json:"GQ_KELTNER_SQUEEZE_BREAKOUT_PERIOD" jsonschema:"title=Indicator Period,description=Period for BB and KC.,default=20,minimum=10,maximum=50"`
	BBStd  float64 `json:"GQ_KELTNER_SQUEEZE_BREAKOUT_BB_STD" jsonschema:"title=BB StdDev,description=Standard deviation for BB.,default=2,minimum=1,maximum=3"`
	KCMult float64 `json:"GQ_KELTNER_SQUEEZE_BREAKOUT_KC_MULT" jsonschema:"title=Keltner Multiplier,description=ATR Multiplier for Keltner Channel.,default=1.5,minimum=1,maximum=3"`
}

func NewKeltnerSqueezeBreakoutParams() *KeltnerSqueezeBreakoutParams {
	return &KeltnerSqueezeBreakoutParams{Period: 20, BBStd: 2.0, KCMult: 1.5}
}

type keltnerSqueezeBreakout struct {
	p      KeltnerSqueezeBreakoutParams
	close  []float64
	bb, kc indicator.Bands
}

func (r *keltnerSqueezeBreakout) MinBars() int { return r.p.Period + 2 }
func (r *keltnerSqueezeBreakout) Compute(c models.Candles) {
	r.close = c.Close
	r.bb = indicator.Bollinger(c.Close, r.p.Period, r.p.BBStd)
	r.kc = indicator.Keltner(c.High, c.Low, c.Close, r.p.Period, r.p.KCMult)
}

// inSqueeze reports Bollinger bands sitting inside the Keltner channel.
func (r *keltnerSqueezeBreakout) inSqueeze(i int) bool {
	return r.bb.Lower[i] > r.kc.Lower[i] && r.bb.Upper[i] < r.kc.Upper[i]
}
func (r *keltnerSqueezeBreakout) Entry(i int) bool {
	return r.inSqueeze(i-1) && r.close[i] > r.bb.Upper[i-1]
}
func (r *keltnerSqueezeBreakout) Exit(i int) (string, bool) {
	return "Price fell to middle BB", r.close[i] < r.bb.Middle[i]
}
func (r *keltnerSqueezeBreakout) Stop(i int, _ float64) float64 { return r.bb.Lower[i] }
func (r *keltnerSqueezeBreakout) Diagnostics(i int) []models.Diagnostic {
	squeeze := "off"
	if r.inSqueeze(i) {
		squeeze = "on"
	}
	return []models.Diagnostic{
		{Label: "Squeeze", Value: squeeze, Tooltip: "BB inside KC"},
		diag("BB upper", r.bb.Upper[i], ""),
		diag("KC upper", r.kc.Upper[i], ""),
	}
}

// ---------------------------------------------------------------- Trend_Filter_RSI_Entry

type TrendFilterRSIEntryParams struct {
	FilterPeriod int     `json:"GQ_TREND_FILTER_RSI_ENTRY_FILTER_PERIOD" jsonschema:"title=Trend Filter SMA,description=The period for the trend filter SMA.,default=200,minimum=50,maximum=300"`
	RSIPeriod    int     `json:"GQ_TREND_FILTER_RSI_ENTRY_RSI_PERIOD" jsonschema:"title=RSI Period,description=The period for RSI calculation.,default=14,minimum=2,maximum=50"`
	RSIEntry     int     `json:"GQ_TREND_FILTER_RSI_ENTRY_RSI_ENTRY" jsonschema:"title=RSI Entry Level,description=RSI level to trigger a buy.,default=40,minimum=10,maximum=50"`
	RSIExit      int     `json:"GQ_TREND_FILTER_RSI_ENTRY_RSI_EXIT" jsonschema:"title=RSI Exit Level,description=RSI level to trigger a sell.,default=70,minimum=60,maximum=90"`
	ATRPeriod    int     `json:"GQ_TREND_FILTER_RSI_ENTRY_ATR_PERIOD" jsonschema:"title=ATR Period (SL),description=Period for ATR (stop loss).,default=14,minimum=5,maximum=50"`
	ATRMult      float64 `json:"GQ_TREND_FILTER_RSI_ENTRY_ATR_MULT" jsonschema:"title=ATR Multiplier (SL),description=Multiplier for ATR stop loss.,default=2.5,minimum=1,maximum=5"`
}

func NewTrendFilterRSIEntryParams() *TrendFilterRSIEntryParams {
	return &TrendFilterRSIEntryParams{FilterPeriod: 200, RSIPeriod: 14, RSIEntry: 40, RSIExit: 70, ATRPeriod: 14, ATRMult: 2.5}
}

type trendFilterRSIEntry struct {
	p                    TrendFilterRSIEntryParams
	close, sma, rsi, atr []float64
}

func (r *trendFilterRSIEntry) MinBars() int {
	return maxInt(r.p.FilterPeriod, r.p.RSIPeriod+1, r.p.ATRPeriod+1)
}
func (r *trendFilterRSIEntry) Compute(c models.Candles) {
	r.close = c.Close
	r.sma = indicator.SMA(c.Close, r.p.FilterPeriod)
	r.rsi = indicator.RSI(c.Close, r.p.RSIPeriod)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *trendFilterRSIEntry) Entry(i int) bool {
	level := float64(r.p.RSIEntry)
	uptrend := r.close[i] > r.sma[i]
	dip := r.rsi[i] < level && r.rsi[i-1] >= level
	return uptrend && dip
}
func (r *trendFilterRSIEntry) Exit(i int) (string, bool) {
	return "RSI exit level", r.rsi[i] > float64(r.p.RSIExit)
}
func (r *trendFilterRSIEntry) Stop(i int, entry float64) float64 {
	return atrStop(r.atr, i, entry, r.p.ATRMult)
}
func (r *trendFilterRSIEntry) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag(fmt.Sprintf("SMA %d", r.p.FilterPeriod), r.sma[i], "uptrend while close is above"),
		diag("RSI", r.rsi[i], fmt.Sprintf("dip below %d", r.p.RSIEntry)),
		diag("ATR", r.atr[i], "stop distance basis"),
	}
}

// ---------------------------------------------------------------- RSI_Stoch_Combo_TP

type RSIStochComboTPParams struct {
	RSIPeriod  int     `json:"GQ_RSI_STOCH_COMBO_TP_RSI_PERIOD" jsonschema:"title=RSI Period,description=The period for the RSI.,default=14,minimum=2,maximum=50"`
	K          int     `json:"GQ_RSI_STOCH_COMBO_TP_K" jsonschema:"title=Stoch %K,description=The period for the Stoch %K line.,default=14,minimum=5,maximum=50"`
	D          int     `json:"GQ_RSI_STOCH_COMBO_TP_D" jsonschema:"title=Stoch %D,description=The period for the Stoch %D line.,default=3,minimum=1,maximum=20"`
	Slowing    int     `json:"GQ_RSI_STOCH_COMBO_TP_SLOWING" jsonschema:"title=Stoch Slowing,description=The slowing period for Stoch %K.,default=3,minimum=1,maximum=20"`
	RSILevel   int     `json:"GQ_RSI_STOCH_COMBO_TP_RSI_LEVEL" jsonschema:"title=RSI Entry Level,description=RSI entry level.,default=35,minimum=10,maximum=50"`
	StochLevel int     `json:"GQ_RSI_STOCH_COMBO_TP_STOCH_LEVEL" jsonschema:"title=Stoch Entry Level,description=Stochastic entry level.,default=25,minimum=10,maximum=50"`
	ATRPeriod  int     `json:"GQ_RSI_STOCH_COMBO_TP_ATR_PERIOD" jsonschema:"title=ATR Period (SL/TP),description=Period for ATR (SL/TP).,default=14,minimum=5,maximum=50"`
	ATRMult    float64 `json:"GQ_RSI_STOCH_COMBO_TP_ATR_MULT" jsonschema:"title=ATR SL Multiplier,description=Multiplier for ATR stop loss.,default=2,minimum=1,maximum=5"`
	TPMult     float64 `json:"GQ_RSI_STOCH_COMBO_TP_TP_MULT" jsonschema:"title=ATR TP Multiplier,description=Multiplier for ATR take profit.,default=4,minimum=1,maximum=10"`
}

func NewRSIStochComboTPParams() *RSIStochComboTPParams {
	return &RSIStochComboTPParams{
		RSIPeriod: 14, K: 14, D: 3, Slowing: 3, RSILevel: 35, StochLevel: 25,
		ATRPeriod: 14, ATRMult: 2.0, TPMult: 4.0,
	}
}

type rsiStochComboTP struct {
	p        RSIStochComboTPParams
	rsi, atr []float64
	stoch    indicator.Stoch
}

func (r *rsiStochComboTP) MinBars() int {
	return maxInt(r.p.RSIPeriod+1, r.p.K+r.p.Slowing+r.p.D, r.p.ATRPeriod+1)
}
func (r *rsiStochComboTP) Compute(c models.Candles) {
	r.rsi = indicator.RSI(c.Close, r.p.RSIPeriod)
	r.stoch = indicator.Stochastic(c.High, c.Low, c.Close, r.p.K, r.p.D, r.p.Slowing)
	r.atr = indicator.ATR(c.High, c.Low, c.Close, r.p.ATRPeriod)
}
func (r *rsiStochComboTP) Entry(i int) bool {
	return r.rsi[i] < float64(r.p.RSILevel) && r.stoch.K[i] < float64(r.p.StochLevel)
}
func (r *rsiStochComboTP) Exit(int) (string, bool) { return "", false }
func (r *rsiStochComboTP) Stop(i int, entry float64) float64 {
	return atrStop(r.atr, i, entry, r.p.ATRMult)
}
func (r *rsiStochComboTP) TakeProfit(i int, entry float64) (float64, bool) {
	if !indicatorOK(r.atr[i]) {
		return 0, false
	}
	return entry + r.atr[i]*r.p.TPMult, true
}
func (r *rsiStochComboTP) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("RSI", r.rsi[i], fmt.Sprintf("below %d", r.p.RSILevel)),
		diag("%K", r.stoch.K[i], fmt.Sprintf("below %d", r.p.StochLevel)),
		diag("ATR", r.atr[i], "stop and target distance basis"),
	}
}

// ---------------------------------------------------------------- Bollinger_Band_Ride

type BollingerBandRideParams struct {
	Period int     `json:"GQ_BOLLINGER_BAND_RIDE_PERIOD" jsonschema:"title=Period,description=Period for BB and SMA.,default=20,minimum=10,maximum=100"`
	StdDev float64 `json:"GQ_BOLLINGER_BAND_RIDE_STD_DEV" jsonschema:"title=Standard Deviation,description=Standard deviation for BB.,default=2,minimum=1,maximum=3"`
}

func NewBollingerBandRideParams() *BollingerBandRideParams {
	return &BollingerBandRideParams{Period: 20, StdDev: 2.0}
}

type bollingerBandRide struct {
	p     BollingerBandRideParams
	close []float64
	bb    indicator.Bands
}

func (r *bollingerBandRide) MinBars() int { return r.p.Period + 1 }
func (r *bollingerBandRide) Compute(c models.Candles) {
	r.close = c.Close
	r.bb = indicator.Bollinger(c.Close, r.p.Period, r.p.StdDev)
}
func (r *bollingerBandRide) Entry(i int) bool {
	return indicator.CrossOver(r.close, r.bb.Upper, i)
}
func (r *bollingerBandRide) Exit(int) (string, bool) { return "", false }

// Stop is the lower of 5% under entry and the middle band.
func (r *bollingerBandRide) Stop(i int, entry float64) float64 {
	if !indicatorOK(r.bb.Middle[i]) {
		return entry * 0.95
	}
	return math.Min(entry*0.95, r.bb.Middle[i])
}
func (r *bollingerBandRide) Trail(i int, current float64) float64 {
	return math.Max(current, r.bb.Middle[i])
}
func (r *bollingerBandRide) Diagnostics(i int) []models.Diagnostic {
	return []models.Diagnostic{
		diag("BB upper", r.bb.Upper[i], "entry on a close above"),
		diag("BB middle", r.bb.Middle[i], "trailing stop"),
	}
}
