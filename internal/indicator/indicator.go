// Package indicator implements the technical indicators used by the strategies.
//
// Every function returns sequences of the same length as its input. Indices in
// the warm-up region are NaN. Inputs are never modified.
package indicator

import "math"

// nanSlice returns a slice of n NaNs.
func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// firstValid returns the index of the first non-NaN value, or len(x).
func firstValid(x []float64) int {
	for i, v := range x {
		if !math.IsNaN(v) {
			return i
		}
	}
	return len(x)
}

// Valid reports whether all values are defined.
func Valid(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CrossOver reports that a closed above b at index i without having been above
// it at i-1. An undefined previous value counts as "not above", so the first
// defined bar of a pair already in the bullish order is reported as the cross.
func CrossOver(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) || !Valid(a[i], b[i]) {
		return false
	}
	return a[i] > b[i] && !(a[i-1] > b[i-1])
}

// CrossUnder is the mirror of CrossOver.
func CrossUnder(a, b []float64, i int) bool {
	if i < 1 || i >= len(a) || i >= len(b) || !Valid(a[i], b[i]) {
		return false
	}
	return a[i] < b[i] && !(a[i-1] < b[i-1])
}

// SMA is the trailing arithmetic mean, maintained incrementally.
// A NaN prefix in x (e.g. another indicator's warm-up) shifts the warm-up accordingly.
func SMA(x []float64, period int) []float64 {
	n := len(x)
	out := nanSlice(n)
	start := firstValid(x)
	if period <= 0 || n-start < period {
		return out
	}
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += x[i]
	}
	out[start+period-1] = sum / float64(period)
	for i := start + period; i < n; i++ {
		sum += x[i] - x[i-period]
		out[i] = sum / float64(period)
	}
	return out
}

// EMA is seeded with the SMA of the first period values, then v = (x - v)*k + v, k = 2/(period+1).
func EMA(x []float64, period int) []float64 {
	n := len(x)
	out := nanSlice(n)
	start := firstValid(x)
	if period <= 0 || n-start < period {
		return out
	}
	k := 2.0 / (float64(period) + 1.0)
	sum := 0.0
	for i := start; i < start+period; i++ {
		sum += x[i]
	}
	prev := sum / float64(period)
	out[start+period-1] = prev
	for i := start + period; i < n; i++ {
		prev = (x[i]-prev)*k + prev
		out[i] = prev
	}
	return out
}

// StdDev is the population standard deviation over a trailing window.
func StdDev(x []float64, period int) []float64 {
	n := len(x)
	out := nanSlice(n)
	start := firstValid(x)
	if period <= 0 || n-start < period {
		return out
	}
	for i := start + period - 1; i < n; i++ {
		window := x[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		out[i] = math.Sqrt(variance / float64(period))
	}
	return out
}

// Bands is a three-line channel.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger returns SMA(period) +/- mult*StdDev(period).
func Bollinger(x []float64, period int, mult float64) Bands {
	mid := SMA(x, period)
	sd := StdDev(x, period)
	b := Bands{Middle: mid, Upper: nanSlice(len(x)), Lower: nanSlice(len(x))}
	for i := range x {
		if Valid(mid[i], sd[i]) {
			b.Upper[i] = mid[i] + mult*sd[i]
			b.Lower[i] = mid[i] - mult*sd[i]
		}
	}
	return b
}

// TrueRange is max(h-l, |h-prevClose|, |l-prevClose|); index 0 has no previous close and is NaN.
func TrueRange(high, low, close []float64) []float64 {
	n := minLen(high, low, close)
	tr := nanSlice(n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
	}
	return tr
}

// ATR uses Wilder smoothing. The seed at index period is the mean of the first
// period true ranges (indices 1..period).
func ATR(high, low, close []float64, period int) []float64 {
	n := minLen(high, low, close)
	out := nanSlice(n)
	if period <= 0 || n <= period {
		return out
	}
	tr := TrueRange(high, low, close)
	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr[i]
	}
	prev := sum / float64(period)
	out[period] = prev
	for i := period + 1; i < n; i++ {
		prev = (prev*float64(period-1) + tr[i]) / float64(period)
		out[i] = prev
	}
	return out
}

// RSI uses Wilder smoothing of average gain and loss. avgLoss == 0 yields 100.
func RSI(x []float64, period int) []float64 {
	n := len(x)
	out := nanSlice(n)
	if period <= 0 || n <= period {
		return out
	}
	gain := func(i int) float64 { return math.Max(x[i]-x[i-1], 0) }
	loss := func(i int) float64 { return math.Max(x[i-1]-x[i], 0) }

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		avgGain += gain(i)
		avgLoss += loss(i)
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	for i := period + 1; i < n; i++ {
		avgGain = (avgGain*float64(period-1) + gain(i)) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss(i)) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	return 100 - 100/(1+avgGain/avgLoss)
}

// RollingMax is the highest value over a trailing window.
func RollingMax(x []float64, period int) []float64 {
	return rolling(x, period, math.Max)
}

// RollingMin is the lowest value over a trailing window.
func RollingMin(x []float64, period int) []float64 {
	return rolling(x, period, math.Min)
}

func rolling(x []float64, period int, pick func(a, b float64) float64) []float64 {
	n := len(x)
	out := nanSlice(n)
	if period <= 0 || n < period {
		return out
	}
	for i := period - 1; i < n; i++ {
		v := x[i-period+1]
		for _, w := range x[i-period+2 : i+1] {
			v = pick(v, w)
		}
		out[i] = v
	}
	return out
}

// Stoch holds the smoothed %K and %D lines.
type Stoch struct {
	K []float64
	D []float64
}

// Stochastic computes raw %K over kPeriod bars (0 when the range is flat),
// smooths it with SMA(slowing) and derives %D = SMA(%K, dPeriod).
func Stochastic(high, low, close []float64, kPeriod, dPeriod, slowing int) Stoch {
	n := minLen(high, low, close)
	raw := nanSlice(n)
	hh := RollingMax(high[:n], kPeriod)
	ll := RollingMin(low[:n], kPeriod)
	for i := 0; i < n; i++ {
		if !Valid(hh[i], ll[i]) {
			continue
		}
		rng := hh[i] - ll[i]
		if rng == 0 {
			raw[i] = 0
			continue
		}
		raw[i] = 100 * (close[i] - ll[i]) / rng
	}
	k := SMA(raw, slowing)
	return Stoch{K: k, D: SMA(k, dPeriod)}
}

// MACDLines holds the MACD line and its signal line.
type MACDLines struct {
	Line   []float64
	Signal []float64
}

// MACD returns EMA(fast) - EMA(slow) and its EMA(signal).
func MACD(x []float64, fast, slow, signal int) MACDLines {
	ef := EMA(x, fast)
	es := EMA(x, slow)
	line := nanSlice(len(x))
	for i := range x {
		if Valid(ef[i], es[i]) {
			line[i] = ef[i] - es[i]
		}
	}
	return MACDLines{Line: line, Signal: EMA(line, signal)}
}

// SupertrendLines holds the active band and the trend direction (+1 up, -1 down, 0 undefined).
type SupertrendLines struct {
	Line      []float64
	Direction []int
}

// Supertrend builds basic bands at the bar midpoint +/- mult*ATR and keeps
// "final" bands by the classic rule: the final upper band only moves down unless
// the previous close was above it, the final lower band only moves up unless the
// previous close was below it. The trend flips when close crosses the active band.
func Supertrend(high, low, close []float64, period int, mult float64) SupertrendLines {
	n := minLen(high, low, close)
	st := SupertrendLines{Line: nanSlice(n), Direction: make([]int, n)}
	atr := ATR(high, low, close, period)
	start := firstValid(atr)
	if start >= n {
		return st
	}

	var finalUpper, finalLower float64
	for i := start; i < n; i++ {
		mid := (high[i] + low[i]) / 2
		basicUpper := mid + mult*atr[i]
		basicLower := mid - mult*atr[i]

		if i == start {
			finalUpper, finalLower = basicUpper, basicLower
			if close[i] > finalUpper {
				st.Direction[i] = 1
			} else {
				st.Direction[i] = -1
			}
		} else {
			if basicUpper < finalUpper || close[i-1] > finalUpper {
				finalUpper = basicUpper
			}
			if basicLower > finalLower || close[i-1] < finalLower {
				finalLower = basicLower
			}
			switch st.Direction[i-1] {
			case 1:
				if close[i] < finalLower {
					st.Direction[i] = -1
				} else {
					st.Direction[i] = 1
				}
			default:
				if close[i] > finalUpper {
					st.Direction[i] = 1
				} else {
					st.Direction[i] = -1
				}
			}
		}

		if st.Direction[i] == 1 {
			st.Line[i] = finalLower
		} else {
			st.Line[i] = finalUpper
		}
	}
	return st
}

// HeikinAshiCandles holds smoothed candle components.
type HeikinAshiCandles struct {
	Open  []float64
	High  []float64
	Low   []float64
	Close []float64
}

// HeikinAshi computes haClose = (o+h+l+c)/4 and haOpen = (prevHaOpen+prevHaClose)/2 seeded with o[0].
func HeikinAshi(open, high, low, close []float64) HeikinAshiCandles {
	n := minLen(open, high, low, close)
	ha := HeikinAshiCandles{
		Open:  make([]float64, n),
		High:  make([]float64, n),
		Low:   make([]float64, n),
		Close: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		ha.Close[i] = (open[i] + high[i] + low[i] + close[i]) / 4
		if i == 0 {
			ha.Open[i] = open[0]
		} else {
			ha.Open[i] = (ha.Open[i-1] + ha.Close[i-1]) / 2
		}
		ha.High[i] = math.Max(high[i], math.Max(ha.Open[i], ha.Close[i]))
		ha.Low[i] = math.Min(low[i], math.Min(ha.Open[i], ha.Close[i]))
	}
	return ha
}

// Donchian returns the highest high, lowest low and their midpoint over period bars.
func Donchian(high, low []float64, period int) Bands {
	upper := RollingMax(high, period)
	lower := RollingMin(low, period)
	mid := nanSlice(len(upper))
	for i := range upper {
		if Valid(upper[i], lower[i]) {
			mid[i] = (upper[i] + lower[i]) / 2
		}
	}
	return Bands{Middle: mid, Upper: upper, Lower: lower}
}

// Keltner returns EMA(period) +/- mult*ATR(period).
func Keltner(high, low, close []float64, period int, mult float64) Bands {
	mid := EMA(close, period)
	atr := ATR(high, low, close, period)
	b := Bands{Middle: mid, Upper: nanSlice(len(mid)), Lower: nanSlice(len(mid))}
	for i := range mid {
		if i < len(atr) && Valid(mid[i], atr[i]) {
			b.Upper[i] = mid[i] + mult*atr[i]
			b.Lower[i] = mid[i] - mult*atr[i]
		}
	}
	return b
}

// Slope is the least-squares slope of x over a trailing window (x-axis 0..period-1).
func Slope(x []float64, period int) []float64 {
	n := len(x)
	out := nanSlice(n)
	start := firstValid(x)
	if period <= 1 || n-start < period {
		return out
	}
	w := float64(period)
	denom := w * (w*w - 1) / 12.0
	meanX := (w - 1) / 2
	for i := start + period - 1; i < n; i++ {
		window := x[i-period+1 : i+1]
		meanY := 0.0
		for _, v := range window {
			meanY += v
		}
		meanY /= w
		num := 0.0
		for k, v := range window {
			num += (float64(k) - meanX) * (v - meanY)
		}
		out[i] = num / denom
	}
	return out
}

func minLen(xs ...[]float64) int {
	if len(xs) == 0 {
		return 0
	}
	n := len(xs[0])
	for _, x := range xs[1:] {
		if len(x) < n {
			n = len(x)
		}
	}
	return n
}
