package models

// Candles holds index-aligned OHLCV sequences, most recent bar last.
// Time is the bar open time in unix milliseconds.
type Candles struct {
	Open   []float64 `json:"open"`
	High   []float64 `json:"high"`
	Low    []float64 `json:"low"`
	Close  []float64 `json:"close"`
	Volume []float64 `json:"volume"`
	Time   []int64   `json:"time"`
}

// Len returns the number of complete bars, i.e. the shortest of the aligned sequences.
func (c Candles) Len() int {
	n := len(c.Close)
	for _, l := range []int{len(c.Open), len(c.High), len(c.Low), len(c.Time)} {
		if l < n {
			n = l
		}
	}
	return n
}

// LastTime returns the open time of the latest bar, or 0 when empty.
func (c Candles) LastTime() int64 {
	n := c.Len()
	if n == 0 {
		return 0
	}
	return c.Time[n-1]
}

// LastClose returns the close of the latest bar, or 0 when empty.
func (c Candles) LastClose() float64 {
	n := c.Len()
	if n == 0 {
		return 0
	}
	return c.Close[n-1]
}

// Append adds one bar.
func (c *Candles) Append(t int64, open, high, low, close, volume float64) {
	c.Time = append(c.Time, t)
	c.Open = append(c.Open, open)
	c.High = append(c.High, high)
	c.Low = append(c.Low, low)
	c.Close = append(c.Close, close)
	c.Volume = append(c.Volume, volume)
}

// Tail returns a view of the last n bars (all bars when n <= 0 or n >= Len).
func (c Candles) Tail(n int) Candles {
	l := c.Len()
	if n <= 0 || n >= l {
		return Candles{
			Open: c.Open[:l], High: c.High[:l], Low: c.Low[:l], Close: c.Close[:l],
			Volume: tailFloat(c.Volume, l, l), Time: c.Time[:l],
		}
	}
	s := l - n
	return Candles{
		Open:   c.Open[s:l],
		High:   c.High[s:l],
		Low:    c.Low[s:l],
		Close:  c.Close[s:l],
		Volume: tailFloat(c.Volume, l, n),
		Time:   c.Time[s:l],
	}
}

// volume is optional and may be shorter than the price sequences
func tailFloat(v []float64, l, n int) []float64 {
	if len(v) < l {
		return nil
	}
	return v[l-n : l]
}
