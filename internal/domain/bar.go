package domain

import "time"

// Bar is an OHLCV summary of ticks over one fixed time bucket.
// Bars are append-only per symbol; the most recent bar may be mutated
// in place while its bucket is still open.
type Bar struct {
	Symbol    string
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
	StartTime time.Time // bucket start, aligned to the bar interval
}

// BarSeries is an ordered, append-only sequence of bars for one symbol.
type BarSeries []Bar

// Last returns the most recent bar. The boolean is false for an empty series.
func (s BarSeries) Last() (Bar, bool) {
	if len(s) == 0 {
		return Bar{}, false
	}
	return s[len(s)-1], true
}

// Closes extracts closing prices in series order.
func (s BarSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Close
	}
	return out
}

// Highs extracts high prices in series order.
func (s BarSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.High
	}
	return out
}

// Lows extracts low prices in series order.
func (s BarSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = b.Low
	}
	return out
}

// Volumes extracts volumes in series order as floats for indicator input.
func (s BarSeries) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, b := range s {
		out[i] = float64(b.Volume)
	}
	return out
}

// Clone returns a deep copy so readers can analyze a snapshot without
// holding the symbol lock.
func (s BarSeries) Clone() BarSeries {
	out := make(BarSeries, len(s))
	copy(out, s)
	return out
}
