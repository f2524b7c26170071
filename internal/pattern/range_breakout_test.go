package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
)

// rangeSeries builds lookback bars oscillating inside [low, high] followed
// by one bar closing at breakClose.
func rangeSeries(lookback int, low, high, breakClose float64, vol, breakVol int64) domain.BarSeries {
	start := time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC)
	series := make(domain.BarSeries, 0, lookback+1)
	for i := 0; i < lookback; i++ {
		up := i%2 == 0
		open, close := low+0.2, high-0.2
		if !up {
			open, close = high-0.2, low+0.2
		}
		series = append(series, domain.Bar{
			Symbol: "X", Open: open, High: high, Low: low, Close: close,
			Volume: vol, StartTime: start.Add(time.Duration(i) * time.Minute),
		})
	}
	series = append(series, domain.Bar{
		Symbol: "X", Open: high - 0.2, High: breakClose, Low: high - 0.5,
		Close: breakClose, Volume: breakVol,
		StartTime: start.Add(time.Duration(lookback) * time.Minute),
	})
	return series
}

// mirror reflects every price around center, swapping highs and lows.
func mirror(series domain.BarSeries, center float64) domain.BarSeries {
	out := make(domain.BarSeries, len(series))
	for i, b := range series {
		out[i] = domain.Bar{
			Symbol:    b.Symbol,
			Open:      2*center - b.Open,
			High:      2*center - b.Low,
			Low:       2*center - b.High,
			Close:     2*center - b.Close,
			Volume:    b.Volume,
			StartTime: b.StartTime,
		}
	}
	return out
}

func TestRangeBreakout_Long(t *testing.T) {
	d := NewRangeBreakout(DefaultRangeBreakoutParams())
	series := rangeSeries(20, 99, 101, 101.8, 1000, 2500)

	c := d.Detect(series)
	require.NotNil(t, c)
	assert.Equal(t, domain.DirectionLong, c.Direction)
	assert.Equal(t, 101.8, c.BreakoutPrice)
	assert.Equal(t, 99.0, c.InitialStop)
	assert.Greater(t, c.Target, c.BreakoutPrice)
	require.NotNil(t, c.PatternScore)
	assert.GreaterOrEqual(t, *c.PatternScore, 0.0)
	assert.LessOrEqual(t, *c.PatternScore, 1.0)
}

func TestRangeBreakout_NoBreakoutInsideRange(t *testing.T) {
	d := NewRangeBreakout(DefaultRangeBreakoutParams())
	series := rangeSeries(20, 99, 101, 100.5, 1000, 1000)
	assert.Nil(t, d.Detect(series))
}

func TestRangeBreakout_WideRangeRejected(t *testing.T) {
	d := NewRangeBreakout(DefaultRangeBreakoutParams())
	// 90-110 around mid 100 is a 20% range, far too wide to be a base.
	series := rangeSeries(20, 90, 110, 111, 1000, 2000)
	assert.Nil(t, d.Detect(series))
}

func TestRangeBreakout_ShortSeries(t *testing.T) {
	d := NewRangeBreakout(DefaultRangeBreakoutParams())
	series := rangeSeries(20, 99, 101, 101.8, 1000, 2500)
	assert.Nil(t, d.Detect(series[:10]))
}

func TestRangeBreakout_ScoreOmittedWithoutVolume(t *testing.T) {
	d := NewRangeBreakout(DefaultRangeBreakoutParams())
	series := rangeSeries(20, 99, 101, 101.8, 0, 0)

	c := d.Detect(series)
	require.NotNil(t, c)
	assert.Nil(t, c.PatternScore, "score must be omitted, not defaulted, when unmeasurable")
}

func TestRangeBreakout_MirrorSymmetry(t *testing.T) {
	d := NewRangeBreakout(DefaultRangeBreakoutParams())
	series := rangeSeries(20, 99, 101, 101.8, 1000, 2500)
	mirrored := mirror(series, 100) // range midpoint

	long := d.Detect(series)
	short := d.Detect(mirrored)
	require.NotNil(t, long)
	require.NotNil(t, short)

	assert.Equal(t, domain.DirectionLong, long.Direction)
	assert.Equal(t, domain.DirectionShort, short.Direction)
	require.NotNil(t, long.PatternScore)
	require.NotNil(t, short.PatternScore)
	assert.InDelta(t, *long.PatternScore, *short.PatternScore, 1e-9)
	assert.InDelta(t, long.BreakoutPrice-long.InitialStop,
		short.InitialStop-short.BreakoutPrice, 1e-9)
}
