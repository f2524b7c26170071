package pattern

import "pattern-trader/internal/domain"

// DoubleExtremeParams tunes the double top / double bottom detector.
type DoubleExtremeParams struct {
	// Lookback is the number of completed bars searched for the two peaks.
	Lookback int
	// PeakTolerancePct bounds how far apart the two extreme prices may be,
	// relative to their average.
	PeakTolerancePct float64
	// MinSeparation is the minimum bar distance between the two extremes.
	MinSeparation int
}

// DefaultDoubleExtremeParams returns the standard tuning.
func DefaultDoubleExtremeParams() DoubleExtremeParams {
	return DoubleExtremeParams{
		Lookback:         40,
		PeakTolerancePct: 0.02,
		MinSeparation:    5,
	}
}

// DoubleExtreme detects double tops (short) and double bottoms (long):
// two extremes of similar height with a neckline between them, confirmed
// by the latest close breaking through the neckline.
type DoubleExtreme struct {
	params DoubleExtremeParams
}

// NewDoubleExtreme creates the detector.
func NewDoubleExtreme(params DoubleExtremeParams) *DoubleExtreme {
	if params.Lookback <= 0 {
		params = DefaultDoubleExtremeParams()
	}
	return &DoubleExtreme{params: params}
}

var _ Detector = (*DoubleExtreme)(nil)

func (d *DoubleExtreme) Kind() string { return KindDoubleExtreme }

// Detect checks for a confirmed double top first, then a double bottom.
// The score measures peak symmetry, neckline depth and formation duration.
func (d *DoubleExtreme) Detect(series domain.BarSeries) *domain.PatternCandidate {
	n := len(series)
	if n < d.params.Lookback+1 {
		return nil
	}

	last := series[n-1]
	window := series[n-1-d.params.Lookback : n-1]

	if c := d.detectTop(window, last); c != nil {
		return c
	}
	return d.detectBottom(window, last)
}

func (d *DoubleExtreme) detectTop(window domain.BarSeries, last domain.Bar) *domain.PatternCandidate {
	i1, i2 := twoExtremes(window, d.params.MinSeparation, func(a, b domain.Bar) bool {
		return a.High > b.High
	})
	if i1 < 0 {
		return nil
	}

	h1, h2 := window[i1].High, window[i2].High
	avgPeak := (h1 + h2) / 2
	diff := h1 - h2
	if diff < 0 {
		diff = -diff
	}
	if avgPeak <= 0 || diff/avgPeak > d.params.PeakTolerancePct {
		return nil
	}

	neckline := window[i1].Low
	for i := i1; i <= i2; i++ {
		if window[i].Low < neckline {
			neckline = window[i].Low
		}
	}
	if last.Close >= neckline {
		return nil // not confirmed
	}

	depth := avgPeak - neckline
	return &domain.PatternCandidate{
		Kind:          d.Kind(),
		Direction:     domain.DirectionShort,
		BreakoutPrice: last.Close,
		InitialStop:   maxf(h1, h2),
		Target:        last.Close - depth,
		PatternScore:  d.score(diff, depth, priceSpan(window), i2-i1),
	}
}

func (d *DoubleExtreme) detectBottom(window domain.BarSeries, last domain.Bar) *domain.PatternCandidate {
	i1, i2 := twoExtremes(window, d.params.MinSeparation, func(a, b domain.Bar) bool {
		return a.Low < b.Low
	})
	if i1 < 0 {
		return nil
	}

	l1, l2 := window[i1].Low, window[i2].Low
	avgTrough := (l1 + l2) / 2
	diff := l1 - l2
	if diff < 0 {
		diff = -diff
	}
	if avgTrough <= 0 || diff/avgTrough > d.params.PeakTolerancePct {
		return nil
	}

	neckline := window[i1].High
	for i := i1; i <= i2; i++ {
		if window[i].High > neckline {
			neckline = window[i].High
		}
	}
	if last.Close <= neckline {
		return nil
	}

	depth := neckline - avgTrough
	return &domain.PatternCandidate{
		Kind:          d.Kind(),
		Direction:     domain.DirectionLong,
		BreakoutPrice: last.Close,
		InitialStop:   minf(l1, l2),
		Target:        last.Close + depth,
		PatternScore:  d.score(diff, depth, priceSpan(window), i2-i1),
	}
}

// score combines peak similarity, formation depth and duration into one
// [0,1] quality measurement. Everything is normalized by the window's
// price span so the arithmetic is identical for tops and bottoms.
func (d *DoubleExtreme) score(peakDiff, depth, span float64, separation int) *float64 {
	if span <= 0 {
		return nil
	}

	symmetry := 1 - peakDiff/span

	relDepth := depth / span
	if relDepth > 1 {
		relDepth = 1
	}

	duration := float64(separation) / float64(d.params.Lookback)
	if duration > 1 {
		duration = 1
	}

	return scorePtr((symmetry + relDepth + duration) / 3)
}

// priceSpan is the window's full high-low extent.
func priceSpan(window domain.BarSeries) float64 {
	if len(window) == 0 {
		return 0
	}
	high, low := window[0].High, window[0].Low
	for _, b := range window {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high - low
}

// twoExtremes finds the indices of the two strongest local extremes in the
// window, at least minSep bars apart, ordered i1 < i2. Returns (-1, -1)
// when no such pair exists.
func twoExtremes(window domain.BarSeries, minSep int, better func(a, b domain.Bar) bool) (int, int) {
	var extremes []int
	for i := 1; i < len(window)-1; i++ {
		if better(window[i], window[i-1]) && better(window[i], window[i+1]) {
			extremes = append(extremes, i)
		}
	}
	if len(extremes) < 2 {
		return -1, -1
	}

	best1, best2 := -1, -1
	for _, i := range extremes {
		switch {
		case best1 < 0 || better(window[i], window[best1]):
			best2 = best1
			best1 = i
		case best2 < 0 || better(window[i], window[best2]):
			best2 = i
		}
	}
	if best1 < 0 || best2 < 0 {
		return -1, -1
	}

	i1, i2 := best1, best2
	if i1 > i2 {
		i1, i2 = i2, i1
	}
	if i2-i1 < minSep {
		return -1, -1
	}
	return i1, i2
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
