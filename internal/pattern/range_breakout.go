package pattern

import "pattern-trader/internal/domain"

// RangeBreakoutParams tunes the range breakout detector.
type RangeBreakoutParams struct {
	// Lookback is the number of completed bars forming the range.
	Lookback int
	// MaxRangePct is the widest consolidation accepted, as a fraction of
	// the range midpoint.
	MaxRangePct float64
	// TargetMultiple projects the target as a multiple of range width.
	TargetMultiple float64
}

// DefaultRangeBreakoutParams returns the standard tuning.
func DefaultRangeBreakoutParams() RangeBreakoutParams {
	return RangeBreakoutParams{
		Lookback:       20,
		MaxRangePct:    0.03,
		TargetMultiple: 2.0,
	}
}

// RangeBreakout detects a close breaking out of a tight consolidation
// range. Long on a break above the range high, short below the range low,
// with identical arithmetic in both directions.
type RangeBreakout struct {
	params RangeBreakoutParams
}

// NewRangeBreakout creates the detector.
func NewRangeBreakout(params RangeBreakoutParams) *RangeBreakout {
	if params.Lookback <= 0 {
		params = DefaultRangeBreakoutParams()
	}
	return &RangeBreakout{params: params}
}

var _ Detector = (*RangeBreakout)(nil)

func (d *RangeBreakout) Kind() string { return KindRangeBreakout }

// Detect returns a candidate when the latest close clears the range formed
// by the prior Lookback bars. The score measures range tightness, breakout
// distance and volume confirmation; it is omitted when the window carries
// no volume data to measure against.
func (d *RangeBreakout) Detect(series domain.BarSeries) *domain.PatternCandidate {
	n := len(series)
	if n < d.params.Lookback+1 {
		return nil
	}

	last := series[n-1]
	window := series[n-1-d.params.Lookback : n-1]

	rangeHigh := window[0].High
	rangeLow := window[0].Low
	var volSum float64
	for _, b := range window {
		if b.High > rangeHigh {
			rangeHigh = b.High
		}
		if b.Low < rangeLow {
			rangeLow = b.Low
		}
		volSum += float64(b.Volume)
	}

	width := rangeHigh - rangeLow
	mid := (rangeHigh + rangeLow) / 2
	if width <= 0 || mid <= 0 {
		return nil
	}
	if width/mid > d.params.MaxRangePct {
		return nil // not a consolidation
	}

	var (
		direction domain.Direction
		stop      float64
		target    float64
		breakDist float64
	)
	switch {
	case last.Close > rangeHigh:
		direction = domain.DirectionLong
		stop = rangeLow
		target = last.Close + d.params.TargetMultiple*width
		breakDist = last.Close - rangeHigh
	case last.Close < rangeLow:
		direction = domain.DirectionShort
		stop = rangeHigh
		target = last.Close - d.params.TargetMultiple*width
		breakDist = rangeLow - last.Close
	default:
		return nil
	}

	candidate := &domain.PatternCandidate{
		Kind:          d.Kind(),
		Direction:     direction,
		BreakoutPrice: last.Close,
		InitialStop:   stop,
		Target:        target,
	}

	avgVol := volSum / float64(len(window))
	if avgVol <= 0 {
		// No volume data in the window: quality cannot be measured.
		return candidate
	}

	tightness := 1 - (width/mid)/d.params.MaxRangePct
	confirmation := breakDist / width
	if confirmation > 1 {
		confirmation = 1
	}
	volRatio := float64(last.Volume)/avgVol - 1
	if volRatio > 1 {
		volRatio = 1
	}
	if volRatio < 0 {
		volRatio = 0
	}

	candidate.PatternScore = scorePtr((tightness + confirmation + volRatio) / 3)
	return candidate
}
