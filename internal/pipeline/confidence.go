package pipeline

import (
	"pattern-trader/internal/domain"
	"pattern-trader/internal/market"
)

// Sub-score weights. Pattern quality carries the most, trend alignment
// next; everything sums to 1 so confidence stays in [0,100].
const (
	weightPattern   = 0.25
	weightTrend     = 0.25
	weightVolume    = 0.20
	weightMomentum  = 0.15
	weightProximity = 0.15

	// degradedPatternScore stands in when the detector omitted its
	// measurement. Deliberately low: a missing score reduces confidence,
	// it never impersonates a mid-range one.
	degradedPatternScore = 0.2

	momentumLookback = 5
	volumeLookback   = 20
)

// confidence combines volume strength, trend alignment, pattern quality,
// stop proximity and momentum into a 0-100 score. Every sub-score is
// computed on direction-signed values, so a mirrored series with the
// opposite direction scores identically.
func confidence(snap market.Snapshot, cand domain.PatternCandidate) float64 {
	dirSign := 1.0
	if cand.Direction == domain.DirectionShort {
		dirSign = -1
	}

	score := weightPattern * patternSubScore(cand.PatternScore)
	score += weightTrend * trendSubScore(snap.Indicators, dirSign)
	score += weightVolume * volumeSubScore(snap.Bars)
	score += weightMomentum * momentumSubScore(snap.Bars, snap.Indicators, dirSign)
	score += weightProximity * proximitySubScore(cand, snap.Indicators)

	return clamp01(score) * 100
}

func patternSubScore(score *float64) float64 {
	if score == nil {
		return degradedPatternScore
	}
	return clamp01(*score)
}

// trendSubScore maps the ATR-normalized EMA lead, signed by direction,
// onto [0,1] with 0.5 meaning flat.
func trendSubScore(ind market.Indicators, dirSign float64) float64 {
	if !ind.EMAFastValid || !ind.EMASlowValid || !ind.ATRValid || ind.ATR <= 0 {
		return 0.5
	}
	lead := dirSign * (ind.EMAFast - ind.EMASlow) / ind.ATR
	return clamp01(0.5 + lead/2)
}

// volumeSubScore rewards the breakout bar trading above its recent
// average volume. Volume carries no direction, so it is symmetric as-is.
func volumeSubScore(bars domain.BarSeries) float64 {
	if len(bars) < volumeLookback+1 {
		return 0
	}
	last := bars[len(bars)-1]
	window := bars[len(bars)-1-volumeLookback : len(bars)-1]

	var sum float64
	for _, b := range window {
		sum += float64(b.Volume)
	}
	avg := sum / float64(len(window))
	if avg <= 0 {
		return 0
	}
	return clamp01(float64(last.Volume) / avg / 2)
}

// momentumSubScore maps the ATR-normalized recent close change, signed by
// direction, onto [0,1].
func momentumSubScore(bars domain.BarSeries, ind market.Indicators, dirSign float64) float64 {
	if len(bars) < momentumLookback+1 || !ind.ATRValid || ind.ATR <= 0 {
		return 0.5
	}
	change := bars[len(bars)-1].Close - bars[len(bars)-1-momentumLookback].Close
	m := dirSign * change / ind.ATR
	return clamp01(0.5 + m/4)
}

// proximitySubScore scores the stop distance in ATRs: a stop inside one
// ATR is noise, beyond three is structureless. Uses the absolute distance
// so both directions score identically.
func proximitySubScore(cand domain.PatternCandidate, ind market.Indicators) float64 {
	if !ind.ATRValid || ind.ATR <= 0 {
		return 0.5
	}
	risk := cand.BreakoutPrice - cand.InitialStop
	if risk < 0 {
		risk = -risk
	}
	rel := risk / ind.ATR
	return clamp01(1 - abs(rel-2)/2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
