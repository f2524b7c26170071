package pipeline

import (
	"errors"

	"pattern-trader/internal/domain"
)

// Rejection reason codes emitted by the screening levels.
const (
	ReasonTrendMisaligned = "TREND_MISALIGNED"
	ReasonVolumeWeak      = "VOLUME_WEAK"
	ReasonSRTooClose      = "SR_TOO_CLOSE"
	ReasonPositionExists  = "POSITION_EXISTS"
	ReasonMaxPositions    = "MAX_POSITIONS"
	ReasonHeatLimit       = "HEAT_LIMIT"
	ReasonIlliquid        = "ILLIQUID"
)

var (
	errIndicatorsNotReady = errors.New("indicators not computable for series")
	errNoVolumeData       = errors.New("no volume data in window")
	errInsufficientBars   = errors.New("not enough bars for level")
)

// trendRegimeCheck requires the fast EMA to lead the slow EMA in the
// candidate's direction by a minimum ATR distance. The same arithmetic
// serves both directions via a direction sign.
type trendRegimeCheck struct {
	minATRDistance float64
}

func (c *trendRegimeCheck) Name() string { return LevelTrendRegime }

func (c *trendRegimeCheck) Run(in Input) domain.ScreeningResult {
	ind := in.Snapshot.Indicators
	if !ind.EMAFastValid || !ind.EMASlowValid || !ind.ATRValid || ind.ATR <= 0 {
		return internalErr(c.Name(), errIndicatorsNotReady)
	}

	lead := (ind.EMAFast - ind.EMASlow) / ind.ATR
	if in.Candidate.Direction == domain.DirectionShort {
		lead = -lead
	}
	if lead < c.minATRDistance {
		return fail(c.Name(), ReasonTrendMisaligned)
	}
	return pass(c.Name())
}

// volumeConfirmationCheck requires the breakout bar's volume to exceed the
// prior average by a configured ratio.
type volumeConfirmationCheck struct {
	minRatio float64
	lookback int
}

func (c *volumeConfirmationCheck) Name() string { return LevelVolumeConfirmation }

func (c *volumeConfirmationCheck) Run(in Input) domain.ScreeningResult {
	bars := in.Snapshot.Bars
	if len(bars) < c.lookback+1 {
		return internalErr(c.Name(), errInsufficientBars)
	}

	last := bars[len(bars)-1]
	window := bars[len(bars)-1-c.lookback : len(bars)-1]

	var sum float64
	for _, b := range window {
		sum += float64(b.Volume)
	}
	avg := sum / float64(len(window))
	if avg <= 0 {
		return internalErr(c.Name(), errNoVolumeData)
	}

	if float64(last.Volume)/avg < c.minRatio {
		return fail(c.Name(), ReasonVolumeWeak)
	}
	return pass(c.Name())
}

// srConfluenceCheck requires the entry to clear the nearest opposing
// swing level (prior high for longs, prior low for shorts) by a minimum
// number of ATRs, so the trade is not entered straight into resistance.
type srConfluenceCheck struct {
	minClearanceATR float64
	lookback        int
}

func (c *srConfluenceCheck) Name() string { return LevelSRConfluence }

func (c *srConfluenceCheck) Run(in Input) domain.ScreeningResult {
	bars := in.Snapshot.Bars
	ind := in.Snapshot.Indicators
	if len(bars) < c.lookback+1 {
		return internalErr(c.Name(), errInsufficientBars)
	}
	if !ind.ATRValid || ind.ATR <= 0 {
		return internalErr(c.Name(), errIndicatorsNotReady)
	}

	// Exclude the breakout bar itself from the swing window.
	window := bars[len(bars)-1-c.lookback : len(bars)-1]

	var clearance float64
	if in.Candidate.Direction == domain.DirectionLong {
		swing := window[0].High
		for _, b := range window {
			if b.High > swing {
				swing = b.High
			}
		}
		clearance = in.Candidate.BreakoutPrice - swing
	} else {
		swing := window[0].Low
		for _, b := range window {
			if b.Low < swing {
				swing = b.Low
			}
		}
		clearance = swing - in.Candidate.BreakoutPrice
	}

	if clearance/ind.ATR < c.minClearanceATR {
		return fail(c.Name(), ReasonSRTooClose)
	}
	return pass(c.Name())
}

// exposureCheck enforces portfolio-level limits: one position per symbol,
// the open-position cap, and the aggregate heat ceiling. These are pure
// business rules; the level itself cannot error.
type exposureCheck struct{}

func (c *exposureCheck) Name() string { return LevelExposure }

func (c *exposureCheck) Run(in Input) domain.ScreeningResult {
	if in.Portfolio.HasPosition(in.Snapshot.Symbol) {
		return fail(c.Name(), ReasonPositionExists)
	}
	if in.Limits.MaxOpenPositions > 0 && in.Portfolio.OpenCount() >= in.Limits.MaxOpenPositions {
		return fail(c.Name(), ReasonMaxPositions)
	}
	if in.Limits.MaxPortfolioHeatPct > 0 && in.Portfolio.HeatPct() >= in.Limits.MaxPortfolioHeatPct {
		return fail(c.Name(), ReasonHeatLimit)
	}
	return pass(c.Name())
}

// liquidityCheck requires a minimum average traded volume so exits do not
// move the market.
type liquidityCheck struct {
	minAvgVolume float64
	lookback     int
}

func (c *liquidityCheck) Name() string { return LevelLiquidity }

func (c *liquidityCheck) Run(in Input) domain.ScreeningResult {
	bars := in.Snapshot.Bars
	if len(bars) < c.lookback {
		return internalErr(c.Name(), errInsufficientBars)
	}

	window := bars[len(bars)-c.lookback:]
	var sum float64
	for _, b := range window {
		sum += float64(b.Volume)
	}
	avg := sum / float64(len(window))
	if avg <= 0 {
		return internalErr(c.Name(), errNoVolumeData)
	}

	if avg < c.minAvgVolume {
		return fail(c.Name(), ReasonIlliquid)
	}
	return pass(c.Name())
}
