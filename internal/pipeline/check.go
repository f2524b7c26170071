// Package pipeline turns an updated bar series into a screened, scored
// trade signal. Stages run in order: pattern detection, the configured
// screening levels, then confidence scoring.
package pipeline

import (
	"errors"
	"fmt"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/market"
)

// Screening level names selectable from configuration.
const (
	LevelTrendRegime        = "trend_regime"
	LevelVolumeConfirmation = "volume_confirmation"
	LevelSRConfluence       = "sr_confluence"
	LevelExposure           = "exposure"
	LevelLiquidity          = "liquidity"
)

// ErrUnknownLevel is returned when configuration names a level that does
// not exist.
var ErrUnknownLevel = errors.New("unknown screening level")

// Input is everything one screening level may consult. Snapshot is a
// copy; levels never touch live state.
type Input struct {
	Snapshot  market.Snapshot
	Candidate domain.PatternCandidate
	Portfolio domain.PortfolioState
	Limits    domain.RiskLimits
}

// Check is one screening level. Run returns a business pass/fail with a
// reason, or sets Err when the level itself could not be evaluated.
type Check interface {
	Name() string
	Run(in Input) domain.ScreeningResult
}

// NewChecks assembles the ordered screening list from configuration.
func NewChecks(levels []domain.ScreeningLevelConfig) ([]Check, error) {
	checks := make([]Check, 0, len(levels))
	for _, lvl := range levels {
		check, err := newCheck(lvl)
		if err != nil {
			return nil, err
		}
		checks = append(checks, check)
	}
	return checks, nil
}

func newCheck(lvl domain.ScreeningLevelConfig) (Check, error) {
	switch lvl.Name {
	case LevelTrendRegime:
		return &trendRegimeCheck{minATRDistance: param(lvl, "min_atr_distance", 0.25)}, nil
	case LevelVolumeConfirmation:
		return &volumeConfirmationCheck{
			minRatio: param(lvl, "min_volume_ratio", 1.2),
			lookback: int(param(lvl, "lookback", 20)),
		}, nil
	case LevelSRConfluence:
		return &srConfluenceCheck{
			minClearanceATR: param(lvl, "min_clearance_atr", 0.5),
			lookback:        int(param(lvl, "lookback", 20)),
		}, nil
	case LevelExposure:
		return &exposureCheck{}, nil
	case LevelLiquidity:
		return &liquidityCheck{
			minAvgVolume: param(lvl, "min_avg_volume", 10000),
			lookback:     int(param(lvl, "lookback", 20)),
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownLevel, lvl.Name)
	}
}

func param(lvl domain.ScreeningLevelConfig, key string, fallback float64) float64 {
	if v, ok := lvl.Params[key]; ok {
		return v
	}
	return fallback
}

func pass(level string) domain.ScreeningResult {
	return domain.ScreeningResult{Level: level, Passed: true}
}

func fail(level, reason string) domain.ScreeningResult {
	return domain.ScreeningResult{Level: level, Passed: false, Reason: reason}
}

func internalErr(level string, err error) domain.ScreeningResult {
	return domain.ScreeningResult{Level: level, Passed: false, Err: err}
}
