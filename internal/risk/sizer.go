// Package risk converts a screened signal into a sized order quantity or
// a reason-coded rejection. The one invariant that matters most here:
// a degenerate per-share risk is rejected outright, never papered over
// with a placeholder quantity, because a fallback quantity bypasses every
// portfolio control downstream.
package risk

import (
	"errors"
	"fmt"
	"math"

	"pattern-trader/internal/domain"
)

// Rejection reasons. Each maps to one enforced limit.
var (
	ErrNonPositiveRisk     = errors.New("per-share risk is zero or negative")
	ErrStopTooClose        = errors.New("stop distance below minimum")
	ErrPositionExists      = errors.New("position already open for symbol")
	ErrMaxPositions        = errors.New("max concurrent positions reached")
	ErrRewardRiskTooLow    = errors.New("reward:risk below minimum")
	ErrHeatLimit           = errors.New("portfolio heat limit reached")
	ErrInsufficientCapital = errors.New("capital too small for one unit of risk")
)

// Sizer computes risk-checked order quantities.
type Sizer struct{}

// NewSizer creates a Sizer.
func NewSizer() *Sizer {
	return &Sizer{}
}

// Size returns the quantity to trade for a signal, or zero with a
// rejection error naming the violated limit. There is no downsizing path:
// a signal either fits every limit at full computed size or is rejected.
func (s *Sizer) Size(sig domain.Signal, portfolio domain.PortfolioState, limits domain.RiskLimits) (int64, error) {
	perShareRisk := sig.PerShareRisk()
	if perShareRisk <= 0 {
		return 0, fmt.Errorf("%w: entry %.2f stop %.2f", ErrNonPositiveRisk, sig.EntryPrice, sig.StopLoss)
	}

	minDistance := sig.EntryPrice * limits.MinStopDistancePct / 100
	if perShareRisk < minDistance {
		return 0, fmt.Errorf("%w: %.4f < %.4f", ErrStopTooClose, perShareRisk, minDistance)
	}

	if portfolio.HasPosition(sig.Symbol) {
		return 0, fmt.Errorf("%w: %s", ErrPositionExists, sig.Symbol)
	}
	if limits.MaxOpenPositions > 0 && portfolio.OpenCount() >= limits.MaxOpenPositions {
		return 0, fmt.Errorf("%w: %d open", ErrMaxPositions, portfolio.OpenCount())
	}

	if rr := sig.RewardRisk(); rr < limits.MinRewardRisk {
		return 0, fmt.Errorf("%w: %.2f < %.2f", ErrRewardRiskTooLow, rr, limits.MinRewardRisk)
	}

	if portfolio.Capital <= 0 {
		return 0, fmt.Errorf("%w: capital %.2f", ErrInsufficientCapital, portfolio.Capital)
	}

	capitalAtRisk := portfolio.Capital * limits.MaxRiskPerTradePct / 100
	quantity := int64(math.Floor(capitalAtRisk / perShareRisk))
	if quantity <= 0 {
		return 0, fmt.Errorf("%w: %.2f at risk, %.2f per share", ErrInsufficientCapital, capitalAtRisk, perShareRisk)
	}

	if limits.MaxPortfolioHeatPct > 0 {
		newHeat := portfolio.HeatPct() + float64(quantity)*perShareRisk/portfolio.Capital*100
		if newHeat > limits.MaxPortfolioHeatPct {
			return 0, fmt.Errorf("%w: projected %.2f%% > %.2f%%", ErrHeatLimit, newHeat, limits.MaxPortfolioHeatPct)
		}
	}

	return quantity, nil
}
