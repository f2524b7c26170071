package domain

// PortfolioState is a read-only view of the account handed to the risk
// sizer and the screening levels.
type PortfolioState struct {
	Capital       float64 // account equity used for risk calculations
	OpenPositions []Position
}

// OpenCount returns the number of open positions.
func (p PortfolioState) OpenCount() int {
	return len(p.OpenPositions)
}

// HasPosition reports whether a position is open for the symbol.
func (p PortfolioState) HasPosition(symbol string) bool {
	for _, pos := range p.OpenPositions {
		if pos.Symbol == symbol {
			return true
		}
	}
	return false
}

// HeatPct is the aggregate risk committed across all open positions as a
// percentage of capital. Zero capital yields zero heat rather than dividing.
func (p PortfolioState) HeatPct() float64 {
	if p.Capital <= 0 {
		return 0
	}
	var risk float64
	for _, pos := range p.OpenPositions {
		risk += pos.RiskAmount()
	}
	return risk / p.Capital * 100
}

// RiskLimits are the portfolio guard-rails enforced by the sizer.
// All percentages are expressed as 0-100 values.
type RiskLimits struct {
	MaxRiskPerTradePct  float64 `yaml:"max_risk_per_trade_pct"`
	MaxOpenPositions    int     `yaml:"max_open_positions"`
	MaxPortfolioHeatPct float64 `yaml:"max_portfolio_heat_pct"`
	MinRewardRisk       float64 `yaml:"min_reward_risk"`
	// MinStopDistancePct rejects stops placed so close to entry that the
	// computed quantity would be meaninglessly large.
	MinStopDistancePct float64 `yaml:"min_stop_distance_pct"`
	MaxSlippageBps     float64 `yaml:"max_slippage_bps"`
	TrailingStop       bool    `yaml:"trailing_stop"`
	TrailingStepPct    float64 `yaml:"trailing_step_pct"`
}

// DefaultRiskLimits returns conservative defaults used when the runtime
// config store has no saved limits.
func DefaultRiskLimits() RiskLimits {
	return RiskLimits{
		MaxRiskPerTradePct:  1.0,
		MaxOpenPositions:    5,
		MaxPortfolioHeatPct: 5.0,
		MinRewardRisk:       1.5,
		MinStopDistancePct:  0.1,
		MaxSlippageBps:      20,
		TrailingStop:        false,
		TrailingStepPct:     0.5,
	}
}
