package domain

import "time"

// TradingMode selects live order routing or paper simulation.
type TradingMode string

const (
	ModeLive  TradingMode = "LIVE"
	ModePaper TradingMode = "PAPER"
)

// ScreeningLevelConfig describes one screening level instance. Params are
// level-specific thresholds; unknown keys are ignored by the level.
type ScreeningLevelConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// ScreeningConfig is the runtime-tunable screening pipeline: an ordered
// list of levels plus the pass policy. The level count and order are an
// explicit tunable, not a fixed pipeline.
type ScreeningConfig struct {
	Mode   ScreeningMode          `yaml:"mode"`
	Levels []ScreeningLevelConfig `yaml:"levels"`
}

// DefaultScreeningConfig returns the stock five-level pipeline in
// fail-safe mode.
func DefaultScreeningConfig() ScreeningConfig {
	return ScreeningConfig{
		Mode: ScreeningFailSafe,
		Levels: []ScreeningLevelConfig{
			{Name: "trend_regime", Params: map[string]float64{"min_atr_distance": 0.25}},
			{Name: "volume_confirmation", Params: map[string]float64{"min_volume_ratio": 1.2}},
			{Name: "sr_confluence", Params: map[string]float64{"min_clearance_atr": 0.5, "lookback": 20}},
			{Name: "exposure", Params: nil},
			{Name: "liquidity", Params: map[string]float64{"min_avg_volume": 10000}},
		},
	}
}

// RuntimeConfig is the externally tunable portion of engine behavior,
// persisted through the runtime config store so screening strictness and
// risk limits change between sessions without code changes.
type RuntimeConfig struct {
	Universe  []string        `yaml:"universe"`
	Mode      TradingMode     `yaml:"mode"`
	Screening ScreeningConfig `yaml:"screening"`
	Risk      RiskLimits      `yaml:"risk"`
	UpdatedAt time.Time       `yaml:"-"`
}
