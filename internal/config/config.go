// Package config exposes strongly typed engine configuration loaded from
// YAML. Everything the operator may tune without code changes lives here:
// symbol universe, trading mode, screening strictness, risk limits, and
// the session calendar.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"pattern-trader/internal/domain"
)

// Duration wraps time.Duration so YAML can carry human-readable values
// like "30s" or "5m".
type Duration time.Duration

// Std converts back to a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML accepts either a duration string or integer nanoseconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("duration must be a string or integer nanoseconds")
	}
	*d = Duration(n)
	return nil
}

// App captures process-wide runtime settings.
type App struct {
	Name         string `yaml:"name"`
	LogLevel     string `yaml:"log_level"`
	OperatorAddr string `yaml:"operator_addr"` // HTTP operator/metrics listener
}

// Feed describes tick feed connectivity.
type Feed struct {
	Provider       string   `yaml:"provider"` // "websocket" or "stub"
	Endpoint       string   `yaml:"endpoint"`
	APIKeyEnv      string   `yaml:"api_key_env"` // env var holding the feed credential
	ConnectTimeout Duration `yaml:"connect_timeout"`
	PingInterval   Duration `yaml:"ping_interval"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	MaxReconnects  int      `yaml:"max_reconnects"`
	ReconnectBase  Duration `yaml:"reconnect_base"`
	ReconnectCap   Duration `yaml:"reconnect_cap"`
}

// Aggregation tunes the candle aggregator.
type Aggregation struct {
	BarInterval      Duration `yaml:"bar_interval"`
	ResamplePeriod   Duration `yaml:"resample_period"`
	TickBufferSize   int      `yaml:"tick_buffer_size"`
	HighWaterPct     float64  `yaml:"high_water_pct"`
	MinBarsForSignal int      `yaml:"min_bars_for_signal"`
}

// Engine tunes orchestrator scheduling.
type Engine struct {
	ScanInterval  Duration `yaml:"scan_interval"`
	EODInterval   Duration `yaml:"eod_interval"` // cadence of the close-out check
	BootstrapDays int      `yaml:"bootstrap_days"`
	ShutdownGrace Duration `yaml:"shutdown_grace"`
	ReadyMajority float64  `yaml:"ready_majority"` // fraction of symbols required live, 0-1
	PatternKind   string   `yaml:"pattern_kind"`
	OfflineScan   bool     `yaml:"offline_scan"` // paper mode: keep evaluating outside session hours
}

// Broker configures order routing.
type Broker struct {
	APIKeyEnv      string   `yaml:"api_key_env"`
	APISecretEnv   string   `yaml:"api_secret_env"`
	OrderTimeout   Duration `yaml:"order_timeout"`
	StatusAttempts int      `yaml:"status_attempts"`
	// Paper broker tuning
	PaperSlippageBps float64 `yaml:"paper_slippage_bps"`
	PaperRejectRate  float64 `yaml:"paper_reject_rate"`
	PaperCapital     float64 `yaml:"paper_capital"`
}

// Storage selects persistence backends.
type Storage struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`
}

// Config collects every configuration leaf for marshaling from YAML.
type Config struct {
	App         App                    `yaml:"app"`
	Feed        Feed                   `yaml:"feed"`
	Aggregation Aggregation            `yaml:"aggregation"`
	Engine      Engine                 `yaml:"engine"`
	Broker      Broker                 `yaml:"broker"`
	Storage     Storage                `yaml:"storage"`
	Session     domain.SessionCalendar `yaml:"session"`
	Runtime     domain.RuntimeConfig   `yaml:"runtime"`
}

// Default returns a paper-mode configuration that runs entirely in memory.
func Default() *Config {
	return &Config{
		App: App{
			Name:         "pattern-trader",
			LogLevel:     "info",
			OperatorAddr: ":8942",
		},
		Feed: Feed{
			Provider:       "stub",
			ConnectTimeout: Duration(15 * time.Second),
			PingInterval:   Duration(30 * time.Second),
			ReadTimeout:    Duration(60 * time.Second),
			MaxReconnects:  10,
			ReconnectBase:  Duration(1 * time.Second),
			ReconnectCap:   Duration(30 * time.Second),
		},
		Aggregation: Aggregation{
			BarInterval:      Duration(1 * time.Minute),
			ResamplePeriod:   Duration(3 * time.Second),
			TickBufferSize:   5000,
			HighWaterPct:     0.8,
			MinBarsForSignal: 30,
		},
		Engine: Engine{
			ScanInterval:  Duration(60 * time.Second),
			EODInterval:   Duration(10 * time.Second),
			BootstrapDays: 5,
			ShutdownGrace: Duration(10 * time.Second),
			ReadyMajority: 0.5,
			PatternKind:   "range_breakout",
		},
		Broker: Broker{
			OrderTimeout:     Duration(10 * time.Second),
			StatusAttempts:   5,
			PaperSlippageBps: 5,
			PaperCapital:     1_000_000,
		},
		Storage: Storage{UseMemory: true},
		Session: domain.DefaultSessionCalendar(),
		Runtime: domain.RuntimeConfig{
			Mode:      domain.ModePaper,
			Screening: domain.DefaultScreeningConfig(),
			Risk:      domain.DefaultRiskLimits(),
		},
	}
}

// Load reads a YAML file and hydrates a Config over the defaults.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := Default()
	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists a Config to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Aggregation.BarInterval <= 0 {
		return fmt.Errorf("aggregation.bar_interval must be positive")
	}
	if c.Aggregation.ResamplePeriod <= 0 || c.Aggregation.ResamplePeriod.Std() > 5*time.Second {
		return fmt.Errorf("aggregation.resample_period must be in (0, 5s]")
	}
	if c.Aggregation.TickBufferSize <= 0 {
		return fmt.Errorf("aggregation.tick_buffer_size must be positive")
	}
	if c.Engine.ScanInterval <= 0 {
		return fmt.Errorf("engine.scan_interval must be positive")
	}
	if c.Engine.ReadyMajority <= 0 || c.Engine.ReadyMajority > 1 {
		return fmt.Errorf("engine.ready_majority must be in (0, 1]")
	}
	switch c.Runtime.Mode {
	case domain.ModeLive, domain.ModePaper:
	default:
		return fmt.Errorf("runtime.mode must be LIVE or PAPER, got %q", c.Runtime.Mode)
	}
	switch c.Runtime.Screening.Mode {
	case domain.ScreeningStrict, domain.ScreeningFailSafe:
	default:
		return fmt.Errorf("runtime.screening.mode must be STRICT or FAILSAFE, got %q", c.Runtime.Screening.Mode)
	}
	if c.Runtime.Mode == domain.ModeLive && !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("live mode requires storage.postgres_dsn or storage.use_memory")
	}
	return nil
}
