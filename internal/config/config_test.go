package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
)

func TestLoad_OverridesDefaults(t *testing.T) {
	raw := `
app:
  log_level: debug
engine:
  scan_interval: 30s
runtime:
  universe: [RELIANCE, TCS, INFY]
  mode: PAPER
  screening:
    mode: STRICT
    levels:
      - name: trend_regime
      - name: exposure
  risk:
    max_open_positions: 2
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.App.LogLevel)
	require.Equal(t, 30*time.Second, cfg.Engine.ScanInterval.Std())
	require.Equal(t, []string{"RELIANCE", "TCS", "INFY"}, cfg.Runtime.Universe)
	require.Equal(t, domain.ScreeningStrict, cfg.Runtime.Screening.Mode)
	require.Len(t, cfg.Runtime.Screening.Levels, 2)
	require.Equal(t, 2, cfg.Runtime.Risk.MaxOpenPositions)

	// Untouched leaves keep their defaults.
	require.Equal(t, time.Minute, cfg.Aggregation.BarInterval.Std())
	require.Equal(t, "Asia/Kolkata", cfg.Session.Timezone)
}

func TestLoad_RejectsBadMode(t *testing.T) {
	raw := `
runtime:
  mode: YOLO
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "runtime.mode")
}

func TestValidate_ResamplePeriodBound(t *testing.T) {
	cfg := Default()
	cfg.Aggregation.ResamplePeriod = Duration(10 * time.Second)
	require.Error(t, cfg.Validate())

	cfg.Aggregation.ResamplePeriod = Duration(2 * time.Second)
	require.NoError(t, cfg.Validate())
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Runtime.Universe = []string{"HDFCBANK"}

	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Runtime.Universe, loaded.Runtime.Universe)
	require.Equal(t, cfg.Session.CloseoutLeadMinutes, loaded.Session.CloseoutLeadMinutes)
}
