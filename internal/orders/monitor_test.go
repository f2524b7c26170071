package orders

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/observability"
)

// One registration per test binary: the default registry rejects
// duplicate collectors.
var testMetrics = observability.NewMetrics("orders_test")

func exitLatencySamples(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, testMetrics.ExitLatency.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func openTestPosition(t *testing.T, prices fakePrices) *Manager {
	t.Helper()
	mgr, _ := newManager(t, paperFor(prices), prices)
	require.NoError(t, mgr.OpenPosition(context.Background(), testSignal(), 100, domain.DefaultRiskLimits()))
	return mgr
}

func newMonitor(mgr *Manager, limits domain.RiskLimits) *Monitor {
	return NewMonitor(MonitorOptions{
		Manager: mgr,
		Logger:  zerolog.Nop(),
		Limits:  func() domain.RiskLimits { return limits },
	})
}

func tick(symbol string, price float64) domain.Tick {
	return domain.Tick{Symbol: symbol, LastPrice: price, ExchangeTime: time.Now()}
}

func TestMonitor_StopBreachExits(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)
	mon := newMonitor(mgr, domain.DefaultRiskLimits())

	// Position: long 100 @ 1000, stop 990, target 1020. A tick exactly at
	// the stop counts as a breach.
	prices["RELIANCE"] = 990
	mon.OnTick(tick("RELIANCE", 990))

	assert.Eventually(t, func() bool {
		return mgr.State("RELIANCE") == domain.PositionStateNone
	}, time.Second, 5*time.Millisecond, "stop breach must close the position")
	assert.Empty(t, mgr.Positions())
}

func TestMonitor_TargetReachedExits(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)
	mon := newMonitor(mgr, domain.DefaultRiskLimits())

	prices["RELIANCE"] = 1021
	mon.OnTick(tick("RELIANCE", 1021))

	assert.Eventually(t, func() bool {
		return mgr.State("RELIANCE") == domain.PositionStateNone
	}, time.Second, 5*time.Millisecond)
}

func TestMonitor_IgnoresBenignTicks(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)
	mon := newMonitor(mgr, domain.DefaultRiskLimits())

	mon.OnTick(tick("RELIANCE", 1005))
	mon.OnTick(tick("OTHER", 1))
	mon.OnTick(domain.Tick{Symbol: "RELIANCE"}) // invalid, no price

	time.Sleep(20 * time.Millisecond)
	_, state, ok := mgr.PositionFor("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, domain.PositionStateOpen, state)
}

func TestMonitor_BreachBurstSubmitsOneExit(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)
	mon := newMonitor(mgr, domain.DefaultRiskLimits())

	prices["RELIANCE"] = 985
	for i := 0; i < 10; i++ {
		mon.OnTick(tick("RELIANCE", 985))
	}

	assert.Eventually(t, func() bool {
		return mgr.State("RELIANCE") == domain.PositionStateNone
	}, time.Second, 5*time.Millisecond)

	// A second burst after the close finds nothing to exit.
	mon.OnTick(tick("RELIANCE", 985))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, mgr.Positions())
}

func TestMonitor_ExitLatencySampledPerCompletedExit(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)
	mon := NewMonitor(MonitorOptions{
		Manager: mgr,
		Logger:  zerolog.Nop(),
		Metrics: testMetrics,
		Limits:  domain.DefaultRiskLimits,
	})

	before := exitLatencySamples(t)

	prices["RELIANCE"] = 985
	for i := 0; i < 10; i++ {
		mon.OnTick(tick("RELIANCE", 985))
	}

	require.Eventually(t, func() bool {
		return mgr.State("RELIANCE") == domain.PositionStateNone
	}, time.Second, 5*time.Millisecond)

	// Only the exit that reached the broker records a sample; the
	// collapsed duplicate requests record none.
	require.Eventually(t, func() bool {
		return exitLatencySamples(t) == before+1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before+1, exitLatencySamples(t))
}

func TestMonitor_AdoptedPositionWithoutStopsIsNotExited(t *testing.T) {
	b := &scriptedBroker{positions: []domain.Position{
		{Symbol: "RELIANCE", Side: domain.DirectionLong, Quantity: 100, EntryPrice: 1000},
	}}
	mgr, _ := newManager(t, b, fakePrices{"RELIANCE": 1000})
	require.NoError(t, mgr.Reconcile(context.Background()))

	mon := newMonitor(mgr, domain.DefaultRiskLimits())
	mon.OnTick(tick("RELIANCE", 1005))
	mon.OnTick(tick("RELIANCE", 995))

	time.Sleep(20 * time.Millisecond)
	_, state, ok := mgr.PositionFor("RELIANCE")
	require.True(t, ok, "a position without stop or target rides until close-out")
	assert.Equal(t, domain.PositionStateOpen, state)
}

func TestMonitor_TrailingStopRatchets(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)

	limits := domain.DefaultRiskLimits()
	limits.TrailingStop = true
	limits.TrailingStepPct = 0.5
	mon := newMonitor(mgr, limits)

	// Price moves up: stop follows at 0.5% below.
	mon.OnTick(tick("RELIANCE", 1010))
	pos, _, ok := mgr.PositionFor("RELIANCE")
	require.True(t, ok)
	assert.InDelta(t, 1010-1010*0.005, pos.StopLoss, 1e-9)

	// Price falls back: the stop never loosens.
	mon.OnTick(tick("RELIANCE", 1006))
	after, _, ok := mgr.PositionFor("RELIANCE")
	require.True(t, ok)
	assert.Equal(t, pos.StopLoss, after.StopLoss)
}

func TestMonitor_TrailingStopBreachUsesTightenedStop(t *testing.T) {
	prices := fakePrices{"RELIANCE": 1000}
	mgr := openTestPosition(t, prices)

	limits := domain.DefaultRiskLimits()
	limits.TrailingStop = true
	limits.TrailingStepPct = 0.5
	mon := newMonitor(mgr, limits)

	mon.OnTick(tick("RELIANCE", 1010)) // stop ratchets to ~1004.95

	prices["RELIANCE"] = 1004
	mon.OnTick(tick("RELIANCE", 1004)) // above the original 990 stop, below the trailed one

	assert.Eventually(t, func() bool {
		return mgr.State("RELIANCE") == domain.PositionStateNone
	}, time.Second, 5*time.Millisecond, "the trailed stop must drive the exit")
}
