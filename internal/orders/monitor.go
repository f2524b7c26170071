package orders

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/observability"
)

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Manager *Manager
	Logger  zerolog.Logger
	Metrics *observability.Metrics
	Limits  func() domain.RiskLimits
}

// Monitor watches every tick against open positions and requests an exit
// the moment a stop or target is touched. Exits run off the feed
// goroutine; the manager's EXIT_REQUESTED state keeps a burst of breach
// ticks from submitting duplicate orders.
type Monitor struct {
	mgr     *Manager
	log     zerolog.Logger
	metrics *observability.Metrics
	limits  func() domain.RiskLimits
}

// NewMonitor creates a Monitor.
func NewMonitor(opts MonitorOptions) *Monitor {
	if opts.Limits == nil {
		opts.Limits = domain.DefaultRiskLimits
	}
	return &Monitor{
		mgr:     opts.Manager,
		log:     opts.Logger.With().Str("component", "monitor").Logger(),
		metrics: opts.Metrics,
		limits:  opts.Limits,
	}
}

// OnTick evaluates one tick against the symbol's open position. Invalid
// ticks and symbols without an open position are ignored.
func (m *Monitor) OnTick(tick domain.Tick) {
	if !tick.Valid() {
		return
	}
	pos, state, ok := m.mgr.PositionFor(tick.Symbol)
	if !ok || state != domain.PositionStateOpen {
		return
	}

	limits := m.limits()
	if limits.TrailingStop {
		pos = m.trail(pos, tick.LastPrice, limits)
	}

	var reason string
	switch {
	case pos.StopBreached(tick.LastPrice):
		reason = domain.ExitReasonStopLoss
	case pos.TargetReached(tick.LastPrice):
		reason = domain.ExitReasonTarget
	default:
		return
	}

	observed := time.Now()
	go m.exit(tick.Symbol, reason, tick.LastPrice, observed)
}

// trail ratchets the stop toward profit, never away from it. Returns the
// position with the stop the breach check should use.
func (m *Monitor) trail(pos domain.Position, price float64, limits domain.RiskLimits) domain.Position {
	step := price * limits.TrailingStepPct / 100
	if step <= 0 {
		return pos
	}

	var candidate float64
	if pos.Side == domain.DirectionLong {
		candidate = price - step
		if candidate <= pos.StopLoss {
			return pos
		}
	} else {
		candidate = price + step
		if candidate >= pos.StopLoss {
			return pos
		}
	}

	if err := m.mgr.AdjustStop(context.Background(), pos.Symbol, candidate); err != nil {
		return pos
	}
	pos.StopLoss = candidate
	return pos
}

// exit requests the close and records how long the breach-to-confirmation
// path took. Concurrent breach ticks collapse into one exit; the collapsed
// duplicates record no latency sample.
func (m *Monitor) exit(symbol, reason string, price float64, observed time.Time) {
	err := m.mgr.ClosePosition(context.Background(), symbol, reason)
	if errors.Is(err, ErrExitInFlight) || errors.Is(err, ErrNoOpenPosition) {
		return
	}
	if m.metrics != nil {
		m.metrics.ExitLatency.Observe(time.Since(observed).Seconds())
	}
	if err != nil {
		m.log.Error().Err(err).
			Str("symbol", symbol).
			Str("reason", reason).
			Float64("trigger_price", price).
			Msg("exit request failed")
		return
	}
	m.log.Info().
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("trigger_price", price).
		Msg("exit triggered by tick")
}
