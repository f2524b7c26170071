// Package orders owns the per-symbol order/position state machine:
// NONE, PENDING_ENTRY, OPEN, EXIT_REQUESTED and back to NONE, with the
// REJECTED fail path on broker rejection. Positions transition only on
// confirmed broker fills; every transition leaves one audit event.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pattern-trader/internal/broker"
	"pattern-trader/internal/domain"
	"pattern-trader/internal/observability"
	"pattern-trader/internal/retry"
	"pattern-trader/internal/storage"
)

var (
	// ErrPositionActive blocks a second entry while a symbol is anywhere
	// past NONE. At most one position per symbol.
	ErrPositionActive = errors.New("symbol already has an active position or pending order")
	// ErrNoOpenPosition is returned by exit paths when nothing is open.
	ErrNoOpenPosition = errors.New("no open position for symbol")
	// ErrExitInFlight means an exit has already been requested.
	ErrExitInFlight = errors.New("exit already requested for symbol")
	// ErrEntryRejected wraps a broker-side entry rejection.
	ErrEntryRejected = errors.New("entry order rejected by broker")
	// ErrExitRejected wraps a broker-side exit rejection. The position
	// stays OPEN so the monitor retries on the next tick.
	ErrExitRejected = errors.New("exit order rejected by broker")
	// ErrOrderUnresolved means the status poll budget ran out with the
	// order still pending.
	ErrOrderUnresolved = errors.New("order outcome unresolved within poll budget")
)

// Options configures a Manager.
type Options struct {
	Broker       broker.Broker
	Prices       broker.PriceSource
	Audit        storage.AuditEventStore
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
	StatusPolicy retry.Policy
	OrderTimeout time.Duration
	// Limits supplies the current risk limits so exit orders pick up
	// operator changes to the slippage bound without a restart.
	Limits func() domain.RiskLimits
}

type symbolBook struct {
	state    domain.PositionState
	position *domain.Position
}

// Manager routes sized signals to the broker and tracks the resulting
// positions. All methods are safe for concurrent use; broker I/O happens
// outside the lock so a slow fill on one symbol never stalls another.
type Manager struct {
	broker       broker.Broker
	prices       broker.PriceSource
	audit        storage.AuditEventStore
	log          zerolog.Logger
	metrics      *observability.Metrics
	statusPolicy retry.Policy
	orderTimeout time.Duration
	limits       func() domain.RiskLimits

	mu   sync.Mutex
	book map[string]*symbolBook
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.OrderTimeout <= 0 {
		opts.OrderTimeout = 10 * time.Second
	}
	if opts.StatusPolicy.MaxAttempts <= 0 {
		opts.StatusPolicy = retry.Policy{
			MaxAttempts: 5,
			BaseDelay:   200 * time.Millisecond,
			CapDelay:    2 * time.Second,
			Factor:      2.0,
		}
	}
	if opts.Limits == nil {
		opts.Limits = domain.DefaultRiskLimits
	}
	return &Manager{
		broker:       opts.Broker,
		prices:       opts.Prices,
		audit:        opts.Audit,
		log:          opts.Logger.With().Str("component", "orders").Logger(),
		metrics:      opts.Metrics,
		statusPolicy: opts.StatusPolicy,
		orderTimeout: opts.OrderTimeout,
		limits:       opts.Limits,
		book:         make(map[string]*symbolBook),
	}
}

// State returns the lifecycle state for a symbol.
func (m *Manager) State(symbol string) domain.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.book[symbol]; ok {
		return b.state
	}
	return domain.PositionStateNone
}

// PositionFor returns the open position for a symbol, if any, along with
// its lifecycle state.
func (m *Manager) PositionFor(symbol string) (domain.Position, domain.PositionState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.book[symbol]
	if !ok || b.position == nil {
		return domain.Position{}, domain.PositionStateNone, false
	}
	return *b.position, b.state, true
}

// Positions returns a copy of all open positions.
func (m *Manager) Positions() []domain.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Position
	for _, b := range m.book {
		if b.position != nil {
			out = append(out, *b.position)
		}
	}
	return out
}

// Portfolio builds the read-only account view handed to screening and
// the sizer.
func (m *Manager) Portfolio(capital float64) domain.PortfolioState {
	return domain.PortfolioState{Capital: capital, OpenPositions: m.Positions()}
}

// OpenPosition submits a slippage-bounded entry for a sized signal and
// blocks until the broker confirms the outcome. The position exists only
// after a confirmed fill.
func (m *Manager) OpenPosition(ctx context.Context, sig domain.Signal, quantity int64, limits domain.RiskLimits) error {
	if quantity <= 0 {
		return fmt.Errorf("entry quantity must be positive, got %d", quantity)
	}

	m.mu.Lock()
	b := m.bookFor(sig.Symbol)
	if b.state != domain.PositionStateNone {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrPositionActive, sig.Symbol, b.state)
	}
	b.state = domain.PositionStatePendingEntry
	m.mu.Unlock()

	// The limit is the worst fill the stop distance tolerates, not an
	// unconstrained market order.
	slip := sig.EntryPrice * limits.MaxSlippageBps / 10_000
	limitPrice := sig.EntryPrice + slip
	if sig.Direction == domain.DirectionShort {
		limitPrice = sig.EntryPrice - slip
	}

	intent := domain.OrderIntent{
		ClientOrderID: uuid.New().String(),
		Symbol:        sig.Symbol,
		Side:          sig.Direction,
		Kind:          domain.OrderKindEntry,
		Quantity:      quantity,
		LimitPrice:    limitPrice,
		Reason:        sig.PatternKind,
	}

	st, err := m.submitAndConfirm(ctx, intent)
	if err != nil {
		m.failEntry(ctx, sig.Symbol, intent, err.Error())
		return err
	}
	if st.State == broker.OrderStateRejected {
		m.failEntry(ctx, sig.Symbol, intent, st.Reason)
		return fmt.Errorf("%w: %s", ErrEntryRejected, st.Reason)
	}

	pos := &domain.Position{
		Symbol:     sig.Symbol,
		Side:       sig.Direction,
		Quantity:   st.FilledQty,
		EntryPrice: st.FillPrice,
		StopLoss:   sig.StopLoss,
		Target:     sig.Target,
		EntryTime:  time.Now().UTC(),
		OrderID:    st.OrderID,
	}

	m.mu.Lock()
	b.state = domain.PositionStateOpen
	b.position = pos
	open := m.openCount()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OrdersFilled.WithLabelValues(string(domain.OrderKindEntry)).Inc()
		m.metrics.OpenPositions.Set(float64(open))
	}
	m.record(ctx, domain.NewAuditEvent(domain.AuditOrderFilled, sig.Symbol, "").
		With("order_id", st.OrderID).
		With("kind", string(domain.OrderKindEntry)).
		With("fill_price", formatFloat(st.FillPrice)).
		With("quantity", strconv.FormatInt(st.FilledQty, 10)))
	m.record(ctx, domain.NewAuditEvent(domain.AuditPositionOpened, sig.Symbol, sig.PatternKind).
		With("side", string(sig.Direction)).
		With("entry_price", formatFloat(st.FillPrice)).
		With("stop_loss", formatFloat(sig.StopLoss)).
		With("target", formatFloat(sig.Target)))

	m.log.Info().
		Str("symbol", sig.Symbol).
		Str("side", string(sig.Direction)).
		Int64("quantity", st.FilledQty).
		Float64("fill_price", st.FillPrice).
		Msg("position opened")
	return nil
}

// ClosePosition submits a slippage-bounded exit for an open position.
// On a broker rejection the position reverts to OPEN so the monitor can
// retry on the next tick.
func (m *Manager) ClosePosition(ctx context.Context, symbol, reason string) error {
	m.mu.Lock()
	b, ok := m.book[symbol]
	switch {
	case !ok || b.position == nil:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoOpenPosition, symbol)
	case b.state == domain.PositionStateExitRequested:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrExitInFlight, symbol)
	case b.state != domain.PositionStateOpen:
		m.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrNoOpenPosition, symbol, b.state)
	}
	b.state = domain.PositionStateExitRequested
	pos := *b.position
	m.mu.Unlock()

	intent := m.exitIntent(pos, reason)
	st, err := m.submitAndConfirm(ctx, intent)
	if err == nil && st.State == broker.OrderStateRejected {
		err = fmt.Errorf("%w: %s", ErrExitRejected, st.Reason)
	}
	if err != nil {
		m.mu.Lock()
		b.state = domain.PositionStateOpen
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.OrdersRejected.WithLabelValues(string(domain.OrderKindExit)).Inc()
		}
		m.record(ctx, domain.NewAuditEvent(domain.AuditOrderRejected, symbol, err.Error()).
			With("kind", string(domain.OrderKindExit)).
			With("exit_reason", reason))
		m.log.Error().Err(err).Str("symbol", symbol).Str("reason", reason).Msg("exit order failed, position stays open")
		return err
	}

	pnl := (st.FillPrice - pos.EntryPrice) * float64(st.FilledQty)
	if pos.Side == domain.DirectionShort {
		pnl = -pnl
	}

	m.mu.Lock()
	b.state = domain.PositionStateNone
	b.position = nil
	open := m.openCount()
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OrdersFilled.WithLabelValues(string(domain.OrderKindExit)).Inc()
		m.metrics.OpenPositions.Set(float64(open))
	}
	m.record(ctx, domain.NewAuditEvent(domain.AuditOrderFilled, symbol, "").
		With("order_id", st.OrderID).
		With("kind", string(domain.OrderKindExit)).
		With("fill_price", formatFloat(st.FillPrice)))
	m.record(ctx, domain.NewAuditEvent(domain.AuditPositionClosed, symbol, reason).
		With("exit_price", formatFloat(st.FillPrice)).
		With("pnl", formatFloat(pnl)))

	m.log.Info().
		Str("symbol", symbol).
		Str("reason", reason).
		Float64("exit_price", st.FillPrice).
		Float64("pnl", pnl).
		Msg("position closed")
	return nil
}

// CloseAll exits every open position with the given reason. It is
// idempotent: positions already exiting or closed are skipped, and a
// second call over an empty book is a no-op.
func (m *Manager) CloseAll(ctx context.Context, reason string) error {
	m.mu.Lock()
	symbols := make([]string, 0, len(m.book))
	for sym, b := range m.book {
		if b.state == domain.PositionStateOpen {
			symbols = append(symbols, sym)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, sym := range symbols {
		err := m.ClosePosition(ctx, sym, reason)
		if errors.Is(err, ErrNoOpenPosition) || errors.Is(err, ErrExitInFlight) {
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			continue
		}
		if reason == domain.ExitReasonEndOfDay && m.metrics != nil {
			m.metrics.EODCloseouts.Inc()
		}
	}
	return errors.Join(errs...)
}

// ReasonReconciled marks book changes made by Reconcile rather than a
// confirmed fill.
const ReasonReconciled = "RECONCILED"

// Reconcile replaces the local book's guesses with the broker's position
// snapshot. Called after an order outcome could not be confirmed: a late
// fill shows up broker-side and is adopted instead of trading blind, and
// a local position the broker no longer holds is dropped. Symbols with
// in-flight orders are left alone.
func (m *Manager) Reconcile(ctx context.Context) error {
	held, err := m.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: broker positions: %w", err)
	}

	brokerSide := make(map[string]domain.Position, len(held))
	for _, p := range held {
		brokerSide[p.Symbol] = p
	}

	m.mu.Lock()
	var adopted []domain.Position
	var dropped []string
	for sym, p := range brokerSide {
		b := m.bookFor(sym)
		if b.state == domain.PositionStateNone {
			pos := p
			b.state = domain.PositionStateOpen
			b.position = &pos
			adopted = append(adopted, pos)
		}
	}
	for sym, b := range m.book {
		if b.state != domain.PositionStateOpen || b.position == nil {
			continue
		}
		if _, ok := brokerSide[sym]; !ok {
			b.state = domain.PositionStateNone
			b.position = nil
			dropped = append(dropped, sym)
		}
	}
	open := m.openCount()
	m.mu.Unlock()

	for _, pos := range adopted {
		m.record(ctx, domain.NewAuditEvent(domain.AuditPositionOpened, pos.Symbol, ReasonReconciled).
			With("side", string(pos.Side)).
			With("entry_price", formatFloat(pos.EntryPrice)).
			With("quantity", strconv.FormatInt(pos.Quantity, 10)))
		m.log.Warn().Str("symbol", pos.Symbol).Msg("adopted broker-side position missing from the local book")
	}
	for _, sym := range dropped {
		m.record(ctx, domain.NewAuditEvent(domain.AuditPositionClosed, sym, ReasonReconciled))
		m.log.Warn().Str("symbol", sym).Msg("dropped local position the broker no longer holds")
	}
	if m.metrics != nil && (len(adopted) > 0 || len(dropped) > 0) {
		m.metrics.OpenPositions.Set(float64(open))
	}
	return nil
}

// AdjustStop moves the stop of an open position. The monitor only ever
// tightens stops toward profit; the manager records the adjustment but
// does not second-guess the direction.
func (m *Manager) AdjustStop(ctx context.Context, symbol string, newStop float64) error {
	m.mu.Lock()
	b, ok := m.book[symbol]
	if !ok || b.position == nil || b.state != domain.PositionStateOpen {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoOpenPosition, symbol)
	}
	old := b.position.StopLoss
	b.position.StopLoss = newStop
	m.mu.Unlock()

	m.record(ctx, domain.NewAuditEvent(domain.AuditStopAdjusted, symbol, "").
		With("old_stop", formatFloat(old)).
		With("new_stop", formatFloat(newStop)))
	m.log.Debug().Str("symbol", symbol).Float64("old", old).Float64("new", newStop).Msg("stop adjusted")
	return nil
}

// submitAndConfirm sends an intent and polls status until the broker
// reports a terminal state or the budget runs out.
func (m *Manager) submitAndConfirm(ctx context.Context, intent domain.OrderIntent) (broker.OrderStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, m.orderTimeout)
	defer cancel()

	m.record(ctx, domain.NewAuditEvent(domain.AuditOrderSubmitted, intent.Symbol, intent.Reason).
		With("client_order_id", intent.ClientOrderID).
		With("kind", string(intent.Kind)).
		With("quantity", strconv.FormatInt(intent.Quantity, 10)).
		With("limit_price", formatFloat(intent.LimitPrice)))
	if m.metrics != nil {
		m.metrics.OrdersSubmitted.WithLabelValues(string(intent.Kind)).Inc()
	}

	orderID, err := m.broker.SubmitOrder(ctx, intent)
	if err != nil {
		return broker.OrderStatus{}, fmt.Errorf("submit order: %w", err)
	}

	var status broker.OrderStatus
	errPending := errors.New("order still pending")
	err = m.statusPolicy.Do(ctx, func(ctx context.Context) error {
		st, err := m.broker.OrderStatus(ctx, orderID)
		if err != nil {
			return err
		}
		if st.State == broker.OrderStatePending {
			return errPending
		}
		status = st
		return nil
	})
	if err != nil {
		return broker.OrderStatus{}, fmt.Errorf("%w: order %s: %v", ErrOrderUnresolved, orderID, err)
	}
	return status, nil
}

// failEntry rolls a failed entry through the transient REJECTED state
// back to NONE, leaving only the audit trail behind.
func (m *Manager) failEntry(ctx context.Context, symbol string, intent domain.OrderIntent, reason string) {
	m.mu.Lock()
	b := m.bookFor(symbol)
	b.state = domain.PositionStateRejected
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.OrdersRejected.WithLabelValues(string(domain.OrderKindEntry)).Inc()
	}
	m.record(ctx, domain.NewAuditEvent(domain.AuditOrderRejected, symbol, reason).
		With("client_order_id", intent.ClientOrderID).
		With("kind", string(domain.OrderKindEntry)))
	m.log.Warn().Str("symbol", symbol).Str("reason", reason).Msg("entry order rejected")

	m.mu.Lock()
	b.state = domain.PositionStateNone
	m.mu.Unlock()
}

// exitIntent builds the slippage-bounded closing order for a position.
func (m *Manager) exitIntent(pos domain.Position, reason string) domain.OrderIntent {
	var limitPrice float64
	if m.prices != nil {
		if last, _, ok := m.prices.LastPrice(pos.Symbol); ok {
			// A long exit sells: the bound is below the market. A short
			// cover buys: the bound is above.
			slip := last * m.limits().MaxSlippageBps / 10_000
			if pos.Side == domain.DirectionLong {
				limitPrice = last - slip
			} else {
				limitPrice = last + slip
			}
		}
	}
	return domain.OrderIntent{
		ClientOrderID: uuid.New().String(),
		Symbol:        pos.Symbol,
		Side:          pos.Side,
		Kind:          domain.OrderKindExit,
		Quantity:      pos.Quantity,
		LimitPrice:    limitPrice,
		Reason:        reason,
	}
}

// bookFor returns the symbol's book entry, creating it on first use.
// Caller holds mu.
func (m *Manager) bookFor(symbol string) *symbolBook {
	b, ok := m.book[symbol]
	if !ok {
		b = &symbolBook{state: domain.PositionStateNone}
		m.book[symbol] = b
	}
	return b
}

// openCount counts open positions. Caller holds mu.
func (m *Manager) openCount() int {
	n := 0
	for _, b := range m.book {
		if b.position != nil {
			n++
		}
	}
	return n
}

// record writes an audit event best-effort. A failed insert is logged
// and never blocks the order path.
func (m *Manager) record(ctx context.Context, e *domain.AuditEvent) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Insert(ctx, e); err != nil {
		m.log.Warn().Err(err).Str("event", string(e.Type)).Msg("audit insert failed")
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
