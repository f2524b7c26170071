package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pattern-trader/internal/domain"
)

// Broker-side rejection reasons the paper simulation produces.
const (
	rejectReasonSimulated    = "SIMULATED_REJECT"
	rejectReasonOutsideLimit = "PRICE_OUTSIDE_LIMIT"
	rejectReasonNoPrice      = "NO_MARKET_PRICE"
)

// PaperOptions tunes fill simulation.
type PaperOptions struct {
	SlippageBps  float64 // worst-case adverse fill distance
	RejectRate   float64 // 0..1 probability of a simulated broker reject
	Capital      float64
	PendingPolls int   // status queries an order stays PENDING before settling
	Seed         int64 // 0 means time-seeded
}

// DefaultPaperOptions mirrors a quiet large-cap book: a few bps of
// slippage and no random rejects.
func DefaultPaperOptions() PaperOptions {
	return PaperOptions{
		SlippageBps:  5,
		Capital:      1_000_000,
		PendingPolls: 1,
	}
}

type paperOrder struct {
	intent    domain.OrderIntent
	status    OrderStatus
	pollsLeft int
}

// PaperBroker simulates fills against live market prices so paper mode
// exercises the identical submit/poll/confirm path as a real session.
type PaperBroker struct {
	opts   PaperOptions
	prices PriceSource
	log    zerolog.Logger

	mu            sync.Mutex
	rng           *rand.Rand
	authenticated bool
	capital       float64
	orders        map[string]*paperOrder
	positions     map[string]domain.Position
}

var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a paper broker filling against prices.
func NewPaperBroker(opts PaperOptions, prices PriceSource, log zerolog.Logger) *PaperBroker {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if opts.PendingPolls < 0 {
		opts.PendingPolls = 0
	}
	return &PaperBroker{
		opts:      opts,
		prices:    prices,
		log:       log.With().Str("component", "paper_broker").Logger(),
		rng:       rand.New(rand.NewSource(seed)),
		capital:   opts.Capital,
		orders:    make(map[string]*paperOrder),
		positions: make(map[string]domain.Position),
	}
}

// Authenticate always succeeds; it exists so the engine drives the same
// session sequence it would against a real broker.
func (b *PaperBroker) Authenticate(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.authenticated = true
	return nil
}

// ResolveInstrument maps a trading symbol to a synthetic token.
func (b *PaperBroker) ResolveInstrument(ctx context.Context, symbol string) (string, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", fmt.Errorf("%w: empty symbol", ErrInstrumentUnknown)
	}
	return "PAPER:" + strings.ToUpper(symbol), nil
}

// SubmitOrder accepts an intent and decides its terminal outcome
// immediately, but holds it PENDING for a few status polls so callers
// exercise the confirmation loop.
func (b *PaperBroker) SubmitOrder(ctx context.Context, intent domain.OrderIntent) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.authenticated {
		return "", ErrNotAuthenticated
	}
	if intent.Quantity <= 0 {
		return "", fmt.Errorf("order quantity must be positive, got %d", intent.Quantity)
	}

	orderID := uuid.New().String()
	order := &paperOrder{
		intent:    intent,
		pollsLeft: b.opts.PendingPolls,
		status:    OrderStatus{OrderID: orderID, State: OrderStatePending},
	}
	b.orders[orderID] = order

	order.status = b.settle(orderID, intent)

	b.log.Debug().
		Str("order_id", orderID).
		Str("client_order_id", intent.ClientOrderID).
		Str("symbol", intent.Symbol).
		Str("kind", string(intent.Kind)).
		Int64("quantity", intent.Quantity).
		Str("outcome", string(order.status.State)).
		Msg("paper order submitted")
	return orderID, nil
}

// settle computes the terminal status for an intent. Caller holds mu.
func (b *PaperBroker) settle(orderID string, intent domain.OrderIntent) OrderStatus {
	rejected := func(reason string) OrderStatus {
		return OrderStatus{OrderID: orderID, State: OrderStateRejected, Reason: reason}
	}

	if b.opts.RejectRate > 0 && b.rng.Float64() < b.opts.RejectRate {
		return rejected(rejectReasonSimulated)
	}

	price, _, ok := b.prices.LastPrice(intent.Symbol)
	if !ok || price <= 0 {
		return rejected(rejectReasonNoPrice)
	}

	// Adverse slippage: buys fill above market, sells below.
	slip := price * b.rng.Float64() * b.opts.SlippageBps / 10_000
	fill := price + slip
	if !b.isBuy(intent) {
		fill = price - slip
	}

	// The limit price is the worst acceptable fill.
	if intent.LimitPrice > 0 {
		if b.isBuy(intent) && fill > intent.LimitPrice {
			return rejected(rejectReasonOutsideLimit)
		}
		if !b.isBuy(intent) && fill < intent.LimitPrice {
			return rejected(rejectReasonOutsideLimit)
		}
	}

	b.applyFill(intent, fill)
	return OrderStatus{
		OrderID:   orderID,
		State:     OrderStateFilled,
		FillPrice: fill,
		FilledQty: intent.Quantity,
	}
}

// isBuy reports whether the intent buys shares: long entries and short
// exit covers.
func (b *PaperBroker) isBuy(intent domain.OrderIntent) bool {
	long := intent.Side == domain.DirectionLong
	if intent.Kind == domain.OrderKindExit {
		return !long
	}
	return long
}

// applyFill updates the simulated book. Caller holds mu.
func (b *PaperBroker) applyFill(intent domain.OrderIntent, fill float64) {
	if intent.Kind == domain.OrderKindEntry {
		b.positions[intent.Symbol] = domain.Position{
			Symbol:     intent.Symbol,
			Side:       intent.Side,
			Quantity:   intent.Quantity,
			EntryPrice: fill,
			EntryTime:  time.Now(),
		}
		return
	}

	pos, ok := b.positions[intent.Symbol]
	if !ok {
		return
	}
	pnl := (fill - pos.EntryPrice) * float64(intent.Quantity)
	if pos.Side == domain.DirectionShort {
		pnl = -pnl
	}
	b.capital += pnl
	delete(b.positions, intent.Symbol)
}

// OrderStatus reports the broker-side state of one order. The terminal
// state surfaces only after the configured number of pending polls.
func (b *PaperBroker) OrderStatus(ctx context.Context, orderID string) (OrderStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, ok := b.orders[orderID]
	if !ok {
		return OrderStatus{}, fmt.Errorf("%w: %s", ErrOrderUnknown, orderID)
	}
	if order.pollsLeft > 0 {
		order.pollsLeft--
		return OrderStatus{OrderID: orderID, State: OrderStatePending}, nil
	}
	return order.status, nil
}

// Positions returns the simulated open book.
func (b *PaperBroker) Positions(ctx context.Context) ([]domain.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.Position, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, pos)
	}
	return out, nil
}

// Capital returns the simulated account capital including realized P&L.
func (b *PaperBroker) Capital() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capital
}

// HistoricalBars synthesizes a deterministic random walk per symbol so
// history bootstrap works without an archive. The same symbol and range
// always produce the same bars.
func (b *PaperBroker) HistoricalBars(ctx context.Context, symbol string, from, to time.Time, interval time.Duration) ([]domain.Bar, error) {
	if interval <= 0 || !to.After(from) {
		return nil, fmt.Errorf("invalid historical range %s..%s @ %s", from, to, interval)
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := 100 + rng.Float64()*900
	var bars []domain.Bar
	for t := from.Truncate(interval); t.Before(to); t = t.Add(interval) {
		move := (rng.Float64() - 0.5) * price * 0.004
		open := price
		close := price + move
		high := maxf(open, close) + rng.Float64()*price*0.001
		low := minf(open, close) - rng.Float64()*price*0.001
		bars = append(bars, domain.Bar{
			Symbol:    symbol,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     close,
			Volume:    10_000 + rng.Int63n(40_000),
			StartTime: t,
		})
		price = close
	}
	return bars, nil
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
