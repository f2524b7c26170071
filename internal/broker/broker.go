// Package broker defines the narrow order-routing contract the engine
// consumes, and a paper implementation that exercises the identical order
// path with simulated fills. The concrete wire protocol of a real broker
// lives behind this interface and is not the engine's concern.
package broker

import (
	"context"
	"errors"
	"time"

	"pattern-trader/internal/domain"
)

var (
	// ErrOrderUnknown is returned by OrderStatus for an id the broker has
	// never seen.
	ErrOrderUnknown = errors.New("unknown order id")
	// ErrInstrumentUnknown is returned when a symbol cannot be resolved.
	ErrInstrumentUnknown = errors.New("unknown instrument")
	// ErrNotAuthenticated is returned when a call precedes Authenticate.
	ErrNotAuthenticated = errors.New("broker session not authenticated")
)

// OrderState is the broker-side lifecycle of one order.
type OrderState string

const (
	OrderStatePending  OrderState = "PENDING"
	OrderStateFilled   OrderState = "FILLED"
	OrderStateRejected OrderState = "REJECTED"
)

// OrderStatus is the broker's view of one submitted order.
type OrderStatus struct {
	OrderID   string
	State     OrderState
	FillPrice float64
	FilledQty int64
	Reason    string // broker-side rejection reason
}

// Broker is the capability interface for order routing and account state.
type Broker interface {
	Authenticate(ctx context.Context) error
	ResolveInstrument(ctx context.Context, symbol string) (string, error)
	SubmitOrder(ctx context.Context, intent domain.OrderIntent) (string, error)
	OrderStatus(ctx context.Context, orderID string) (OrderStatus, error)
	Positions(ctx context.Context) ([]domain.Position, error)
	// HistoricalBars serves the bootstrap fallback when the bar archive
	// has no data for a symbol.
	HistoricalBars(ctx context.Context, symbol string, from, to time.Time, interval time.Duration) ([]domain.Bar, error)
}

// PriceSource provides the latest traded price for fill simulation.
// Satisfied by the market store.
type PriceSource interface {
	LastPrice(symbol string) (float64, time.Time, bool)
}
