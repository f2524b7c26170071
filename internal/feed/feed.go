// Package feed delivers normalized market ticks to the engine. The
// websocket adapter maintains the streaming connection with reconnect and
// resubscribe; the stub feed drives tests and offline paper sessions.
package feed

import (
	"context"
	"errors"

	"pattern-trader/internal/domain"
)

// ErrFeedUnavailable is surfaced once the reconnect budget is exhausted.
// Fatal in live mode; paper mode continues on last-known bars.
var ErrFeedUnavailable = errors.New("feed unavailable")

// TickHandler consumes one normalized tick. Handlers are invoked on the
// feed's read goroutine and must return quickly.
type TickHandler func(domain.Tick)

// TickFeed is the narrow contract the engine depends on. Delivery is
// at-least-once per observed network message; duplicates and reordering
// are tolerated downstream.
type TickFeed interface {
	Connect(ctx context.Context) error
	Subscribe(symbols []string) error
	OnTick(h TickHandler)
	Connected() bool
	// Failed yields ErrFeedUnavailable when reconnection has been given up.
	Failed() <-chan error
	Close() error
}
