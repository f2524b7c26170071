package feed

import (
	"context"
	"fmt"
	"sync"

	"pattern-trader/internal/domain"
)

// StubFeed is a deterministic in-process feed for tests and offline paper
// sessions. Ticks are delivered synchronously from Push.
type StubFeed struct {
	mu        sync.RWMutex
	connected bool
	closed    bool
	symbols   map[string]struct{}
	handlers  []TickHandler
	failed    chan error

	// ConnectErr forces Connect to fail, for readiness-gate tests.
	ConnectErr error
}

// NewStubFeed creates a disconnected stub feed.
func NewStubFeed() *StubFeed {
	return &StubFeed{
		symbols: make(map[string]struct{}),
		failed:  make(chan error, 1),
	}
}

var _ TickFeed = (*StubFeed)(nil)

func (f *StubFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("feed closed")
	}
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

func (f *StubFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return fmt.Errorf("not connected")
	}
	for _, s := range symbols {
		f.symbols[s] = struct{}{}
	}
	return nil
}

func (f *StubFeed) OnTick(h TickHandler) {
	f.mu.Lock()
	f.handlers = append(f.handlers, h)
	f.mu.Unlock()
}

func (f *StubFeed) Connected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

func (f *StubFeed) Failed() <-chan error {
	return f.failed
}

func (f *StubFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.closed = true
	return nil
}

// Push delivers one tick to every registered handler. Ticks for symbols
// that were never subscribed are dropped, matching a real feed.
func (f *StubFeed) Push(tick domain.Tick) {
	f.mu.RLock()
	_, subscribed := f.symbols[tick.Symbol]
	handlers := f.handlers
	connected := f.connected
	f.mu.RUnlock()

	if !connected || !subscribed || !tick.Valid() {
		return
	}
	for _, h := range handlers {
		h(tick)
	}
}

// Fail simulates an exhausted reconnect budget.
func (f *StubFeed) Fail(err error) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	select {
	case f.failed <- err:
	default:
	}
}

// Subscribed reports whether a symbol has an active subscription.
func (f *StubFeed) Subscribed(symbol string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.symbols[symbol]
	return ok
}
