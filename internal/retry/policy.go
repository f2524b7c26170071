// Package retry provides the bounded exponential backoff policy shared by
// the tick feed adapter and the broker client, so reconnect and
// order-status retry behavior is defined once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned once the retry budget is spent. The last
// underlying error is wrapped alongside it.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Policy is a bounded exponential backoff: BaseDelay doubling by Factor up
// to CapDelay, for at most MaxAttempts attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	CapDelay    time.Duration
	Factor      float64
	Jitter      float64 // fraction of the delay randomized, 0 disables
}

// DefaultPolicy matches the feed reconnect budget: ten attempts from one
// second capped at thirty.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 10,
		BaseDelay:   1 * time.Second,
		CapDelay:    30 * time.Second,
		Factor:      2.0,
		Jitter:      0.2,
	}
}

// Delay returns the backoff duration for the given attempt (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	base := p.BaseDelay
	if base <= 0 {
		base = 1 * time.Second
	}
	cap := p.CapDelay
	if cap <= 0 {
		cap = 30 * time.Second
	}
	factor := p.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := base
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > cap {
			wait = cap
			break
		}
		wait = next
	}

	if p.Jitter <= 0 {
		return wait
	}
	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Do runs op until it succeeds, the attempt budget is exhausted, or the
// context is canceled. The wait between attempts respects ctx.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay(attempt)):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, attempts, lastErr)
}
