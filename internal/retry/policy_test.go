package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPolicy_DelayGrowsAndCaps(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: time.Second, CapDelay: 8 * time.Second, Factor: 2}

	require.Equal(t, 1*time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 8*time.Second, p.Delay(4))
	// Capped from here on.
	require.Equal(t, 8*time.Second, p.Delay(5))
	require.Equal(t, 8*time.Second, p.Delay(50))
}

func TestPolicy_DoStopsAfterBudget(t *testing.T) {
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, CapDelay: time.Millisecond, Factor: 2}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("boom")
	})

	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.Equal(t, 3, calls)
}

func TestPolicy_DoSucceedsMidway(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, CapDelay: time.Millisecond, Factor: 2}

	calls := 0
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPolicy_DoHonorsCancellation(t *testing.T) {
	p := Policy{MaxAttempts: 100, BaseDelay: time.Hour, CapDelay: time.Hour, Factor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context) error { return errors.New("always") })
	}()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}
