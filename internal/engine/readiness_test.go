package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/feed"
	"pattern-trader/internal/market"
)

func seededStore(t *testing.T, symbols ...string) *market.Store {
	t.Helper()
	store := market.NewStore(market.DefaultStoreConfig(), zerolog.Nop(), nil)
	store.Track(symbols...)

	start := time.Now().Add(-time.Hour)
	for _, sym := range symbols {
		var bars []domain.Bar
		for i := 0; i < 40; i++ {
			bars = append(bars, domain.Bar{
				Symbol: sym, Open: 100, High: 101, Low: 99, Close: 100,
				Volume: 1000, StartTime: start.Add(time.Duration(i) * time.Minute),
			})
		}
		store.SeedHistory(sym, bars)
	}
	return store
}

func TestGate_AllChecksPass(t *testing.T) {
	store := seededStore(t, "A", "B")
	stub := feed.NewStubFeed()
	stub.OnTick(store.Append)
	require.NoError(t, stub.Connect(context.Background()))
	require.NoError(t, stub.Subscribe([]string{"A", "B"}))

	g := &Gate{
		Feed:        stub,
		Market:      store,
		MinBars:     30,
		Majority:    0.5,
		LiveWindow:  2 * time.Minute,
		RequireFeed: true,
		Resolved:    func() (int, int) { return 2, 2 },
	}

	now := time.Now()
	stub.Push(domain.Tick{Symbol: "A", LastPrice: 100, Volume: 50, ExchangeTime: now})

	report := g.Evaluate(now)
	assert.True(t, report.Ready, "checks: %v", report.Checks)
}

func TestGate_FeedDownBlocksWhenRequired(t *testing.T) {
	store := seededStore(t, "A")
	g := &Gate{
		Feed:        feed.NewStubFeed(),
		Market:      store,
		MinBars:     30,
		Majority:    0.5,
		LiveWindow:  2 * time.Minute,
		RequireFeed: true,
		Resolved:    func() (int, int) { return 1, 1 },
	}

	report := g.Evaluate(time.Now())
	assert.False(t, report.Ready)
	assert.False(t, report.Checks[CheckFeedConnected])
	assert.False(t, report.Checks[CheckLivePrices])
	assert.True(t, report.Checks[CheckHistory])
}

func TestGate_OfflineSkipsFeedChecks(t *testing.T) {
	store := seededStore(t, "A")
	g := &Gate{
		Feed:        feed.NewStubFeed(),
		Market:      store,
		MinBars:     30,
		Majority:    0.5,
		LiveWindow:  2 * time.Minute,
		RequireFeed: false,
		Resolved:    func() (int, int) { return 1, 1 },
	}

	report := g.Evaluate(time.Now())
	assert.True(t, report.Ready)
}

func TestGate_PartialResolutionMajority(t *testing.T) {
	store := seededStore(t, "A", "B", "C", "D", "E")
	g := &Gate{
		Feed:        feed.NewStubFeed(),
		Market:      store,
		MinBars:     30,
		Majority:    0.5,
		LiveWindow:  2 * time.Minute,
		RequireFeed: false,
		Resolved:    func() (int, int) { return 1, 5 },
	}

	report := g.Evaluate(time.Now())
	assert.False(t, report.Checks[CheckSymbolsResolved], "one of five is under the majority")

	// The quorum rounds up: two of five is 40%, still under half.
	g.Resolved = func() (int, int) { return 2, 5 }
	report = g.Evaluate(time.Now())
	assert.False(t, report.Checks[CheckSymbolsResolved])

	g.Resolved = func() (int, int) { return 3, 5 }
	report = g.Evaluate(time.Now())
	assert.True(t, report.Checks[CheckSymbolsResolved])
}
