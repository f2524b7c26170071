package engine

import (
	"math"
	"time"

	"pattern-trader/internal/feed"
	"pattern-trader/internal/market"
	"pattern-trader/internal/observability"
)

// Readiness check names, also used as gauge labels and in the operator
// readiness endpoint.
const (
	CheckSymbolsResolved = "symbols_resolved"
	CheckFeedConnected   = "feed_connected"
	CheckLivePrices      = "live_prices"
	CheckHistory         = "history"
)

// Gate is the readiness verdict the engine must pass before trading and
// that the operator endpoint re-evaluates on demand.
type Gate struct {
	Feed     feed.TickFeed
	Market   *market.Store
	Metrics  *observability.Metrics
	MinBars  int
	Majority float64 // fraction of the universe required, (0, 1]
	// LiveWindow bounds how stale a symbol's last tick may be to still
	// count as live.
	LiveWindow time.Duration
	// RequireFeed is false for offline paper sessions, where the feed
	// and live-price checks are vacuously satisfied.
	RequireFeed bool
	// Resolved reports how many universe symbols resolved to instruments.
	Resolved func() (resolved, total int)
}

// Report is one gate evaluation.
type Report struct {
	Ready  bool
	Checks map[string]bool
}

// Evaluate runs every check at time now.
func (g *Gate) Evaluate(now time.Time) Report {
	resolved, total := g.Resolved()
	need := g.quorum(total)

	checks := map[string]bool{
		CheckSymbolsResolved: total > 0 && resolved >= need,
		CheckFeedConnected:   !g.RequireFeed || g.Feed.Connected(),
		CheckLivePrices:      !g.RequireFeed || g.Market.LiveCount(now, g.LiveWindow) >= need,
		CheckHistory:         g.Market.HistoryCount(g.MinBars) >= need,
	}

	ready := true
	for name, ok := range checks {
		if g.Metrics != nil {
			v := 0.0
			if ok {
				v = 1
			}
			g.Metrics.ReadinessChecks.WithLabelValues(name).Set(v)
		}
		ready = ready && ok
	}
	return Report{Ready: ready, Checks: checks}
}

// quorum is the smallest count satisfying the majority fraction, never
// less than one symbol. Rounds up: 2 of 5 does not satisfy a 0.5
// majority, 3 does.
func (g *Gate) quorum(total int) int {
	maj := g.Majority
	if maj <= 0 || maj > 1 {
		maj = 0.5
	}
	need := int(math.Ceil(maj * float64(total)))
	if need < 1 {
		need = 1
	}
	return need
}
