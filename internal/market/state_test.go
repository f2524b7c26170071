package market

import (
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/observability"
)

// One metrics bundle per test process; promauto registers on the default
// registry and double registration panics.
var testMetrics = observability.NewMetrics("market_test")

func newTestStore(cfg StoreConfig) *Store {
	return NewStore(cfg, zerolog.Nop(), testMetrics)
}

func TestStore_OpenBucketRetained(t *testing.T) {
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 100, HighWaterPct: 0.8})
	s.Track("RELIANCE")

	bucketStart := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	s.Append(domain.Tick{Symbol: "RELIANCE", LastPrice: 100, Volume: 10, ExchangeTime: bucketStart.Add(5 * time.Second)})
	s.Append(domain.Tick{Symbol: "RELIANCE", LastPrice: 103, Volume: 25, ExchangeTime: bucketStart.Add(10 * time.Second)})
	s.Append(domain.Tick{Symbol: "RELIANCE", LastPrice: 99, Volume: 40, ExchangeTime: bucketStart.Add(20 * time.Second)})

	// Resample mid-bucket: nothing finalized, but the open bar reflects
	// everything seen so far.
	finalized := s.Resample(bucketStart.Add(30 * time.Second))
	assert.Empty(t, finalized)

	snap, ok := s.Snapshot("RELIANCE")
	require.True(t, ok)
	require.Len(t, snap.Bars, 1)

	bar := snap.Bars[0]
	assert.Equal(t, 100.0, bar.Open)
	assert.Equal(t, 103.0, bar.High)
	assert.Equal(t, 99.0, bar.Low)
	assert.Equal(t, 99.0, bar.Close)
	assert.Equal(t, int64(40), bar.Volume)
	assert.True(t, bar.StartTime.Equal(bucketStart))
}

func TestStore_FinalizesElapsedBuckets(t *testing.T) {
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 100, HighWaterPct: 0.8})
	s.Track("TCS")

	b0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	b1 := b0.Add(time.Minute)

	s.Append(domain.Tick{Symbol: "TCS", LastPrice: 200, Volume: 5, ExchangeTime: b0.Add(time.Second)})
	s.Append(domain.Tick{Symbol: "TCS", LastPrice: 201, Volume: 9, ExchangeTime: b1.Add(time.Second)})

	finalized := s.Resample(b1.Add(5 * time.Second))
	require.Len(t, finalized, 1)
	assert.True(t, finalized[0].StartTime.Equal(b0))
	assert.Equal(t, 200.0, finalized[0].Close)

	// A second resample must not re-finalize the same bucket.
	finalized = s.Resample(b1.Add(10 * time.Second))
	assert.Empty(t, finalized)

	// The open bucket is still visible to readers.
	snap, _ := s.Snapshot("TCS")
	require.Len(t, snap.Bars, 2)
	assert.Equal(t, 201.0, snap.Bars[1].Close)
}

func TestStore_TickBurstExactHighLow(t *testing.T) {
	// 10k ticks/sec for 5 seconds into one 1-minute bucket. The buffer is
	// sized above the burst; the high-water warning fires but no tick is
	// lost and the bar's high/low match the true extremes.
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 60000, HighWaterPct: 0.8})
	s.Track("INFY")

	warningsBefore := testutil.ToFloat64(testMetrics.HighVolumeWarnings.WithLabelValues("INFY"))

	bucketStart := time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)
	rng := rand.New(rand.NewSource(42))

	trueHigh := 0.0
	trueLow := 1e18
	var cum int64
	for i := 0; i < 50000; i++ {
		price := 1500 + rng.Float64()*20
		if price > trueHigh {
			trueHigh = price
		}
		if price < trueLow {
			trueLow = price
		}
		cum += int64(rng.Intn(10))
		at := bucketStart.Add(time.Duration(i) * (5 * time.Second) / 50000)
		s.Append(domain.Tick{Symbol: "INFY", LastPrice: price, Volume: cum, ExchangeTime: at})
	}

	s.Resample(bucketStart.Add(6 * time.Second))

	snap, ok := s.Snapshot("INFY")
	require.True(t, ok)
	require.Len(t, snap.Bars, 1)
	assert.Equal(t, trueHigh, snap.Bars[0].High)
	assert.Equal(t, trueLow, snap.Bars[0].Low)
	assert.Equal(t, cum, snap.Bars[0].Volume)

	warningsAfter := testutil.ToFloat64(testMetrics.HighVolumeWarnings.WithLabelValues("INFY"))
	assert.Greater(t, warningsAfter, warningsBefore, "expected a high-volume warning")
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 100, HighWaterPct: 0.8})
	s.Track("SBIN")

	at := time.Date(2026, 2, 2, 10, 0, 1, 0, time.UTC)
	s.Append(domain.Tick{Symbol: "SBIN", LastPrice: 600, Volume: 1, ExchangeTime: at})
	s.Resample(at)

	snap, _ := s.Snapshot("SBIN")
	require.Len(t, snap.Bars, 1)
	snap.Bars[0].Close = -1

	again, _ := s.Snapshot("SBIN")
	assert.Equal(t, 600.0, again.Bars[0].Close)
}

func TestStore_SeedHistory(t *testing.T) {
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 100, HighWaterPct: 0.8})
	s.Track("HDFCBANK")

	start := time.Date(2026, 1, 30, 9, 15, 0, 0, time.UTC)
	bars := make([]domain.Bar, 40)
	for i := range bars {
		price := 1600 + float64(i)
		bars[i] = domain.Bar{
			Symbol: "HDFCBANK", Open: price, High: price + 1, Low: price - 1,
			Close: price, Volume: 100, StartTime: start.Add(time.Duration(i) * time.Minute),
		}
	}
	s.SeedHistory("HDFCBANK", bars)

	snap, ok := s.Snapshot("HDFCBANK")
	require.True(t, ok)
	assert.Len(t, snap.Bars, 40)
	assert.True(t, snap.Indicators.EMAFastValid)
	assert.Equal(t, 1, s.HistoryCount(30))

	// Seeded bars were already complete sessions; they must not be
	// re-reported as freshly finalized.
	finalized := s.Resample(start.Add(2 * time.Hour))
	assert.Empty(t, finalized)
}

func TestStore_LastPriceAndLiveCount(t *testing.T) {
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 100, HighWaterPct: 0.8})
	s.Track("A", "B")

	now := time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)

	_, _, ok := s.LastPrice("A")
	assert.False(t, ok)
	assert.Equal(t, 0, s.LiveCount(now, time.Minute))

	s.Append(domain.Tick{Symbol: "A", LastPrice: 10, ExchangeTime: now.Add(-10 * time.Second)})
	s.Append(domain.Tick{Symbol: "B", LastPrice: 20, ExchangeTime: now.Add(-5 * time.Minute)})

	price, at, ok := s.LastPrice("A")
	require.True(t, ok)
	assert.Equal(t, 10.0, price)
	assert.False(t, at.IsZero())

	// Only A ticked within the window.
	assert.Equal(t, 1, s.LiveCount(now, time.Minute))

	// Unknown symbols are ignored entirely.
	s.Append(domain.Tick{Symbol: "UNKNOWN", LastPrice: 1, ExchangeTime: now})
	_, _, ok = s.LastPrice("UNKNOWN")
	assert.False(t, ok)
}

func TestStore_OutOfOrderTicksTolerated(t *testing.T) {
	s := newTestStore(StoreConfig{BarInterval: time.Minute, TickBufferSize: 100, HighWaterPct: 0.8})
	s.Track("ITC")

	b0 := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	b1 := b0.Add(time.Minute)

	s.Append(domain.Tick{Symbol: "ITC", LastPrice: 400, Volume: 1, ExchangeTime: b1.Add(time.Second)})
	// Late tick from the previous bucket arrives after the next opened.
	s.Append(domain.Tick{Symbol: "ITC", LastPrice: 390, Volume: 2, ExchangeTime: b0.Add(30 * time.Second)})

	s.Resample(b1.Add(2 * time.Second))

	snap, _ := s.Snapshot("ITC")
	require.Len(t, snap.Bars, 1)
	assert.Equal(t, 400.0, snap.Bars[0].Open)
	assert.True(t, snap.Bars[0].StartTime.Equal(b1))
}
