// Package market owns per-symbol live state: the bounded tick buffer, the
// bar series with its open bucket, and cached indicators. The feed callback
// and the resample timer write under a per-symbol lock; the pipeline and
// orchestrator read copy-on-read snapshots so analysis never blocks the
// latency-sensitive paths.
package market

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/observability"
)

// StoreConfig tunes aggregation behavior.
type StoreConfig struct {
	BarInterval    time.Duration
	TickBufferSize int
	HighWaterPct   float64 // fraction of buffer capacity that triggers a warning
}

// DefaultStoreConfig sizes the buffer generously above expected peak
// throughput for a one-minute bar interval.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		BarInterval:    time.Minute,
		TickBufferSize: 5000,
		HighWaterPct:   0.8,
	}
}

// Snapshot is a copy-on-read view of one symbol's state. Safe to analyze
// without holding any lock.
type Snapshot struct {
	Symbol     string
	Bars       domain.BarSeries
	Indicators Indicators
	LastPrice  float64
	LastTickAt time.Time
}

type symbolSlot struct {
	mu sync.Mutex

	buffer *tickBuffer
	bars   domain.BarSeries
	// finalized counts the leading bars already reported as complete
	finalized int

	indicators Indicators

	lastPrice  float64
	lastTickAt time.Time

	// bucketBaseVol is the cumulative exchange volume at the open of the
	// current bucket, so bar volume is the within-bucket delta.
	bucketBaseVol int64
	lastCumVol    int64

	aboveHighWater bool

	lastScreening []domain.ScreeningResult
}

// Store holds symbol slots for the configured universe.
type Store struct {
	cfg     StoreConfig
	log     zerolog.Logger
	metrics *observability.Metrics

	slotsMu sync.RWMutex
	slots   map[string]*symbolSlot
}

// NewStore creates an empty store; Track establishes the universe.
func NewStore(cfg StoreConfig, log zerolog.Logger, metrics *observability.Metrics) *Store {
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Minute
	}
	if cfg.TickBufferSize <= 0 {
		cfg.TickBufferSize = 5000
	}
	if cfg.HighWaterPct <= 0 || cfg.HighWaterPct > 1 {
		cfg.HighWaterPct = 0.8
	}
	return &Store{
		cfg:     cfg,
		log:     log.With().Str("component", "market").Logger(),
		metrics: metrics,
		slots:   make(map[string]*symbolSlot),
	}
}

// Track registers symbols. Unknown symbols are ignored by Append.
func (s *Store) Track(symbols ...string) {
	s.slotsMu.Lock()
	defer s.slotsMu.Unlock()
	for _, sym := range symbols {
		if _, ok := s.slots[sym]; !ok {
			s.slots[sym] = &symbolSlot{buffer: newTickBuffer(s.cfg.TickBufferSize)}
		}
	}
}

// Universe returns the tracked symbols.
func (s *Store) Universe() []string {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()
	out := make([]string, 0, len(s.slots))
	for sym := range s.slots {
		out = append(out, sym)
	}
	return out
}

func (s *Store) slot(symbol string) *symbolSlot {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()
	return s.slots[symbol]
}

// Append buffers one tick. Called from the feed callback; the lock is held
// only for the buffer append and last-price update.
func (s *Store) Append(tick domain.Tick) {
	slot := s.slot(tick.Symbol)
	if slot == nil || !tick.Valid() {
		return
	}

	slot.mu.Lock()
	occupancy := slot.buffer.Append(tick)
	slot.lastPrice = tick.LastPrice
	slot.lastTickAt = tick.ExchangeTime

	highWater := int(float64(slot.buffer.Capacity()) * s.cfg.HighWaterPct)
	crossed := occupancy >= highWater && !slot.aboveHighWater
	if crossed {
		slot.aboveHighWater = true
	}
	slot.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TickBufferOccupied.WithLabelValues(tick.Symbol).Set(float64(occupancy))
	}
	if crossed {
		s.log.Warn().
			Str("symbol", tick.Symbol).
			Int("occupancy", occupancy).
			Int("capacity", s.cfg.TickBufferSize).
			Msg("tick buffer high-water mark crossed")
		if s.metrics != nil {
			s.metrics.HighVolumeWarnings.WithLabelValues(tick.Symbol).Inc()
		}
	}
}

// LastPrice is the monitor's fast path to the most recent price, decoupled
// from bar aggregation.
func (s *Store) LastPrice(symbol string) (float64, time.Time, bool) {
	slot := s.slot(symbol)
	if slot == nil {
		return 0, time.Time{}, false
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.lastPrice == 0 {
		return 0, time.Time{}, false
	}
	return slot.lastPrice, slot.lastTickAt, true
}

// Resample drains every symbol's tick buffer into its bar series and
// recomputes indicators. Bars whose bucket has fully elapsed by now are
// returned as finalized; the open bucket is always retained so the last
// bar reflects data up to now.
func (s *Store) Resample(now time.Time) []domain.Bar {
	var finalized []domain.Bar

	s.slotsMu.RLock()
	symbols := make([]string, 0, len(s.slots))
	for sym := range s.slots {
		symbols = append(symbols, sym)
	}
	s.slotsMu.RUnlock()

	for _, sym := range symbols {
		finalized = append(finalized, s.resampleSymbol(sym, now)...)
	}
	return finalized
}

func (s *Store) resampleSymbol(symbol string, now time.Time) []domain.Bar {
	slot := s.slot(symbol)
	if slot == nil {
		return nil
	}

	slot.mu.Lock()
	ticks := slot.buffer.Drain()
	slot.aboveHighWater = false

	changed := false
	for _, t := range ticks {
		if s.foldTick(slot, symbol, t) {
			changed = true
		}
	}

	var done []domain.Bar
	for slot.finalized < len(slot.bars) {
		b := slot.bars[slot.finalized]
		if b.StartTime.Add(s.cfg.BarInterval).After(now) {
			break
		}
		done = append(done, b)
		slot.finalized++
	}

	if changed {
		slot.indicators = ComputeIndicators(slot.bars)
	}
	slot.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TickBufferOccupied.WithLabelValues(symbol).Set(0)
		for range done {
			s.metrics.BarsFinalized.WithLabelValues(symbol).Inc()
		}
	}
	return done
}

// foldTick merges one tick into the bar series. Max/min/last semantics:
// duplicates and out-of-order ticks within the open bucket are absorbed,
// ticks for already-finalized buckets are dropped.
func (s *Store) foldTick(slot *symbolSlot, symbol string, t domain.Tick) bool {
	bucket := t.ExchangeTime.Truncate(s.cfg.BarInterval)

	if last, ok := slot.bars.Last(); ok {
		switch {
		case bucket.Equal(last.StartTime):
			i := len(slot.bars) - 1
			if i < slot.finalized {
				return false
			}
			b := &slot.bars[i]
			if t.LastPrice > b.High {
				b.High = t.LastPrice
			}
			if t.LastPrice < b.Low {
				b.Low = t.LastPrice
			}
			b.Close = t.LastPrice
			b.Volume = volumeDelta(t.Volume, slot.bucketBaseVol)
			slot.lastCumVol = t.Volume
			return true
		case bucket.Before(last.StartTime):
			return false
		}
	}

	slot.bucketBaseVol = slot.lastCumVol
	slot.lastCumVol = t.Volume
	slot.bars = append(slot.bars, domain.Bar{
		Symbol:    symbol,
		Open:      t.LastPrice,
		High:      t.LastPrice,
		Low:       t.LastPrice,
		Close:     t.LastPrice,
		Volume:    volumeDelta(t.Volume, slot.bucketBaseVol),
		StartTime: bucket,
	})
	return true
}

// volumeDelta converts cumulative exchange volume into a within-bucket
// delta, tolerating counter resets.
func volumeDelta(cum, base int64) int64 {
	if cum < base {
		return cum
	}
	return cum - base
}

// SeedHistory installs bootstrap bars for a symbol. Seeded bars are
// treated as already finalized.
func (s *Store) SeedHistory(symbol string, bars []domain.Bar) {
	slot := s.slot(symbol)
	if slot == nil || len(bars) == 0 {
		return
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	slot.bars = make(domain.BarSeries, len(bars))
	copy(slot.bars, bars)
	slot.finalized = len(bars)
	slot.indicators = ComputeIndicators(slot.bars)
}

// Snapshot returns a copy of one symbol's state for lock-free analysis.
func (s *Store) Snapshot(symbol string) (Snapshot, bool) {
	slot := s.slot(symbol)
	if slot == nil {
		return Snapshot{}, false
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()
	return Snapshot{
		Symbol:     symbol,
		Bars:       slot.bars.Clone(),
		Indicators: slot.indicators,
		LastPrice:  slot.lastPrice,
		LastTickAt: slot.lastTickAt,
	}, true
}

// SetScreening caches the most recent screening outcome for a symbol.
func (s *Store) SetScreening(symbol string, results []domain.ScreeningResult) {
	slot := s.slot(symbol)
	if slot == nil {
		return
	}
	slot.mu.Lock()
	slot.lastScreening = append([]domain.ScreeningResult(nil), results...)
	slot.mu.Unlock()
}

// LastScreening returns the cached screening outcome, if any.
func (s *Store) LastScreening(symbol string) []domain.ScreeningResult {
	slot := s.slot(symbol)
	if slot == nil {
		return nil
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return append([]domain.ScreeningResult(nil), slot.lastScreening...)
}

// LiveCount reports how many symbols saw a tick within the window ending
// at now. Used by the readiness gate.
func (s *Store) LiveCount(now time.Time, window time.Duration) int {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()

	count := 0
	for _, slot := range s.slots {
		slot.mu.Lock()
		if !slot.lastTickAt.IsZero() && now.Sub(slot.lastTickAt) <= window {
			count++
		}
		slot.mu.Unlock()
	}
	return count
}

// HistoryCount reports how many symbols hold at least minBars bars.
func (s *Store) HistoryCount(minBars int) int {
	s.slotsMu.RLock()
	defer s.slotsMu.RUnlock()

	count := 0
	for _, slot := range s.slots {
		slot.mu.Lock()
		if len(slot.bars) >= minBars {
			count++
		}
		slot.mu.Unlock()
	}
	return count
}
