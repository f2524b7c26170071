package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

// BarArchiveStore is an in-memory implementation of storage.BarArchiveStore.
type BarArchiveStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Bar // keyed by symbol|start_time
}

// NewBarArchiveStore creates a new in-memory bar archive.
func NewBarArchiveStore() *BarArchiveStore {
	return &BarArchiveStore{data: make(map[string]*domain.Bar)}
}

// Compile-time interface check.
var _ storage.BarArchiveStore = (*BarArchiveStore)(nil)

func barKey(symbol string, start time.Time) string {
	return fmt.Sprintf("%s|%d", symbol, start.UnixNano())
}

// InsertBulk appends completed bars. Fails the entire batch on any duplicate.
func (s *BarArchiveStore) InsertBulk(_ context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(bars))
	for _, b := range bars {
		if b == nil || b.Symbol == "" {
			return storage.ErrInvalidInput
		}
		key := barKey(b.Symbol, b.StartTime)
		if _, exists := s.data[key]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[key]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[key] = struct{}{}
	}

	for _, b := range bars {
		cp := *b
		s.data[barKey(b.Symbol, b.StartTime)] = &cp
	}
	return nil
}

// GetByTimeRange retrieves bars for a symbol within [start, end].
func (s *BarArchiveStore) GetByTimeRange(_ context.Context, symbol string, start, end time.Time) ([]*domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Bar
	for _, b := range s.data {
		if b.Symbol == symbol && !b.StartTime.Before(start) && !b.StartTime.After(end) {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

// GetLatest retrieves up to limit most recent bars, ascending by start time.
func (s *BarArchiveStore) GetLatest(_ context.Context, symbol string, limit int) ([]*domain.Bar, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*domain.Bar
	for _, b := range s.data {
		if b.Symbol == symbol {
			cp := *b
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.Before(all[j].StartTime) })
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}
