package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

// AuditEventStore is an in-memory implementation of storage.AuditEventStore.
type AuditEventStore struct {
	mu     sync.RWMutex
	events []*domain.AuditEvent
}

// NewAuditEventStore creates a new in-memory audit event store.
func NewAuditEventStore() *AuditEventStore {
	return &AuditEventStore{}
}

// Compile-time interface check.
var _ storage.AuditEventStore = (*AuditEventStore)(nil)

// Insert appends a new audit event.
func (s *AuditEventStore) Insert(_ context.Context, e *domain.AuditEvent) error {
	if e == nil || e.Type == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	if e.Detail != nil {
		cp.Detail = make(map[string]string, len(e.Detail))
		for k, v := range e.Detail {
			cp.Detail[k] = v
		}
	}
	s.events = append(s.events, &cp)
	return nil
}

// GetByTimeRange retrieves events within [start, end], ordered by creation time.
func (s *AuditEventStore) GetByTimeRange(_ context.Context, start, end time.Time) ([]*domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuditEvent
	for _, e := range s.events {
		if !e.CreatedAt.Before(start) && !e.CreatedAt.After(end) {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// GetBySymbol retrieves all events for one symbol, ordered by creation time.
func (s *AuditEventStore) GetBySymbol(_ context.Context, symbol string) ([]*domain.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.AuditEvent
	for _, e := range s.events {
		if e.Symbol == symbol {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Count returns the total number of stored events (test helper).
func (s *AuditEventStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
