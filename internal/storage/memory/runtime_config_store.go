package memory

import (
	"context"
	"sync"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

// RuntimeConfigStore is an in-memory implementation of storage.RuntimeConfigStore.
type RuntimeConfigStore struct {
	mu  sync.RWMutex
	cfg *domain.RuntimeConfig
}

// NewRuntimeConfigStore creates a new in-memory runtime config store.
func NewRuntimeConfigStore() *RuntimeConfigStore {
	return &RuntimeConfigStore{}
}

// Compile-time interface check.
var _ storage.RuntimeConfigStore = (*RuntimeConfigStore)(nil)

// Load returns the most recently saved config.
func (s *RuntimeConfigStore) Load(_ context.Context) (*domain.RuntimeConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.cfg == nil {
		return nil, storage.ErrNotFound
	}
	cp := *s.cfg
	cp.Universe = append([]string(nil), s.cfg.Universe...)
	return &cp, nil
}

// Save replaces the stored config.
func (s *RuntimeConfigStore) Save(_ context.Context, cfg *domain.RuntimeConfig) error {
	if cfg == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *cfg
	cp.Universe = append([]string(nil), cfg.Universe...)
	s.cfg = &cp
	return nil
}
