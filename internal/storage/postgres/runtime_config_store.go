package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

// RuntimeConfigStore implements storage.RuntimeConfigStore using PostgreSQL.
// The config lives in a single row; Save upserts it.
type RuntimeConfigStore struct {
	pool *Pool
}

// NewRuntimeConfigStore creates a new RuntimeConfigStore.
func NewRuntimeConfigStore(pool *Pool) *RuntimeConfigStore {
	return &RuntimeConfigStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RuntimeConfigStore = (*RuntimeConfigStore)(nil)

// Load returns the most recently saved config.
func (s *RuntimeConfigStore) Load(ctx context.Context) (*domain.RuntimeConfig, error) {
	query := `SELECT config, updated_at FROM runtime_config WHERE id = 1`

	var (
		raw       []byte
		updatedAt time.Time
	)
	if err := s.pool.QueryRow(ctx, query).Scan(&raw, &updatedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("query runtime config: %w", err)
	}

	var cfg domain.RuntimeConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal runtime config: %w", err)
	}
	cfg.UpdatedAt = updatedAt
	return &cfg, nil
}

// Save replaces the stored config.
func (s *RuntimeConfigStore) Save(ctx context.Context, cfg *domain.RuntimeConfig) error {
	if cfg == nil {
		return storage.ErrInvalidInput
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal runtime config: %w", err)
	}

	query := `
		INSERT INTO runtime_config (id, config, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = EXCLUDED.updated_at
	`
	if _, err := s.pool.Exec(ctx, query, raw, time.Now().UTC()); err != nil {
		return fmt.Errorf("save runtime config: %w", err)
	}
	return nil
}
