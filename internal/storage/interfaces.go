package storage

import (
	"context"
	"time"

	"pattern-trader/internal/domain"
)

// AuditEventStore records one structured event per engine state transition.
// The engine treats audit writes as best-effort observability: a failed
// insert is logged, never allowed to block the trading path.
type AuditEventStore interface {
	// Insert appends a new audit event.
	Insert(ctx context.Context, e *domain.AuditEvent) error

	// GetByTimeRange retrieves events within [start, end], ordered by
	// creation time ascending.
	GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.AuditEvent, error)

	// GetBySymbol retrieves all events for one symbol, ordered by creation
	// time ascending.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.AuditEvent, error)
}

// RuntimeConfigStore persists the operator-tunable runtime configuration
// (screening policy, risk limits, symbol universe) between sessions.
type RuntimeConfigStore interface {
	// Load returns the most recently saved config. Returns ErrNotFound
	// when nothing has been saved yet.
	Load(ctx context.Context) (*domain.RuntimeConfig, error)

	// Save replaces the stored config.
	Save(ctx context.Context, cfg *domain.RuntimeConfig) error
}

// BarArchiveStore persists completed bars across sessions. The bootstrap
// sequence reads the previous session's bars from here so indicators are
// valid from the first tick of a new session.
type BarArchiveStore interface {
	// InsertBulk appends completed bars. Duplicate (symbol, start_time)
	// rows are rejected with ErrDuplicateKey.
	InsertBulk(ctx context.Context, bars []*domain.Bar) error

	// GetByTimeRange retrieves bars for a symbol within [start, end],
	// ordered by start time ascending.
	GetByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Bar, error)

	// GetLatest retrieves up to limit most recent bars for a symbol,
	// ordered by start time ascending.
	GetLatest(ctx context.Context, symbol string, limit int) ([]*domain.Bar, error)
}
