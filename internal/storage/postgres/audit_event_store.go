package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

// AuditEventStore implements storage.AuditEventStore using PostgreSQL.
type AuditEventStore struct {
	pool *Pool
}

// NewAuditEventStore creates a new AuditEventStore.
func NewAuditEventStore(pool *Pool) *AuditEventStore {
	return &AuditEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AuditEventStore = (*AuditEventStore)(nil)

// Insert appends a new audit event.
func (s *AuditEventStore) Insert(ctx context.Context, e *domain.AuditEvent) error {
	if e == nil || e.Type == "" {
		return storage.ErrInvalidInput
	}

	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}

	query := `
		INSERT INTO audit_events (event_type, symbol, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.pool.Exec(ctx, query, string(e.Type), e.Symbol, e.Reason, detail, e.CreatedAt); err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves events within [start, end], ascending.
func (s *AuditEventStore) GetByTimeRange(ctx context.Context, start, end time.Time) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_type, symbol, reason, detail, created_at
		FROM audit_events
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query audit events by time range: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

// GetBySymbol retrieves all events for one symbol, ascending.
func (s *AuditEventStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.AuditEvent, error) {
	query := `
		SELECT event_type, symbol, reason, detail, created_at
		FROM audit_events
		WHERE symbol = $1
		ORDER BY created_at ASC
	`
	rows, err := s.pool.Query(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("query audit events by symbol: %w", err)
	}
	defer rows.Close()

	return scanAuditEvents(rows)
}

type auditRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanAuditEvents(rows auditRows) ([]*domain.AuditEvent, error) {
	var out []*domain.AuditEvent
	for rows.Next() {
		var (
			e      domain.AuditEvent
			typ    string
			detail []byte
		)
		if err := rows.Scan(&typ, &e.Symbol, &e.Reason, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Type = domain.AuditEventType(typ)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return out, nil
}
