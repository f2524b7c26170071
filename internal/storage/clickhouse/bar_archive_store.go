package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

// BarArchiveStore implements storage.BarArchiveStore using ClickHouse.
// Completed bars are appended after every session; the bootstrap sequence
// reads the previous session back out so indicators are warm on open.
type BarArchiveStore struct {
	conn *Conn
}

// NewBarArchiveStore creates a new BarArchiveStore.
func NewBarArchiveStore(conn *Conn) *BarArchiveStore {
	return &BarArchiveStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarArchiveStore = (*BarArchiveStore)(nil)

// InsertBulk appends completed bars. Fails the entire batch on any
// duplicate (symbol, start_time).
func (s *BarArchiveStore) InsertBulk(ctx context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	type key struct {
		symbol string
		start  int64
	}
	seen := make(map[key]struct{}, len(bars))
	for _, b := range bars {
		if b == nil || b.Symbol == "" {
			return storage.ErrInvalidInput
		}
		k := key{b.Symbol, b.StartTime.UnixMilli()}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	for _, b := range bars {
		exists, err := s.exists(ctx, b.Symbol, b.StartTime)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (symbol, start_time, open, high, low, close, volume)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, b := range bars {
		if err := batch.Append(
			b.Symbol, b.StartTime, b.Open, b.High, b.Low, b.Close, b.Volume,
		); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByTimeRange retrieves bars for a symbol within [start, end], ascending.
func (s *BarArchiveStore) GetByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Bar, error) {
	query := `
		SELECT symbol, start_time, open, high, low, close, volume
		FROM bars
		WHERE symbol = ? AND start_time >= ? AND start_time <= ?
		ORDER BY start_time ASC
	`
	rows, err := s.conn.Query(ctx, query, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("query bars by time range: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// GetLatest retrieves up to limit most recent bars, ascending by start time.
func (s *BarArchiveStore) GetLatest(ctx context.Context, symbol string, limit int) ([]*domain.Bar, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT symbol, start_time, open, high, low, close, volume
		FROM (
			SELECT symbol, start_time, open, high, low, close, volume
			FROM bars
			WHERE symbol = ?
			ORDER BY start_time DESC
			LIMIT ?
		)
		ORDER BY start_time ASC
	`
	rows, err := s.conn.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query latest bars: %w", err)
	}
	defer rows.Close()

	return scanBars(rows)
}

// exists checks if a bar with the given key exists.
func (s *BarArchiveStore) exists(ctx context.Context, symbol string, start time.Time) (bool, error) {
	query := `SELECT count(*) FROM bars WHERE symbol = ? AND start_time = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, symbol, start).Scan(&count); err != nil {
		return false, fmt.Errorf("count bars: %w", err)
	}
	return count > 0, nil
}

func scanBars(rows driver.Rows) ([]*domain.Bar, error) {
	var out []*domain.Bar
	for rows.Next() {
		var b domain.Bar
		if err := rows.Scan(&b.Symbol, &b.StartTime, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	return out, nil
}
