package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
	"pattern-trader/internal/storage"
)

func testBar(symbol string, start time.Time, close float64) *domain.Bar {
	return &domain.Bar{
		Symbol:    symbol,
		Open:      close - 1,
		High:      close + 2,
		Low:       close - 3,
		Close:     close,
		Volume:    1000,
		StartTime: start,
	}
}

func TestBarArchiveStore_InsertBulkAndGetByTimeRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarArchiveStore(conn)
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 9, 15, 0, 0, time.UTC)
	bars := []*domain.Bar{
		testBar("RELIANCE", base, 2500),
		testBar("RELIANCE", base.Add(time.Minute), 2505),
		testBar("RELIANCE", base.Add(2*time.Minute), 2498),
		testBar("TCS", base, 3900),
	}
	require.NoError(t, store.InsertBulk(ctx, bars))

	got, err := store.GetByTimeRange(ctx, "RELIANCE", base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 2500.0, got[0].Close)
	assert.Equal(t, 2505.0, got[1].Close)
	assert.True(t, got[0].StartTime.Before(got[1].StartTime))

	got, err = store.GetByTimeRange(ctx, "TCS", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1000), got[0].Volume)
}

func TestBarArchiveStore_InsertBulkEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarArchiveStore(conn)
	require.NoError(t, store.InsertBulk(context.Background(), nil))
}

func TestBarArchiveStore_InsertBulkDuplicate(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarArchiveStore(conn)
	ctx := context.Background()

	start := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertBulk(ctx, []*domain.Bar{testBar("INFY", start, 1500)}))

	// Same (symbol, start_time) again must fail the whole batch.
	err := store.InsertBulk(ctx, []*domain.Bar{testBar("INFY", start, 1501)})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	// Duplicate inside one batch is caught before any insert.
	later := start.Add(time.Minute)
	err = store.InsertBulk(ctx, []*domain.Bar{
		testBar("INFY", later, 1502),
		testBar("INFY", later, 1503),
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestBarArchiveStore_GetLatest(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarArchiveStore(conn)
	ctx := context.Background()

	base := time.Date(2026, 2, 2, 11, 0, 0, 0, time.UTC)
	var bars []*domain.Bar
	for i := 0; i < 5; i++ {
		bars = append(bars, testBar("HDFCBANK", base.Add(time.Duration(i)*time.Minute), 1600+float64(i)))
	}
	require.NoError(t, store.InsertBulk(ctx, bars))

	got, err := store.GetLatest(ctx, "HDFCBANK", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ascending order, ending with the most recent bar.
	assert.Equal(t, 1602.0, got[0].Close)
	assert.Equal(t, 1604.0, got[2].Close)
}

func TestBarArchiveStore_GetLatestInvalidLimit(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarArchiveStore(conn)

	_, err := store.GetLatest(context.Background(), "RELIANCE", 0)
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestBarArchiveStore_GetByTimeRangeEmpty(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarArchiveStore(conn)

	got, err := store.GetByTimeRange(context.Background(), "UNKNOWN",
		time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Empty(t, got)
}
