package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pattern-trader/internal/domain"
)

func tickAt(price float64, at time.Time) domain.Tick {
	return domain.Tick{Symbol: "X", LastPrice: price, ExchangeTime: at}
}

func TestTickBuffer_AppendAndDrainOrder(t *testing.T) {
	b := newTickBuffer(4)
	now := time.Now()

	for i := 1; i <= 3; i++ {
		b.Append(tickAt(float64(i), now))
	}
	require.Equal(t, 3, b.Len())

	ticks := b.Drain()
	require.Len(t, ticks, 3)
	assert.Equal(t, 1.0, ticks[0].LastPrice)
	assert.Equal(t, 3.0, ticks[2].LastPrice)
	assert.Equal(t, 0, b.Len())
	assert.Nil(t, b.Drain())
}

func TestTickBuffer_OverwritesOldestWhenFull(t *testing.T) {
	b := newTickBuffer(3)
	now := time.Now()

	for i := 1; i <= 5; i++ {
		b.Append(tickAt(float64(i), now))
	}
	require.Equal(t, 3, b.Len())

	ticks := b.Drain()
	require.Len(t, ticks, 3)
	assert.Equal(t, 3.0, ticks[0].LastPrice)
	assert.Equal(t, 5.0, ticks[2].LastPrice)
}
