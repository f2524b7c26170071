package market

import "pattern-trader/internal/domain"

// tickBuffer is a bounded FIFO ring of ticks. When full, the oldest tick
// is overwritten; the high-water mark fires a warning well before that
// point so sizing problems are visible without data loss.
type tickBuffer struct {
	ticks []domain.Tick
	head  int // index of the oldest tick
	size  int
}

func newTickBuffer(capacity int) *tickBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &tickBuffer{ticks: make([]domain.Tick, capacity)}
}

// Append adds a tick, overwriting the oldest when full. Returns the
// occupancy after the append.
func (b *tickBuffer) Append(t domain.Tick) int {
	tail := (b.head + b.size) % len(b.ticks)
	b.ticks[tail] = t
	if b.size < len(b.ticks) {
		b.size++
	} else {
		b.head = (b.head + 1) % len(b.ticks)
	}
	return b.size
}

// Drain returns all buffered ticks in arrival order and empties the buffer.
func (b *tickBuffer) Drain() []domain.Tick {
	if b.size == 0 {
		return nil
	}
	out := make([]domain.Tick, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.ticks[(b.head+i)%len(b.ticks)]
	}
	b.head = 0
	b.size = 0
	return out
}

func (b *tickBuffer) Len() int      { return b.size }
func (b *tickBuffer) Capacity() int { return len(b.ticks) }
