package hub

import (
	"sync"
	"time"

	"MarketHub/internal/domain/models"
)

const (
	DefaultBufferSize   = 1000
	DefaultBufferWindow = 5 * time.Minute
)

// RingBuffer keeps a feed's most recent messages, bounded by count and by age.
// Entries are stored in receipt order, so the oldest entry is always at head.
type RingBuffer struct {
	mu     sync.Mutex
	buf    []models.Message
	head   int
	count  int
	window time.Duration

	// Stats
	totalAppended int64
	totalEvicted  int64
}

// BufferStats contains ring buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	Window        time.Duration
	TotalAppended int64
	TotalEvicted  int64
}

// NewRingBuffer creates a buffer holding at most capacity messages no older than window.
// Non-positive arguments fall back to the defaults.
func NewRingBuffer(capacity int, window time.Duration) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	if window <= 0 {
		window = DefaultBufferWindow
	}
	return &RingBuffer{
		buf:    make([]models.Message, capacity),
		window: window,
	}
}

// Append stores m, evicting the oldest entry when full and any entries that fell
// out of the window relative to m's receipt time.
func (b *RingBuffer) Append(m models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.evictOlderThan(m.ReceivedAt.Add(-b.window))

	capacity := len(b.buf)
	if b.count == capacity {
		b.buf[b.head] = models.Message{}
		b.head = (b.head + 1) % capacity
		b.count--
		b.totalEvicted++
	}
	b.buf[(b.head+b.count)%capacity] = m
	b.count++
	b.totalAppended++
}

// Clean evicts entries received before now minus the window. It returns how many were evicted.
func (b *RingBuffer) Clean(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evictOlderThan(now.Add(-b.window))
}

// Recent returns up to limit of the newest entries, oldest first.
// A non-positive limit returns everything buffered.
func (b *RingBuffer) Recent(limit int) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.Message, n)
	start := b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.buf[(b.head+start+i)%len(b.buf)]
	}
	return out
}

// Len returns the number of buffered entries.
func (b *RingBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the count bound.
func (b *RingBuffer) Cap() int {
	return len(b.buf)
}

// Stats returns buffer statistics.
func (b *RingBuffer) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      len(b.buf),
		Window:        b.window,
		TotalAppended: b.totalAppended,
		TotalEvicted:  b.totalEvicted,
	}
}

// evictOlderThan drops head entries received before cutoff. Must be called with lock held.
func (b *RingBuffer) evictOlderThan(cutoff time.Time) int {
	evicted := 0
	for b.count > 0 && b.buf[b.head].ReceivedAt.Before(cutoff) {
		b.buf[b.head] = models.Message{} // Clear reference for GC
		b.head = (b.head + 1) % len(b.buf)
		b.count--
		evicted++
	}
	b.totalEvicted += int64(evicted)
	return evicted
}
