package hub

import (
	"testing"
	"time"

	"MarketHub/internal/domain/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer_CapacityKeepsMostRecentOldestFirst(t *testing.T) {
	b := NewRingBuffer(1000, time.Hour)
	base := time.Now()
	for i := 0; i < 1500; i++ {
		m := priceMsg("market", "BTCUSDT", float64(i), base.Add(time.Duration(i)*time.Millisecond))
		b.Append(m)
	}

	got := b.Recent(2000)
	require.Len(t, got, 1000)

	seen := make(map[float64]struct{}, len(got))
	for i, m := range got {
		price := priceOf(t, m)
		assert.Equal(t, float64(500+i), price, "entry %d", i)
		_, dup := seen[price]
		assert.False(t, dup, "duplicate %v", price)
		seen[price] = struct{}{}
	}

	stats := b.Stats()
	assert.Equal(t, 1000, stats.Count)
	assert.EqualValues(t, 1500, stats.TotalAppended)
	assert.EqualValues(t, 500, stats.TotalEvicted)
}

func TestRingBuffer_RecentLimit(t *testing.T) {
	b := NewRingBuffer(10, time.Hour)
	base := time.Now()
	for i := 0; i < 4; i++ {
		b.Append(priceMsg("f", "X", float64(i), base))
	}

	got := b.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, priceOf(t, got[0]))
	assert.Equal(t, 3.0, priceOf(t, got[1]))
	assert.Len(t, b.Recent(0), 4)
}

func TestRingBuffer_WindowEvictsOnAppend(t *testing.T) {
	b := NewRingBuffer(100, time.Minute)
	base := time.Now()
	b.Append(priceMsg("f", "X", 1, base))
	b.Append(priceMsg("f", "X", 2, base.Add(30*time.Second)))
	b.Append(priceMsg("f", "X", 3, base.Add(90*time.Second)))

	got := b.Recent(0)
	require.Len(t, got, 2)
	assert.Equal(t, 2.0, priceOf(t, got[0]))
	assert.Equal(t, 3.0, priceOf(t, got[1]))
}

func TestRingBuffer_Clean(t *testing.T) {
	b := NewRingBuffer(100, time.Minute)
	base := time.Now()
	for i := 0; i < 5; i++ {
		b.Append(priceMsg("f", "X", float64(i), base.Add(time.Duration(i)*10*time.Second)))
	}

	evicted := b.Clean(base.Add(85 * time.Second))
	assert.Equal(t, 3, evicted)
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 0, b.Clean(base.Add(85*time.Second)))
}

func TestRingBuffer_Defaults(t *testing.T) {
	b := NewRingBuffer(0, 0)
	assert.Equal(t, DefaultBufferSize, b.Cap())
	assert.Equal(t, DefaultBufferWindow, b.Stats().Window)
}

func priceOf(t *testing.T, m models.Message) float64 {
	t.Helper()
	p, ok := m.Payload.(models.Price)
	require.True(t, ok, "payload %T", m.Payload)
	return p.Price
}
