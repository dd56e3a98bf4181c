package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	now := time.Unix(1700000000, 0)
	l := New(2, 1).WithClock(func() time.Time { return now })

	assert.True(t, l.Allow("BTCUSDT"))
	assert.True(t, l.Allow("BTCUSDT"))
	assert.False(t, l.Allow("BTCUSDT"))
	assert.True(t, l.Allow("ETHUSDT"), "keys are independent")

	now = now.Add(500 * time.Millisecond)
	assert.False(t, l.Allow("BTCUSDT"))
	now = now.Add(500 * time.Millisecond)
	assert.True(t, l.Allow("BTCUSDT"))

	now = now.Add(time.Hour)
	assert.True(t, l.Allow("BTCUSDT"))
	assert.True(t, l.Allow("BTCUSDT"))
	assert.False(t, l.Allow("BTCUSDT"), "refill is capped at capacity")
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(1, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("x"))
	}
	assert.Zero(t, l.Len())
}
