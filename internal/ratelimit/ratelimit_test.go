package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBurstBound(t *testing.T) {
	// 10 tokens/sec, burst of 3: an instant window must never yield more
	// than the burst capacity.
	limiter := New(10, 3)

	granted := 0
	for i := 0; i < 10; i++ {
		if limiter.Allow("example.com") {
			granted++
		}
	}

	assert.Equal(t, 3, granted, "instantaneous grants must not exceed bucket capacity")
}

func TestTokensRefillOverTime(t *testing.T) {
	limiter := New(100, 1)

	require.True(t, limiter.Allow("example.com"))
	require.False(t, limiter.Allow("example.com"))

	// At 100/s a token is back within 10ms.
	time.Sleep(25 * time.Millisecond)
	assert.True(t, limiter.Allow("example.com"))
}

func TestHostsPaceIndependently(t *testing.T) {
	limiter := New(1, 1)

	require.True(t, limiter.Allow("a.example.com"))
	require.False(t, limiter.Allow("a.example.com"))

	// Exhausting one host leaves another untouched.
	assert.True(t, limiter.Allow("b.example.com"))
}

func TestWaitSuspendsUntilToken(t *testing.T) {
	limiter := New(50, 1)
	require.True(t, limiter.Allow("example.com"))

	start := time.Now()
	err := limiter.Wait(context.Background(), "example.com")
	require.NoError(t, err)

	// The second token needs ~20ms at 50/s; Wait must have suspended.
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

func TestWaitRespectsContext(t *testing.T) {
	limiter := New(0.1, 1) // One token every 10s.
	require.True(t, limiter.Allow("example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx, "example.com")
	assert.Error(t, err)
}

func TestApplyCrawlDelayOnlySlowsDown(t *testing.T) {
	limiter := New(5, 3)

	limiter.ApplyCrawlDelay("example.com", 2*time.Second)
	assert.InDelta(t, 0.5, limiter.Rate("example.com"), 0.01)

	// A shorter delay than the current pacing must not speed the host up.
	limiter.ApplyCrawlDelay("example.com", 500*time.Millisecond)
	assert.InDelta(t, 0.5, limiter.Rate("example.com"), 0.01)

	// Zero delay is a no-op.
	limiter.ApplyCrawlDelay("other.com", 0)
	assert.InDelta(t, 5.0, limiter.Rate("other.com"), 0.01)
}
