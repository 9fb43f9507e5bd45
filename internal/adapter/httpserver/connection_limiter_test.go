package httpserver

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestGlobalConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(3)

	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.True(t, limiter.Acquire())
	assert.False(t, limiter.Acquire())
	assert.Equal(t, int64(3), limiter.Current())

	limiter.Release()
	assert.Equal(t, int64(2), limiter.Current())
	assert.True(t, limiter.Acquire())
}

func TestGlobalConnectionLimiter_Concurrent(t *testing.T) {
	limiter := NewGlobalConnectionLimiter(100)
	var successCount, failCount atomic.Int64

	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if limiter.Acquire() {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(100), successCount.Load())
	assert.Equal(t, int64(100), failCount.Load())
	assert.Equal(t, int64(100), limiter.Current())
}

func TestIPConnectionLimiter_AcquireRelease(t *testing.T) {
	limiter := NewIPConnectionLimiter(2)

	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.False(t, limiter.Acquire("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.2"), "limits are per IP")

	limiter.Release("10.0.0.1")
	assert.Equal(t, 1, limiter.Count("10.0.0.1"))
	assert.True(t, limiter.Acquire("10.0.0.1"))
}

func TestIPConnectionLimiter_ReleaseRemovesIdleIP(t *testing.T) {
	limiter := NewIPConnectionLimiter(5)

	assert.True(t, limiter.Acquire("10.0.0.1"))
	assert.Equal(t, 1, limiter.UniqueIPs())

	limiter.Release("10.0.0.1")
	assert.Equal(t, 0, limiter.UniqueIPs())

	limiter.Release("10.0.0.1")
	assert.Equal(t, 0, limiter.Count("10.0.0.1"), "release without acquire is harmless")
}

func TestConnectionRateLimiter_Burst(t *testing.T) {
	limiter := NewConnectionRateLimiter(clockwork.NewFakeClock(), 2.0, 2)

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))

	assert.True(t, limiter.Allow("10.0.0.2"))
	assert.Equal(t, 2, limiter.ActiveLimiters())
}

func TestConnectionRateLimiter_TokenRefill(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionRateLimiter(clock, 10.0, 5)

	for range 5 {
		assert.True(t, limiter.Allow("10.0.0.1"))
	}
	assert.False(t, limiter.Allow("10.0.0.1"))

	clock.Advance(100 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestConnectionRateLimiter_CleanupDropsIdleLimiters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	limiter := NewConnectionRateLimiter(clock, 1.0, 1)

	limiter.Allow("10.0.0.1")
	limiter.Allow("10.0.0.2")
	assert.Equal(t, 2, limiter.ActiveLimiters())

	clock.Advance(rateLimiterIdleExpiry + time.Minute)
	limiter.Allow("10.0.0.3")

	assert.Equal(t, 1, limiter.ActiveLimiters())
}

func TestConnectionLimits_Acquire(t *testing.T) {
	limits := NewConnectionLimits(clockwork.NewFakeClock(), 10, 5, 100, 100)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.Equal(t, int64(1), limits.Global().Current())
	assert.Equal(t, 1, limits.PerIP().Count("10.0.0.1"))

	limits.Release("10.0.0.1")
	assert.Equal(t, int64(0), limits.Global().Current())
	assert.Equal(t, 0, limits.PerIP().Count("10.0.0.1"))
}

func TestConnectionLimits_Reasons(t *testing.T) {
	tests := []struct {
		name       string
		globalMax  int64
		perIPMax   int
		burst      int
		attempts   int
		wantReason LimitReason
	}{
		{"global", 2, 10, 100, 3, LimitReasonGlobal},
		{"per ip", 10, 2, 100, 3, LimitReasonPerIP},
		{"rate", 10, 10, 2, 3, LimitReasonRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limits := NewConnectionLimits(clockwork.NewFakeClock(), tt.globalMax, tt.perIPMax, 0.001, tt.burst)

			var reason LimitReason
			for range tt.attempts {
				_, reason = limits.Acquire("10.0.0.1")
			}
			assert.Equal(t, tt.wantReason, reason)
		})
	}
}

func TestConnectionLimits_PerIPRejectionRollsBackGlobal(t *testing.T) {
	limits := NewConnectionLimits(clockwork.NewFakeClock(), 10, 1, 100, 100)

	ok, _ := limits.Acquire("10.0.0.1")
	assert.True(t, ok)

	ok, reason := limits.Acquire("10.0.0.1")
	assert.False(t, ok)
	assert.Equal(t, LimitReasonPerIP, reason)
	assert.Equal(t, int64(1), limits.Global().Current(), "global slot must be released on per-IP rejection")
}
