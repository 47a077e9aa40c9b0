package security

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(ttl time.Duration) (*RateLimiter, *MemoryStore, *time.Time) {
	store := NewMemoryStore(ttl)
	limiter := NewRateLimiter(store)
	current := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	return limiter, store, &current
}

func TestRateLimiterAllowsUpToLimit(t *testing.T) {
	limiter, store, _ := newTestLimiter(time.Hour)
	defer store.Stop()

	for i := 1; i <= 5; i++ {
		assert.True(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute),
			"attempt %d should be allowed", i)
	}
	assert.False(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute),
		"attempt 6 should be denied")
}

func TestRateLimiterWindowReset(t *testing.T) {
	limiter, store, current := newTestLimiter(time.Hour)
	defer store.Stop()

	for i := 0; i < 5; i++ {
		limiter.Check("1.2.3.4", "login", 5, 15*time.Minute)
	}
	assert.False(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute))

	// Once the window elapses the counter restarts at one
	*current = current.Add(16 * time.Minute)
	assert.True(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute))
	assert.Equal(t, 4, limiter.Remaining("1.2.3.4", "login", 5, 15*time.Minute))
}

func TestRateLimiterIdentifiersIndependent(t *testing.T) {
	limiter, store, _ := newTestLimiter(time.Hour)
	defer store.Stop()

	for i := 0; i < 5; i++ {
		limiter.Check("1.2.3.4", "login", 5, 15*time.Minute)
	}
	assert.False(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute))

	// A different client and a different action are untouched
	assert.True(t, limiter.Check("5.6.7.8", "login", 5, 15*time.Minute))
	assert.True(t, limiter.Check("1.2.3.4", "api_validation", 30, time.Minute))
}

func TestRateLimiterReset(t *testing.T) {
	limiter, store, _ := newTestLimiter(time.Hour)
	defer store.Stop()

	for i := 0; i < 5; i++ {
		limiter.Check("1.2.3.4", "login", 5, 15*time.Minute)
	}
	assert.False(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute))

	// A successful login forgives the earlier failures
	limiter.Reset("1.2.3.4", "login")
	assert.True(t, limiter.Check("1.2.3.4", "login", 5, 15*time.Minute))
}

func TestRateLimiterConcurrentChecksExact(t *testing.T) {
	limiter, store, _ := newTestLimiter(time.Hour)
	defer store.Stop()

	// Increments run inside the store's critical section, so exactly
	// maxAttempts checks pass no matter how the goroutines interleave.
	const maxAttempts = 100
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if limiter.Check("1.2.3.4", "login", maxAttempts, 15*time.Minute) {
					allowed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(maxAttempts), allowed.Load())
}

func TestRateLimiterRemaining(t *testing.T) {
	limiter, store, _ := newTestLimiter(time.Hour)
	defer store.Stop()

	assert.Equal(t, 5, limiter.Remaining("1.2.3.4", "login", 5, 15*time.Minute))

	limiter.Check("1.2.3.4", "login", 5, 15*time.Minute)
	limiter.Check("1.2.3.4", "login", 5, 15*time.Minute)
	assert.Equal(t, 3, limiter.Remaining("1.2.3.4", "login", 5, 15*time.Minute))

	for i := 0; i < 10; i++ {
		limiter.Check("1.2.3.4", "login", 5, 15*time.Minute)
	}
	assert.Equal(t, 0, limiter.Remaining("1.2.3.4", "login", 5, 15*time.Minute))
}
