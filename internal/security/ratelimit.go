package security

import (
	"time"
)

// rateLimitScope is the store scope holding all rate-limit buckets
const rateLimitScope = "rate_limit"

// Bucket is a fixed-window counter for one (identifier, action) pair
type Bucket struct {
	Count       int
	WindowStart time.Time
}

// RateLimiter bounds the rate of sensitive actions per client identifier
// using fixed-window counters kept in the session store. Counters update
// inside the store's critical section, so concurrent requests from one
// identifier cannot slip past the limit within a process.
type RateLimiter struct {
	store Store
	now   func() time.Time
}

// NewRateLimiter creates a rate limiter backed by the given store
func NewRateLimiter(store Store) *RateLimiter {
	return &RateLimiter{store: store, now: time.Now}
}

// Check records an attempt for (identifier, action) and reports whether it
// is allowed. The first maxAttempts calls inside a window are allowed; the
// next is denied. Once the window elapses the counter resets to one.
func (l *RateLimiter) Check(identifier, action string, maxAttempts int, window time.Duration) bool {
	key := action + ":" + identifier
	now := l.now()

	allowed := true
	l.store.Update(rateLimitScope, key, func(current interface{}, ok bool) interface{} {
		bucket, isBucket := current.(*Bucket)
		if !ok || !isBucket || now.Sub(bucket.WindowStart) > window {
			return &Bucket{Count: 1, WindowStart: now}
		}
		if bucket.Count >= maxAttempts {
			allowed = false
			return bucket
		}
		return &Bucket{Count: bucket.Count + 1, WindowStart: bucket.WindowStart}
	})
	return allowed
}

// Reset clears the bucket for (identifier, action) immediately.
// Used on successful login to forgive earlier failures.
func (l *RateLimiter) Reset(identifier, action string) {
	l.store.Delete(rateLimitScope, action+":"+identifier)
}

// Remaining returns how many attempts are left in the current window.
// Exposed only on the admin surface; the public API never reveals it.
func (l *RateLimiter) Remaining(identifier, action string, maxAttempts int, window time.Duration) int {
	v, ok := l.store.Get(rateLimitScope, action+":"+identifier)
	bucket, isBucket := v.(*Bucket)
	if !ok || !isBucket || l.now().Sub(bucket.WindowStart) > window {
		return maxAttempts
	}
	remaining := maxAttempts - bucket.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}
