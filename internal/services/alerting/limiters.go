package alerting

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryDeduplicator keeps dedup claims in process memory
type MemoryDeduplicator struct {
	mu     sync.Mutex
	claims map[string]time.Time // key -> expiry
	now    func() time.Time
}

// NewMemoryDeduplicator creates an in-process deduplicator
func NewMemoryDeduplicator() *MemoryDeduplicator {
	return &MemoryDeduplicator{claims: make(map[string]time.Time), now: time.Now}
}

// SetClock replaces the time source. Used by tests.
func (d *MemoryDeduplicator) SetClock(now func() time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
}

// Claim returns true when key has no live claim
func (d *MemoryDeduplicator) Claim(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if exp, ok := d.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.claims[key] = now.Add(window)

	// opportunistic sweep keeps the map bounded by live claims
	if len(d.claims) > 1024 {
		for k, exp := range d.claims {
			if !now.Before(exp) {
				delete(d.claims, k)
			}
		}
	}
	return true, nil
}

// Release drops the claim for key
func (d *MemoryDeduplicator) Release(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, key)
	return nil
}

// MemoryRateLimiter is a process-local token bucket
type MemoryRateLimiter struct {
	limiter *rate.Limiter
}

// NewMemoryRateLimiter allows perMinute dispatches per minute with an equal burst
func NewMemoryRateLimiter(perMinute int) *MemoryRateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	return &MemoryRateLimiter{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Allow consumes a token without waiting
func (l *MemoryRateLimiter) Allow(context.Context) (bool, error) {
	return l.limiter.Allow(), nil
}
