package limits

import (
	"sync"
	"time"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

const minRateRetryAfter = 100 * time.Millisecond

// RateLimiter caps payment attempts inside a sliding window.
type RateLimiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	attempts []time.Time
	now      func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateClock injects the time source.
func WithRateClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// NewRateLimiter allows limit attempts per window. A non-positive limit disables it.
func NewRateLimiter(limit int, window time.Duration, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{limit: limit, window: window, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Check records an attempt, or fails with RATE_LIMIT_EXCEEDED when the window is full.
func (r *RateLimiter) Check() error {
	if r.limit <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	keep := r.attempts[:0]
	for _, ts := range r.attempts {
		if now.Sub(ts) < r.window {
			keep = append(keep, ts)
		}
	}
	r.attempts = keep

	if len(r.attempts) >= r.limit {
		wait := r.attempts[0].Add(r.window).Sub(now)
		if wait < minRateRetryAfter {
			wait = minRateRetryAfter
		}
		return domainErrors.WithRetryAfter(domainErrors.CodeRateLimitExceeded,
			"too many payment attempts", wait)
	}

	r.attempts = append(r.attempts, now)
	return nil
}

// Attempts returns how many attempts are inside the current window.
func (r *RateLimiter) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	n := 0
	for _, ts := range r.attempts {
		if now.Sub(ts) < r.window {
			n++
		}
	}
	return n
}
