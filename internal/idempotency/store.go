// Package idempotency caches payout outcomes per idempotency key and tracks keys that
// are currently executing. State is process-local.
package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/satsrail/payouts/internal/domain/payout"
)

// DefaultTTL is how long an outcome is replayed for.
const DefaultTTL = 24 * time.Hour

type cachedResult struct {
	result    payout.Result
	timestamp time.Time
}

// Store maps idempotency keys to outcomes. Both successes and failures are cached so a
// retried failing request returns the same failure instead of re-attempting.
type Store struct {
	mu       sync.Mutex
	results  map[string]cachedResult
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		results:  make(map[string]cachedResult),
		inFlight: make(map[string]chan struct{}),
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns the cached outcome for key if it is younger than the TTL. Expired
// entries are evicted on lookup.
func (s *Store) Get(key string) (payout.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (payout.Result, bool) {
	entry, ok := s.results[key]
	if !ok {
		return payout.Result{}, false
	}
	if s.now().Sub(entry.timestamp) >= s.ttl {
		delete(s.results, key)
		return payout.Result{}, false
	}
	return entry.result, true
}

// Cache stores the outcome for key with the current timestamp.
func (s *Store) Cache(key string, result payout.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = cachedResult{result: result, timestamp: s.now()}
}

// resolved is handed to callers of a key that already has an outcome.
var resolved = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// MarkInProgress claims key. It returns false when another caller already holds it; the
// returned channel is closed when that caller clears the key. A key with a cached
// outcome is never claimed again; it reports false with an already closed channel.
func (s *Store) MarkInProgress(key string) (<-chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if done, exists := s.inFlight[key]; exists {
		return done, false
	}
	if _, ok := s.getLocked(key); ok {
		return resolved, false
	}
	done := make(chan struct{})
	s.inFlight[key] = done
	return done, true
}

// ClearInProgress releases key and wakes any waiters. Safe to call when key is not held.
func (s *Store) ClearInProgress(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if done, exists := s.inFlight[key]; exists {
		close(done)
		delete(s.inFlight, key)
	}
}

// InProgress reports whether key is currently claimed.
func (s *Store) InProgress(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inFlight[key]
	return ok
}

// Await blocks until done is closed, maxWait elapses, or ctx ends, then returns the
// cached outcome for key if one exists.
func (s *Store) Await(ctx context.Context, key string, done <-chan struct{}, maxWait time.Duration) (payout.Result, bool) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}
	return s.Get(key)
}

// Purge drops every expired outcome and returns how many remain.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, entry := range s.results {
		if now.Sub(entry.timestamp) >= s.ttl {
			delete(s.results, key)
		}
	}
	return len(s.results)
}
