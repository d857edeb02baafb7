// Package limits enforces local spending ceilings and payment attempt rates. Both are
// best-effort guards in front of the authoritative remote authorization service.
package limits

import (
	"sync"
	"time"

	domainErrors "github.com/satsrail/payouts/internal/domain/errors"
)

const (
	hourWindow = time.Hour
	dayWindow  = 24 * time.Hour

	minLimitRetryAfter = time.Second
)

// Config holds the spending ceilings in satoshis. Zero disables a ceiling.
type Config struct {
	MaxSinglePayment int64
	MaxHourly        int64
	MaxDaily         int64
}

// Record is one reserved payment.
type Record struct {
	AmountSats int64
	Timestamp  time.Time
}

// Usage is a snapshot of reserved spend inside each window.
type Usage struct {
	HourlySats int64
	DailySats  int64
	Limits     Config
}

// Guard enforces per-payment, rolling-hourly and rolling-daily ceilings. Check and
// reservation happen in one critical section.
type Guard struct {
	mu      sync.Mutex
	cfg     Config
	records []Record
	now     func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithGuardClock injects the time source.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a Guard with no history.
func NewGuard(cfg Config, opts ...GuardOption) *Guard {
	g := &Guard{cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(g)
	}
	return g
}

// CheckAndReserve validates amountSats against every ceiling and, if all pass, appends
// a record. The append is the reservation; pass the returned record to Release to undo it.
func (g *Guard) CheckAndReserve(amountSats int64) (Record, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneLocked(now)

	if g.cfg.MaxSinglePayment > 0 && amountSats > g.cfg.MaxSinglePayment {
		return Record{}, domainErrors.Newf(domainErrors.CodePerPaymentLimitExceeded,
			"payment of %d sats exceeds the per-payment limit of %d sats", amountSats, g.cfg.MaxSinglePayment)
	}

	if g.cfg.MaxHourly > 0 {
		spent, oldest := g.windowLocked(now, hourWindow)
		if spent+amountSats > g.cfg.MaxHourly {
			return Record{}, domainErrors.WithRetryAfter(domainErrors.CodeHourlyLimitExceeded,
				"hourly spending limit reached", retryAfter(now, oldest, hourWindow))
		}
	}

	if g.cfg.MaxDaily > 0 {
		spent, oldest := g.windowLocked(now, dayWindow)
		if spent+amountSats > g.cfg.MaxDaily {
			return Record{}, domainErrors.WithRetryAfter(domainErrors.CodeDailyLimitExceeded,
				"daily spending limit reached", retryAfter(now, oldest, dayWindow))
		}
	}

	rec := Record{AmountSats: amountSats, Timestamp: now}
	g.records = append(g.records, rec)
	return rec, nil
}

// Release removes a previously reserved record. It reports whether a match was found.
func (g *Guard) Release(rec Record) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, r := range g.records {
		if r.AmountSats == rec.AmountSats && r.Timestamp.Equal(rec.Timestamp) {
			g.records = append(g.records[:i], g.records[i+1:]...)
			return true
		}
	}
	return false
}

// Usage returns current spend within the hourly and daily windows.
func (g *Guard) Usage() Usage {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.pruneLocked(now)
	hourly, _ := g.windowLocked(now, hourWindow)
	daily, _ := g.windowLocked(now, dayWindow)
	return Usage{HourlySats: hourly, DailySats: daily, Limits: g.cfg}
}

func (g *Guard) pruneLocked(now time.Time) {
	keep := g.records[:0]
	for _, r := range g.records {
		if now.Sub(r.Timestamp) < dayWindow {
			keep = append(keep, r)
		}
	}
	g.records = keep
}

// windowLocked sums records inside the trailing window and returns the oldest one's time.
func (g *Guard) windowLocked(now time.Time, window time.Duration) (int64, time.Time) {
	var sum int64
	var oldest time.Time
	for _, r := range g.records {
		if now.Sub(r.Timestamp) >= window {
			continue
		}
		sum += r.AmountSats
		if oldest.IsZero() || r.Timestamp.Before(oldest) {
			oldest = r.Timestamp
		}
	}
	return sum, oldest
}

func retryAfter(now, oldest time.Time, window time.Duration) time.Duration {
	if oldest.IsZero() {
		return minLimitRetryAfter
	}
	wait := oldest.Add(window).Sub(now)
	if wait < minLimitRetryAfter {
		return minLimitRetryAfter
	}
	return wait
}
