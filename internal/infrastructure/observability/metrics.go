package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker/v2"
)

// Metrics holds all application metrics
type Metrics struct {
	// Payout metrics
	PayoutsTotal       *prometheus.CounterVec
	PayoutDuration     *prometheus.HistogramVec
	ActivePayouts      prometheus.Gauge
	PayoutErrors       *prometheus.CounterVec
	IdempotencyReplays prometheus.Counter
	LimitRejections    *prometheus.CounterVec

	// L402 metrics
	L402Challenges prometheus.Counter
	L402Payments   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		PayoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payouts_total",
				Help:      "Total number of payouts by destination type and status",
			},
			[]string{"destination", "status"},
		),
		PayoutDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payout_duration_seconds",
				Help:      "Payout processing duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"destination", "status"},
		),
		ActivePayouts: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_payouts",
				Help:      "Number of payouts currently executing",
			},
		),
		PayoutErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payout_errors_total",
				Help:      "Total number of failed payouts by error code",
			},
			[]string{"code"},
		),
		IdempotencyReplays: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idempotency_replays_total",
				Help:      "Total number of payouts answered from the idempotency cache",
			},
		),
		LimitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "limit_rejections_total",
				Help:      "Total number of payouts rejected by a local limit",
			},
			[]string{"limit"},
		),
		L402Challenges: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "l402_challenges_total",
				Help:      "Total number of 402 challenges issued",
			},
		),
		L402Payments: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "l402_payments_total",
				Help:      "Total number of L402 proofs presented, by verification status",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}

	factory.MustRegister(
		m.PayoutsTotal,
		m.PayoutDuration,
		m.ActivePayouts,
		m.PayoutErrors,
		m.IdempotencyReplays,
		m.LimitRejections,
		m.L402Challenges,
		m.L402Payments,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
	)

	return m
}

// The helpers below are safe on a nil *Metrics so components can run without metrics.

// PayoutStarted increments the active gauge and returns a func that records the outcome.
func (m *Metrics) PayoutStarted(destination string) func(status, code string) {
	if m == nil {
		return func(string, string) {}
	}
	start := time.Now()
	m.ActivePayouts.Inc()
	return func(status, code string) {
		m.ActivePayouts.Dec()
		m.PayoutsTotal.WithLabelValues(destination, status).Inc()
		m.PayoutDuration.WithLabelValues(destination, status).Observe(time.Since(start).Seconds())
		if code != "" {
			m.PayoutErrors.WithLabelValues(code).Inc()
		}
	}
}

// PayoutRejected records a payout refused before execution started.
func (m *Metrics) PayoutRejected(destination, code string) {
	if m == nil {
		return
	}
	m.PayoutsTotal.WithLabelValues(destination, "rejected").Inc()
	m.PayoutErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) IdempotencyReplay() {
	if m == nil {
		return
	}
	m.IdempotencyReplays.Inc()
}

func (m *Metrics) LimitRejected(limit string) {
	if m == nil {
		return
	}
	m.LimitRejections.WithLabelValues(limit).Inc()
}

func (m *Metrics) L402Challenge() {
	if m == nil {
		return
	}
	m.L402Challenges.Inc()
}

func (m *Metrics) L402Payment(status string) {
	if m == nil {
		return
	}
	m.L402Payments.WithLabelValues(status).Inc()
}

// BreakerStateChange is a gobreaker OnStateChange hook.
func (m *Metrics) BreakerStateChange(name string, _, to gobreaker.State) {
	if m == nil {
		return
	}
	var v float64
	switch to {
	case gobreaker.StateHalfOpen:
		v = 1
	case gobreaker.StateOpen:
		v = 2
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(v)
}
