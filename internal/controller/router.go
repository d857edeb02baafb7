package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/satsrail/payouts/internal/infrastructure/config"
	"github.com/satsrail/payouts/internal/infrastructure/observability"
	"github.com/satsrail/payouts/internal/l402"
	customMW "github.com/satsrail/payouts/internal/middleware"
)

type RouterDeps struct {
	Executor    PayoutExecutor
	Results     ResultLookup
	Remote      RemoteLimits
	Guard       LocalUsage
	Attempts    AttemptCounter
	PaidServer  *l402.Server
	PaidFetcher PaidFetcher
	// Node and Redis feed readiness; both may be nil.
	Node  BreakerStater
	Redis redis.UniversalClient

	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
	CORSConfig   config.CORSConfig
	JWTSecret    string
	PriceSats    int64
	RequestLimit int
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Redis, deps.Node)
	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	payoutH := NewPayoutController(deps.Executor, deps.Results, observability.Component(deps.Logger, "payout-api"))
	limitsH := NewLimitsController(deps.Remote, deps.Guard, deps.Attempts, deps.Logger)
	l402H := NewL402Controller(deps.PaidFetcher)

	r.Route("/api/v1", func(r chi.Router) {
		// Paid content is public and may be fetched from browsers.
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
				AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders:   []string{"Accept", "Authorization", l402.HeaderPaymentHash, l402.HeaderPreimage},
				ExposedHeaders:   []string{l402.HeaderChallenge, l402.HeaderInvoice, l402.HeaderPaymentHash},
				AllowCredentials: deps.CORSConfig.AllowCredentials,
				MaxAge:           300,
			}))
			r.Method(http.MethodGet, "/premium", deps.PaidServer.PaidEndpoint(deps.PriceSats, Premium))
		})

		// Operator API: server-to-server only.
		r.Group(func(r chi.Router) {
			r.Use(customMW.RejectBrowsers())
			if deps.RequestLimit > 0 {
				r.Use(customMW.RateLimit(deps.RequestLimit, time.Minute))
			}
			if deps.JWTSecret != "" {
				r.Use(customMW.RequireAuth(deps.JWTSecret))
			}

			r.Post("/payouts", payoutH.CreatePayout)
			r.Get("/payouts/{key}", payoutH.GetPayout)
			r.Get("/limits", limitsH.GetLimits)
			r.Post("/l402/fetch", l402H.Fetch)
		})
	})

	return r
}
