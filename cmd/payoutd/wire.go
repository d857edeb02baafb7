package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/satsrail/payouts/internal/authz"
	"github.com/satsrail/payouts/internal/bootstrap"
	"github.com/satsrail/payouts/internal/controller"
	"github.com/satsrail/payouts/internal/destination"
	"github.com/satsrail/payouts/internal/idempotency"
	"github.com/satsrail/payouts/internal/infrastructure/config"
	"github.com/satsrail/payouts/internal/infrastructure/observability"
	"github.com/satsrail/payouts/internal/l402"
	"github.com/satsrail/payouts/internal/lightning"
	"github.com/satsrail/payouts/internal/limits"
	"github.com/satsrail/payouts/internal/payout"
)

// service is the fully wired daemon.
type service struct {
	handler  http.Handler
	store    *idempotency.Store
	reporter *authz.Reporter
	node     *lightning.BreakerNode
	executor *payout.Executor
}

func newNode(cfg config.NodeConfig, network lightning.Network, invoiceTTL time.Duration) lightning.Node {
	if cfg.Mock {
		return lightning.NewMockNode(
			lightning.WithMockNetwork(network),
			lightning.WithInvoiceTTL(invoiceTTL),
		)
	}
	return lightning.NewRESTNode(cfg.BaseURL, cfg.APIKey, lightning.WithRESTInvoiceTTL(invoiceTTL))
}

func newService(app *bootstrap.App, node lightning.Node) (*service, error) {
	cfg := app.Config
	logger := app.Logger

	network, err := lightning.ParseNetwork(cfg.Payout.Network)
	if err != nil {
		return nil, err
	}

	breakerNode := lightning.NewBreakerNode(node,
		lightning.BreakerSettings("lightning-node", app.Metrics.BreakerStateChange))

	authClient := authz.NewClient(
		authz.StaticCredentials(cfg.Payout.Secret, cfg.Payout.AuthBaseURL),
		authz.WithLogger(observability.Component(logger, "authz")),
		authz.WithBreakerObserver(app.Metrics.BreakerStateChange),
	)
	reporter := authz.NewReporter(authClient, observability.Component(logger, "authz-reporter"), 0)

	store := idempotency.NewStore(idempotency.WithTTL(cfg.Payout.IdempotencyTTL))
	guard := limits.NewGuard(limits.Config{
		MaxSinglePayment: cfg.Limits.MaxSinglePayment,
		MaxHourly:        cfg.Limits.MaxHourly,
		MaxDaily:         cfg.Limits.MaxDaily,
	})
	limiter := limits.NewRateLimiter(cfg.Limits.RateLimit, cfg.Limits.RateWindow)

	executor := payout.NewExecutor(payout.Deps{
		Resolver: destination.NewResolver(
			destination.WithAllowlist(destination.ParseAllowlist(cfg.Payout.Allowlist)),
			destination.WithNetwork(network),
		),
		Store:      store,
		Guard:      guard,
		Limiter:    limiter,
		Authorizer: authClient,
		Reporter:   reporter,
		Node:       breakerNode,
		Converter:  payout.NewFixedRateConverter(cfg.Payout.ExchangeRates),
		Metrics:    app.Metrics,
		Logger:     observability.Component(logger, "payout"),
	}, payout.Config{
		BeforePayoutTimeout: cfg.Payout.BeforePayoutTimeout,
		InFlightWait:        cfg.Payout.InFlightWait,
	})

	var invoices l402.InvoiceStore = l402.NewMemoryInvoiceStore()
	if app.Redis != nil {
		invoices = l402.NewRedisInvoiceStore(app.Redis)
	}
	paidServer := l402.NewServer(breakerNode,
		l402.WithInvoiceStore(invoices),
		l402.WithServerLogger(observability.Component(logger, "l402-server")),
		l402.WithServerMetrics(app.Metrics),
	)
	fetcher := l402.NewClient(executor,
		l402.WithDomainHourlyCap(cfg.L402.MaxSatsPerDomainPerHour),
		l402.WithClientLogger(observability.Component(logger, "l402-client")),
		l402.WithClientMetrics(app.Metrics),
	)

	router := controller.NewRouter(controller.RouterDeps{
		Executor:     executor,
		Results:      store,
		Remote:       authClient,
		Guard:        guard,
		Attempts:     limiter,
		PaidServer:   paidServer,
		PaidFetcher:  fetcher,
		Node:         breakerNode,
		Redis:        app.RedisClient(),
		Metrics:      app.Metrics,
		Gatherer:     app.Registry,
		Logger:       logger,
		CORSConfig:   cfg.Server.CORS,
		JWTSecret:    cfg.Auth.JWTSecret,
		PriceSats:    cfg.L402.PriceSats,
		RequestLimit: 120,
	})

	return &service{
		handler:  router,
		store:    store,
		reporter: reporter,
		node:     breakerNode,
		executor: executor,
	}, nil
}

// purgeLoop evicts expired idempotency entries until ctx is done.
func purgeLoop(ctx context.Context, store *idempotency.Store, every time.Duration, logger zerolog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			remaining := store.Purge()
			logger.Debug().Int("remaining", remaining).Msg("purged expired payout results")
		}
	}
}
