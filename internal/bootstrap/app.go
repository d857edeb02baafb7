package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/satsrail/payouts/internal/infrastructure/config"
	"github.com/satsrail/payouts/internal/infrastructure/observability"
	infraRedis "github.com/satsrail/payouts/internal/infrastructure/redis"
)

type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Redis    *redis.Client // nil unless redis.enabled
	Metrics  *observability.Metrics
	Registry *prometheus.Registry

	tracer *sdktrace.TracerProvider
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(ctx, cfg, serviceName, metricsNamespace)
}

// NewWithConfig wires the shared infrastructure for an already loaded config.
func NewWithConfig(ctx context.Context, cfg *config.Config, serviceName string, metricsNamespace string) (*App, error) {
	logger := observability.InitLogger(cfg.Observability.LogLevel, os.Stdout).
		With().Str("service", serviceName).Str("instance", cfg.InstanceID).Logger()
	logger.Info().Msg("Starting")

	app := &App{Config: cfg, Logger: logger}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.tracer = tp
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Registry = prometheus.NewRegistry()
	if cfg.Observability.EnableMetrics {
		app.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	app.Metrics = observability.NewMetrics(metricsNamespace, app.Registry)

	if cfg.Redis.Enabled {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		app.Redis = client
		logger.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("Connected to Redis")
	}

	return app, nil
}

// RedisClient returns the Redis client as an interface, nil when Redis is disabled.
func (a *App) RedisClient() redis.UniversalClient {
	if a.Redis == nil {
		return nil
	}
	return a.Redis
}

// Close releases Redis and flushes pending spans.
func (a *App) Close(ctx context.Context) {
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close redis")
		}
	}
	if a.tracer != nil {
		if err := observability.Shutdown(ctx, a.tracer); err != nil {
			a.Logger.Warn().Err(err).Msg("flush traces")
		}
	}
}
