package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/satsrail/payouts/internal/infrastructure/config"
	"github.com/satsrail/payouts/pkg/retry"
)

// NewClient connects to Redis, pinging with backoff until the server answers.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	if err := Ping(ctx, client, connectRetry(cfg)); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// Ping checks connectivity, retrying per rc.
func Ping(ctx context.Context, client redis.UniversalClient, rc retry.Config) error {
	err := retry.Do(ctx, rc, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		return fmt.Errorf("failed to connect to Redis after %d attempts: %w", rc.MaxAttempts, err)
	}
	return nil
}

func connectRetry(cfg *config.RedisConfig) retry.Config {
	rc := retry.DefaultConfig()
	if cfg.ConnectRetries > 0 {
		rc.MaxAttempts = uint(cfg.ConnectRetries)
	} else {
		rc.MaxAttempts = 5
	}
	rc.InitialDelay = cfg.ConnectRetryDelay
	if rc.InitialDelay <= 0 {
		rc.InitialDelay = time.Second
	}
	rc.MaxDelay = 10 * rc.InitialDelay
	return rc
}
