package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/satsrail/payouts/internal/lightning"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Payout        PayoutConfig        `mapstructure:"payout"`
	Limits        LimitsConfig        `mapstructure:"limits"`
	L402          L402Config          `mapstructure:"l402"`
	Node          NodeConfig          `mapstructure:"node"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Auth          AuthConfig          `mapstructure:"auth"`
	InstanceID    string              `mapstructure:"instance_id"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

// CORSConfig only matters for the public paid endpoints; payout routes reject browsers.
type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// PayoutConfig configures the payout engine and its authorization service.
type PayoutConfig struct {
	Secret              string             `mapstructure:"secret"`
	AuthBaseURL         string             `mapstructure:"auth_base_url"`
	Allowlist           string             `mapstructure:"allowlist"`
	Network             string             `mapstructure:"network"`
	BeforePayoutTimeout time.Duration      `mapstructure:"before_payout_timeout"`
	InFlightWait        time.Duration      `mapstructure:"in_flight_wait"`
	IdempotencyTTL      time.Duration      `mapstructure:"idempotency_ttl"`
	ExchangeRates       map[string]float64 `mapstructure:"exchange_rates"`
}

// LimitsConfig holds local spending ceilings in sats. Zero disables a ceiling.
type LimitsConfig struct {
	MaxSinglePayment int64         `mapstructure:"max_single_payment"`
	MaxHourly        int64         `mapstructure:"max_hourly"`
	MaxDaily         int64         `mapstructure:"max_daily"`
	RateLimit        int           `mapstructure:"rate_limit"`
	RateWindow       time.Duration `mapstructure:"rate_window"`
}

type L402Config struct {
	PriceSats               int64         `mapstructure:"price_sats"`
	InvoiceTTL              time.Duration `mapstructure:"invoice_ttl"`
	MaxSatsPerDomainPerHour int64         `mapstructure:"max_sats_per_domain_per_hour"`
}

// NodeConfig selects the Lightning backend. Mock runs an in-process node.
type NodeConfig struct {
	Mock    bool   `mapstructure:"mock"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type RedisConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	DB                int           `mapstructure:"db"`
	Password          string        `mapstructure:"password"`
	ConnectRetries    int           `mapstructure:"connect_retries"`
	ConnectRetryDelay time.Duration `mapstructure:"connect_retry_delay"`
}

type ObservabilityConfig struct {
	LogLevel       string `mapstructure:"log_level"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
	EnableMetrics  bool   `mapstructure:"enable_metrics"`
	EnableTracing  bool   `mapstructure:"enable_tracing"`
}

func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// PAYOUTS_PAYOUT_SECRET -> payout.secret
	v.SetEnvPrefix("PAYOUTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/payouts")

	// Config file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.read_timeout must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.write_timeout must be positive"))
	}

	if strings.TrimSpace(c.Payout.Secret) == "" {
		errs = append(errs, fmt.Errorf("payout.secret is required"))
	}
	if _, err := lightning.ParseNetwork(c.Payout.Network); err != nil {
		errs = append(errs, fmt.Errorf("payout.network: %w", err))
	}
	if c.Payout.BeforePayoutTimeout < 0 {
		errs = append(errs, fmt.Errorf("payout.before_payout_timeout must not be negative"))
	}
	for currency, rate := range c.Payout.ExchangeRates {
		if rate <= 0 {
			errs = append(errs, fmt.Errorf("payout.exchange_rates.%s must be positive", currency))
		}
	}

	if c.Limits.MaxSinglePayment < 0 || c.Limits.MaxHourly < 0 || c.Limits.MaxDaily < 0 {
		errs = append(errs, fmt.Errorf("limits must not be negative"))
	}
	if c.Limits.RateLimit <= 0 {
		errs = append(errs, fmt.Errorf("limits.rate_limit must be positive"))
	}
	if c.Limits.RateWindow <= 0 {
		errs = append(errs, fmt.Errorf("limits.rate_window must be positive"))
	}

	if c.L402.PriceSats <= 0 {
		errs = append(errs, fmt.Errorf("l402.price_sats must be positive"))
	}
	if c.L402.InvoiceTTL <= 0 {
		errs = append(errs, fmt.Errorf("l402.invoice_ttl must be positive"))
	}

	if !c.Node.Mock {
		if c.Node.BaseURL == "" {
			errs = append(errs, fmt.Errorf("node.base_url is required unless node.mock is set"))
		}
		if c.Node.APIKey == "" {
			errs = append(errs, fmt.Errorf("node.api_key is required unless node.mock is set"))
		}
	}

	if c.Redis.Enabled && c.Redis.Port <= 0 {
		errs = append(errs, fmt.Errorf("redis.port must be positive"))
	}

	env := os.Getenv("ENV")
	if env == "production" || env == "prod" {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, fmt.Errorf("auth.jwt_secret required in production"))
		}
		if c.Node.Mock {
			errs = append(errs, fmt.Errorf("node.mock is not allowed in production"))
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("server.cors.allow_credentials", false)

	v.SetDefault("payout.secret", "")
	v.SetDefault("payout.auth_base_url", "https://api.satsrail.io")
	v.SetDefault("payout.allowlist", "")
	v.SetDefault("payout.network", "mainnet")
	v.SetDefault("payout.before_payout_timeout", "5s")
	v.SetDefault("payout.in_flight_wait", "100ms")
	v.SetDefault("payout.idempotency_ttl", "24h")
	v.SetDefault("payout.exchange_rates", map[string]float64{})

	v.SetDefault("limits.max_single_payment", 0)
	v.SetDefault("limits.max_hourly", 0)
	v.SetDefault("limits.max_daily", 0)
	v.SetDefault("limits.rate_limit", 10)
	v.SetDefault("limits.rate_window", "1m")

	v.SetDefault("l402.price_sats", 10)
	v.SetDefault("l402.invoice_ttl", "10m")
	v.SetDefault("l402.max_sats_per_domain_per_hour", 10000)

	v.SetDefault("node.mock", false)
	v.SetDefault("node.base_url", "")
	v.SetDefault("node.api_key", "")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.connect_retries", 5)
	v.SetDefault("redis.connect_retry_delay", "1s")

	v.SetDefault("observability.log_level", "info")
	v.SetDefault("observability.jaeger_endpoint", "http://localhost:14268/api/traces")
	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_tracing", false)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("instance_id", "payoutd-1")
}

func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
