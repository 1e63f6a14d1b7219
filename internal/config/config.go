package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/charmntreats/addressvault/pkg/config"
)

const defaultJWTSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the address service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"ADDRESS_HTTP_PORT" envDefault:"8010"`

	// Primary tier (PostgreSQL via pgx)
	PrimaryEnabled        bool   `env:"ADDRESS_PRIMARY_ENABLED" envDefault:"true"`
	PostgresHost          string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort          int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser          string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass          string `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresDB            string `env:"ADDRESS_DB_NAME" envDefault:"address_db"`
	PostgresSSL           string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns            int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns            int32  `env:"DB_MIN_CONNS" envDefault:"1"`
	DBMaxConnLifetimeMins int    `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int    `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`
	SlowQueryThresholdMs  int    `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`

	// Secondary tier (database/sql over lib/pq). Empty disables it.
	SecondaryDSN string `env:"ADDRESS_SECONDARY_DSN"`

	// Local tier
	LocalStoreDSN        string `env:"ADDRESS_LOCAL_STORE_DSN" envDefault:"file://./data/addresses"`
	LocalStoreQuotaBytes int64  `env:"ADDRESS_LOCAL_STORE_QUOTA_BYTES" envDefault:"5242880"`
	StartLocalOnly       bool   `env:"ADDRESS_START_LOCAL_ONLY" envDefault:"false"`

	// Per-tier circuit breakers
	TierBreakerTimeout      time.Duration `env:"ADDRESS_TIER_BREAKER_TIMEOUT" envDefault:"30s"`
	TierBreakerFailureRatio float64       `env:"ADDRESS_TIER_BREAKER_FAILURE_RATIO" envDefault:"0.5"`
	TierBreakerMinRequests  uint32        `env:"ADDRESS_TIER_BREAKER_MIN_REQUESTS" envDefault:"5"`

	// Kafka. Empty disables events.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// JWT
	JWTSecret string        `env:"JWT_SECRET" envDefault:"change-this-to-a-secure-secret"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"user-service"`
	JWTLeeway time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`

	// Rate limiting per owner
	RateLimitRPS   float64 `env:"ADDRESS_RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"ADDRESS_RATE_LIMIT_BURST" envDefault:"40"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofEnabled      bool     `env:"ADDRESS_PPROF_ENABLED" envDefault:"false"`
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load address config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.LocalStoreDSN == "" {
		return nil, fmt.Errorf("ADDRESS_LOCAL_STORE_DSN must not be empty")
	}
	if cfg.LocalStoreQuotaBytes < 0 {
		return nil, fmt.Errorf("ADDRESS_LOCAL_STORE_QUOTA_BYTES must not be negative, got %d", cfg.LocalStoreQuotaBytes)
	}
	if cfg.TierBreakerFailureRatio <= 0 || cfg.TierBreakerFailureRatio > 1.0 {
		return nil, fmt.Errorf("ADDRESS_TIER_BREAKER_FAILURE_RATIO must be in (0, 1], got %f", cfg.TierBreakerFailureRatio)
	}
	if cfg.RateLimitRPS <= 0 || cfg.RateLimitBurst < 1 {
		return nil, fmt.Errorf("rate limit must be positive, got %f rps burst %d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if cfg.OTELSampleRate < 0 || cfg.OTELSampleRate > 1.0 {
		return nil, fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", cfg.OTELSampleRate)
	}

	// In non-development environments, require an explicitly set, strong JWT secret.
	if cfg.Environment != "development" {
		if cfg.JWTSecret == defaultJWTSecret {
			return nil, fmt.Errorf("JWT_SECRET must be explicitly set via environment variable in %q mode", cfg.Environment)
		}
		if len(cfg.JWTSecret) < 32 {
			return nil, fmt.Errorf("JWT_SECRET must be at least 32 characters long, got %d", len(cfg.JWTSecret))
		}
	}

	return cfg, nil
}

// PostgresDSN returns the primary tier connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}
