// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// DatabaseURL is the Postgres DSN for the durable session tier; empty disables durable backup.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port for the fast session tier and the rate limiter counter store.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisUsername is the optional Redis ACL username.
	RedisUsername string `mapstructure:"REDIS_USERNAME"`
	// RedisPassword is the optional Redis password.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`

	// SessionEncKey is the 64-hex-char (32 byte) key sealing session blobs at rest. Required.
	SessionEncKey string `mapstructure:"SESSION_ENC_KEY"`
	// SessionTTL is the fast-tier session lifetime (e.g. "720h").
	SessionTTL string `mapstructure:"SESSION_TTL"`

	// PoolMaxSize caps concurrent native handles.
	PoolMaxSize int `mapstructure:"POOL_MAX_SIZE"`
	// PoolMaxIdle is how long an unused handle may sit pooled (e.g. "30m").
	PoolMaxIdle string `mapstructure:"POOL_MAX_IDLE"`
	// PoolSweepInterval is the period between pool health sweeps (e.g. "60s").
	PoolSweepInterval string `mapstructure:"POOL_SWEEP_INTERVAL"`

	// RatePerSecond is the per-handle token refill rate.
	RatePerSecond float64 `mapstructure:"RATE_PER_SECOND"`
	// RateBurst is the per-handle bucket capacity.
	RateBurst float64 `mapstructure:"RATE_BURST"`

	// BreakerFailureThreshold is consecutive failures before the breaker opens.
	BreakerFailureThreshold int `mapstructure:"BREAKER_FAILURE_THRESHOLD"`
	// BreakerResetTimeout is how long the breaker stays open before probing (e.g. "60s").
	BreakerResetTimeout string `mapstructure:"BREAKER_RESET_TIMEOUT"`
	// BreakerSuccessThreshold is consecutive half-open successes before closing.
	BreakerSuccessThreshold int `mapstructure:"BREAKER_SUCCESS_THRESHOLD"`

	// PollInterval is the update polling period (e.g. "100ms").
	PollInterval string `mapstructure:"POLL_INTERVAL"`
	// PollReceiveTimeout bounds each native receive call (e.g. "1s").
	PollReceiveTimeout string `mapstructure:"POLL_RECEIVE_TIMEOUT"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// Telemetry (optional). When Kafka brokers are set, lifecycle events are emitted to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsTopic is the Kafka topic for gateway lifecycle events (default tdgw-events).
	EventsTopic string `mapstructure:"GATEWAY_EVENTS_TOPIC"`
	// OTLPEndpoint is the OTLP gRPC collector address; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_USERNAME", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("SESSION_ENC_KEY", "")
	v.SetDefault("SESSION_TTL", "720h") // 30d
	v.SetDefault("POOL_MAX_SIZE", 50)
	v.SetDefault("POOL_MAX_IDLE", "30m")
	v.SetDefault("POOL_SWEEP_INTERVAL", "60s")
	v.SetDefault("RATE_PER_SECOND", 30.0)
	v.SetDefault("RATE_BURST", 30.0)
	v.SetDefault("BREAKER_FAILURE_THRESHOLD", 5)
	v.SetDefault("BREAKER_RESET_TIMEOUT", "60s")
	v.SetDefault("BREAKER_SUCCESS_THRESHOLD", 3)
	v.SetDefault("POLL_INTERVAL", "100ms")
	v.SetDefault("POLL_RECEIVE_TIMEOUT", "1s")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("GATEWAY_EVENTS_TOPIC", "tdgw-events")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.SessionEncKey == "" {
		return nil, errors.New("config: SESSION_ENC_KEY must be set")
	}
	if _, err := cfg.SessionKey(); err != nil {
		return nil, err
	}
	if cfg.PoolMaxSize < 1 {
		return nil, errors.New("config: POOL_MAX_SIZE must be at least 1")
	}
	if cfg.RatePerSecond <= 0 || cfg.RateBurst <= 0 {
		return nil, errors.New("config: RATE_PER_SECOND and RATE_BURST must be positive")
	}
	if cfg.BreakerFailureThreshold < 1 || cfg.BreakerSuccessThreshold < 1 {
		return nil, errors.New("config: breaker thresholds must be at least 1")
	}

	return &cfg, nil
}

// SessionKey decodes SessionEncKey into the 32-byte cache sealing key.
func (c *Config) SessionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.SessionEncKey)
	if err != nil {
		return nil, fmt.Errorf("config: SESSION_ENC_KEY is not valid hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("config: SESSION_ENC_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SessionTTLDuration parses SessionTTL. Returns 720h if unset or invalid.
func (c *Config) SessionTTLDuration() time.Duration {
	return durationOr(c.SessionTTL, 720*time.Hour)
}

// PoolMaxIdleDuration parses PoolMaxIdle. Returns 30m if unset or invalid.
func (c *Config) PoolMaxIdleDuration() time.Duration {
	return durationOr(c.PoolMaxIdle, 30*time.Minute)
}

// PoolSweepIntervalDuration parses PoolSweepInterval. Returns 60s if unset or invalid.
func (c *Config) PoolSweepIntervalDuration() time.Duration {
	return durationOr(c.PoolSweepInterval, time.Minute)
}

// BreakerResetTimeoutDuration parses BreakerResetTimeout. Returns 60s if unset or invalid.
func (c *Config) BreakerResetTimeoutDuration() time.Duration {
	return durationOr(c.BreakerResetTimeout, time.Minute)
}

// PollIntervalDuration parses PollInterval. Returns 100ms if unset or invalid.
func (c *Config) PollIntervalDuration() time.Duration {
	return durationOr(c.PollInterval, 100*time.Millisecond)
}

// PollReceiveTimeoutDuration parses PollReceiveTimeout. Returns 1s if unset or invalid.
func (c *Config) PollReceiveTimeoutDuration() time.Duration {
	return durationOr(c.PollReceiveTimeout, time.Second)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event emission is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
