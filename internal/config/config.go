// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the device and admin HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// DeviceAPIKey is the shared key agents send on device endpoints. Required in production.
	DeviceAPIKey string `mapstructure:"DEVICE_AGENT_API_KEY"`
	// DeviceAPIHeader is the header carrying DeviceAPIKey. X-Device-Api-Key and X-API-Key are always accepted too.
	DeviceAPIHeader string `mapstructure:"DEVICE_AGENT_API_HEADER"`

	// JWTPublicKey is the PEM public key (or path) used to validate admin tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTPrivateKey is the PEM private key (or path). Only the seed tool signs tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	JWTIssuer     string `mapstructure:"JWT_ISSUER"`
	JWTAudience   string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the admin token lifetime (e.g. "12h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// RedisAddr enables the distributed per-device lock when set; otherwise locks are in-process.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	// DeviceLockTTL bounds how long a Redis device lock is held (e.g. "5s").
	DeviceLockTTL string `mapstructure:"DEVICE_LOCK_TTL"`

	// KafkaBrokers is a comma-separated broker list. Tamper signals are published when set.
	KafkaBrokers     string `mapstructure:"KAFKA_BROKERS"`
	TamperKafkaTopic string `mapstructure:"TAMPER_KAFKA_TOPIC"`

	// OTelEndpoint is the OTLP gRPC collector (e.g. http://localhost:4317). Empty disables export.
	OTelEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// ServerTimezone is the IANA zone used for server_time and payment deadlines, or "Local".
	ServerTimezone string `mapstructure:"SERVER_TIMEZONE"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DEVICE_AGENT_API_KEY", "")
	v.SetDefault("DEVICE_AGENT_API_HEADER", "X-Device-Api-Key")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_ISSUER", "fleet-auth")
	v.SetDefault("JWT_AUDIENCE", "fleet-api")
	v.SetDefault("JWT_ACCESS_TTL", "12h")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEVICE_LOCK_TTL", "5s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TAMPER_KAFKA_TOPIC", "fleet-tamper-signals")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "fleet-control-plane")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SERVER_TIMEZONE", "Local")
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.Env == "production" && cfg.DeviceAPIKey == "" {
		return nil, errors.New("config: DEVICE_AGENT_API_KEY must be set when APP_ENV=production")
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("config: SERVER_TIMEZONE: %w", err)
	}
	if d, err := time.ParseDuration(cfg.DeviceLockTTL); err != nil || d <= 0 {
		return nil, errors.New("config: DEVICE_LOCK_TTL must be a positive duration")
	}

	return &cfg, nil
}

// Location loads ServerTimezone. Empty and "Local" mean the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.ServerTimezone == "" || strings.EqualFold(c.ServerTimezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.ServerTimezone)
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 12h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 12 * time.Hour
	}
	return d
}

// LockTTL parses DeviceLockTTL. Returns 5s if unset or invalid.
func (c *Config) LockTTL() time.Duration {
	d, err := time.ParseDuration(c.DeviceLockTTL)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list disables the Kafka tamper publisher.
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
