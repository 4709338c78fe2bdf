// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8081).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN; empty runs the permit store in memory and disables event persistence.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DebugMode echoes security events to the local log instead of forwarding them and mounts diagnostics routes.
	// Must not be true when Env is production.
	DebugMode bool `mapstructure:"DEBUG_MODE"`

	// JWTPrivateKey is the PEM-encoded private key or path to file; only needed when this service issues access tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file used to verify bearer tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the lifetime of locally issued access tokens (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// Token refresh.
	RefreshBuffer               string `mapstructure:"REFRESH_BUFFER"`
	RefreshCooldown             string `mapstructure:"REFRESH_COOLDOWN"`
	MaxRefreshAttempts          int    `mapstructure:"MAX_REFRESH_ATTEMPTS"`
	SuspiciousActivityThreshold int    `mapstructure:"SUSPICIOUS_ACTIVITY_THRESHOLD"`
	RefreshTimeoutValue         string `mapstructure:"REFRESH_TIMEOUT"`
	// RefreshURL is the upstream refresh endpoint. Empty re-issues tokens locally with JWT_PRIVATE_KEY.
	RefreshURL     string `mapstructure:"REFRESH_URL"`
	SessionIdleTTL string `mapstructure:"SESSION_IDLE_TTL"`

	// Security event logger.
	SecurityLogCapacity        int    `mapstructure:"SECURITY_LOG_CAPACITY"`
	SecurityWindow             string `mapstructure:"SECURITY_WINDOW"`
	SecurityFailureThreshold   int    `mapstructure:"SECURITY_FAILURE_THRESHOLD"`
	SecurityContextThreshold   int    `mapstructure:"SECURITY_CONTEXT_THRESHOLD"`
	SecurityRateLimitThreshold int    `mapstructure:"SECURITY_RATE_LIMIT_THRESHOLD"`
	// SecurityPolicyFile is an optional Rego file replacing the built-in pattern policy.
	SecurityPolicyFile string `mapstructure:"SECURITY_POLICY_FILE"`
	// SecurityEventRetention bounds how long persisted security events are kept (e.g. "720h").
	SecurityEventRetention string `mapstructure:"SECURITY_EVENT_RETENTION"`

	// Permit submission and payment.
	IdempotencyTTLValue string `mapstructure:"IDEMPOTENCY_TTL"`
	MaxPaymentAttempts  int    `mapstructure:"MAX_PAYMENT_ATTEMPTS"`
	MaxPaymentRetries   int    `mapstructure:"MAX_PAYMENT_RETRIES"`
	PaymentRetryDelay   string `mapstructure:"PAYMENT_RETRY_DELAY"`
	PaymentTimeoutValue string `mapstructure:"PAYMENT_TIMEOUT"`
	PermitPaymentWindow string `mapstructure:"PERMIT_PAYMENT_WINDOW"`
	PaystackBaseURL     string `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey   string `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackCallbackURL string `mapstructure:"PAYSTACK_CALLBACK_URL"`
	// ValkeyAddr, when set, moves the idempotency key set to Valkey.
	ValkeyAddr string `mapstructure:"VALKEY_ADDR"`

	// Telemetry (optional). When Kafka brokers are set, security events are forwarded to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// TelemetryKafkaTopic is the Kafka topic for security events.
	TelemetryKafkaTopic string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`
	// OTLPEndpoint enables OTLP export of logs, metrics and traces when set.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// CORSAllowedOrigins is a comma-separated list of browser origins allowed to call the API.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	// Worker-only: Loki URL for the event worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8081")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DEBUG_MODE", false)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "almaroof-auth")
	v.SetDefault("JWT_AUDIENCE", "almaroof-portal")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("REFRESH_BUFFER", "15m")
	v.SetDefault("REFRESH_COOLDOWN", "5s")
	v.SetDefault("MAX_REFRESH_ATTEMPTS", 3)
	v.SetDefault("SUSPICIOUS_ACTIVITY_THRESHOLD", 5)
	v.SetDefault("REFRESH_TIMEOUT", "10s")
	v.SetDefault("REFRESH_URL", "")
	v.SetDefault("SESSION_IDLE_TTL", "30m")
	v.SetDefault("SECURITY_LOG_CAPACITY", 1000)
	v.SetDefault("SECURITY_WINDOW", "5m")
	v.SetDefault("SECURITY_FAILURE_THRESHOLD", 10)
	v.SetDefault("SECURITY_CONTEXT_THRESHOLD", 3)
	v.SetDefault("SECURITY_RATE_LIMIT_THRESHOLD", 5)
	v.SetDefault("SECURITY_POLICY_FILE", "")
	v.SetDefault("SECURITY_EVENT_RETENTION", "720h")
	v.SetDefault("IDEMPOTENCY_TTL", "30s")
	v.SetDefault("MAX_PAYMENT_ATTEMPTS", 3)
	v.SetDefault("MAX_PAYMENT_RETRIES", 2)
	v.SetDefault("PAYMENT_RETRY_DELAY", "1s")
	v.SetDefault("PAYMENT_TIMEOUT", "15s")
	v.SetDefault("PERMIT_PAYMENT_WINDOW", "72h")
	v.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	v.SetDefault("PAYSTACK_SECRET_KEY", "")
	v.SetDefault("PAYSTACK_CALLBACK_URL", "")
	v.SetDefault("VALKEY_ADDR", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "almaroof-security-events")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "almaroof-security-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.DebugMode && cfg.Env == "production" {
		return nil, errors.New("config: DEBUG_MODE must not be true when APP_ENV=production")
	}
	if cfg.MaxRefreshAttempts < 1 {
		return nil, errors.New("config: MAX_REFRESH_ATTEMPTS must be at least 1")
	}
	if cfg.MaxPaymentAttempts < 1 {
		return nil, errors.New("config: MAX_PAYMENT_ATTEMPTS must be at least 1")
	}
	if cfg.MaxPaymentRetries < 0 || cfg.MaxPaymentRetries > 10 {
		return nil, errors.New("config: MAX_PAYMENT_RETRIES must be between 0 and 10")
	}
	if cfg.SecurityLogCapacity < 1 {
		return nil, errors.New("config: SECURITY_LOG_CAPACITY must be at least 1")
	}

	return &cfg, nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL parses JWTAccessTTL. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration { return parseDuration(c.JWTAccessTTL, time.Hour) }

// RefreshBufferDuration parses RefreshBuffer. Returns 15m if unset or invalid.
func (c *Config) RefreshBufferDuration() time.Duration {
	return parseDuration(c.RefreshBuffer, 15*time.Minute)
}

// RefreshCooldownDuration parses RefreshCooldown. Returns 5s if unset or invalid.
func (c *Config) RefreshCooldownDuration() time.Duration {
	return parseDuration(c.RefreshCooldown, 5*time.Second)
}

// RefreshTimeout parses RefreshTimeoutValue. Returns 10s if unset or invalid.
func (c *Config) RefreshTimeout() time.Duration {
	return parseDuration(c.RefreshTimeoutValue, 10*time.Second)
}

// SessionIdleTTLDuration parses SessionIdleTTL. Returns 30m if unset or invalid.
func (c *Config) SessionIdleTTLDuration() time.Duration {
	return parseDuration(c.SessionIdleTTL, 30*time.Minute)
}

// SecurityWindowDuration parses SecurityWindow. Returns 5m if unset or invalid.
func (c *Config) SecurityWindowDuration() time.Duration {
	return parseDuration(c.SecurityWindow, 5*time.Minute)
}

// SecurityEventRetentionDuration parses SecurityEventRetention. Returns 720h if unset or invalid.
func (c *Config) SecurityEventRetentionDuration() time.Duration {
	return parseDuration(c.SecurityEventRetention, 720*time.Hour)
}

// IdempotencyTTL parses IdempotencyTTLValue. Returns 30s if unset or invalid.
func (c *Config) IdempotencyTTL() time.Duration {
	return parseDuration(c.IdempotencyTTLValue, 30*time.Second)
}

// PaymentRetryDelayDuration parses PaymentRetryDelay. Returns 1s if unset or invalid.
func (c *Config) PaymentRetryDelayDuration() time.Duration {
	return parseDuration(c.PaymentRetryDelay, time.Second)
}

// PaymentTimeout parses PaymentTimeoutValue. Returns 15s if unset or invalid.
func (c *Config) PaymentTimeout() time.Duration {
	return parseDuration(c.PaymentTimeoutValue, 15*time.Second)
}

// PermitPaymentWindowDuration parses PermitPaymentWindow. Returns 72h if unset or invalid.
func (c *Config) PermitPaymentWindowDuration() time.Duration {
	return parseDuration(c.PermitPaymentWindow, 72*time.Hour)
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if forwarding is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

// CORSOrigins returns the allowed CORS origins.
func (c *Config) CORSOrigins() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSAllowedOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
