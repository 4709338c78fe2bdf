package config

import (
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.GRPCAddr != ":8080" || cfg.HTTPAddr != ":8081" {
		t.Errorf("addrs = %q, %q; want :8080, :8081", cfg.GRPCAddr, cfg.HTTPAddr)
	}
	if cfg.JWTIssuer != "almaroof-auth" || cfg.JWTAudience != "almaroof-portal" {
		t.Errorf("issuer/audience = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.DebugMode {
		t.Error("DebugMode should default to false")
	}
	if cfg.MaxRefreshAttempts != 3 || cfg.SuspiciousActivityThreshold != 5 {
		t.Errorf("refresh limits = %d/%d", cfg.MaxRefreshAttempts, cfg.SuspiciousActivityThreshold)
	}
	if cfg.SecurityLogCapacity != 1000 || cfg.SecurityFailureThreshold != 10 ||
		cfg.SecurityContextThreshold != 3 || cfg.SecurityRateLimitThreshold != 5 {
		t.Errorf("security logger defaults = %+v", cfg)
	}
	if cfg.MaxPaymentAttempts != 3 || cfg.MaxPaymentRetries != 2 {
		t.Errorf("payment limits = %d/%d", cfg.MaxPaymentAttempts, cfg.MaxPaymentRetries)
	}
	if cfg.PaystackBaseURL != "https://api.paystack.co" {
		t.Errorf("PaystackBaseURL = %q", cfg.PaystackBaseURL)
	}
	if cfg.TelemetryKafkaTopic != "almaroof-security-events" || cfg.KafkaGroupID != "almaroof-security-worker" {
		t.Errorf("kafka = %q/%q", cfg.TelemetryKafkaTopic, cfg.KafkaGroupID)
	}

	durations := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"AccessTTL", cfg.AccessTTL(), time.Hour},
		{"RefreshBuffer", cfg.RefreshBufferDuration(), 15 * time.Minute},
		{"RefreshCooldown", cfg.RefreshCooldownDuration(), 5 * time.Second},
		{"RefreshTimeout", cfg.RefreshTimeout(), 10 * time.Second},
		{"SessionIdleTTL", cfg.SessionIdleTTLDuration(), 30 * time.Minute},
		{"SecurityWindow", cfg.SecurityWindowDuration(), 5 * time.Minute},
		{"SecurityEventRetention", cfg.SecurityEventRetentionDuration(), 720 * time.Hour},
		{"IdempotencyTTL", cfg.IdempotencyTTL(), 30 * time.Second},
		{"PaymentRetryDelay", cfg.PaymentRetryDelayDuration(), time.Second},
		{"PaymentTimeout", cfg.PaymentTimeout(), 15 * time.Second},
		{"PermitPaymentWindow", cfg.PermitPaymentWindowDuration(), 72 * time.Hour},
	}
	for _, d := range durations {
		if d.got != d.want {
			t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
		}
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":9090")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("REFRESH_COOLDOWN", "2s")
	os.Setenv("MAX_PAYMENT_RETRIES", "4")
	os.Setenv("DEBUG_MODE", "true")
	os.Setenv("VALKEY_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":9090")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.RefreshCooldownDuration() != 2*time.Second {
		t.Errorf("RefreshCooldown = %v, want 2s", cfg.RefreshCooldownDuration())
	}
	if cfg.MaxPaymentRetries != 4 {
		t.Errorf("MaxPaymentRetries = %d, want 4", cfg.MaxPaymentRetries)
	}
	if !cfg.DebugMode {
		t.Error("DebugMode should be true")
	}
	if cfg.ValkeyAddr != "localhost:6379" {
		t.Errorf("ValkeyAddr = %q", cfg.ValkeyAddr)
	}
}

func TestLoad_DebugModeProduction(t *testing.T) {
	os.Clearenv()
	os.Setenv("DEBUG_MODE", "true")
	os.Setenv("APP_ENV", "production")

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load should return error when DEBUG_MODE=true and APP_ENV=production")
	}
	if cfg != nil {
		t.Error("Load should return nil config on error")
	}
	if err.Error() != "config: DEBUG_MODE must not be true when APP_ENV=production" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestLoad_DebugModeDevelopment(t *testing.T) {
	os.Clearenv()
	os.Setenv("DEBUG_MODE", "true")
	os.Setenv("APP_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DebugMode {
		t.Error("DebugMode should be true")
	}
}

func TestLoad_LimitValidation(t *testing.T) {
	testCases := []struct {
		name  string
		key   string
		value string
		err   bool
	}{
		{"refresh attempts zero", "MAX_REFRESH_ATTEMPTS", "0", true},
		{"refresh attempts one", "MAX_REFRESH_ATTEMPTS", "1", false},
		{"payment attempts zero", "MAX_PAYMENT_ATTEMPTS", "0", true},
		{"payment retries negative", "MAX_PAYMENT_RETRIES", "-1", true},
		{"payment retries zero", "MAX_PAYMENT_RETRIES", "0", false},
		{"payment retries too high", "MAX_PAYMENT_RETRIES", "11", true},
		{"log capacity zero", "SECURITY_LOG_CAPACITY", "0", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv(tc.key, tc.value)

			_, err := Load()
			if tc.err && err == nil {
				t.Fatal("Load should return error")
			}
			if !tc.err && err != nil {
				t.Fatalf("Load: %v", err)
			}
		})
	}
}

func TestDurations_InvalidFallBack(t *testing.T) {
	for _, value := range []string{"invalid", "0", "-5m"} {
		os.Clearenv()
		os.Setenv("REFRESH_BUFFER", value)
		os.Setenv("IDEMPOTENCY_TTL", value)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.RefreshBufferDuration() != 15*time.Minute {
			t.Errorf("%q: RefreshBuffer = %v, want default", value, cfg.RefreshBufferDuration())
		}
		if cfg.IdempotencyTTL() != 30*time.Second {
			t.Errorf("%q: IdempotencyTTL = %v, want default", value, cfg.IdempotencyTTL())
		}
	}
}

func TestLists(t *testing.T) {
	cfg := &Config{
		TelemetryKafkaBrokers: " kafka-1:9092, ,kafka-2:9092 ",
		CORSAllowedOrigins:    "https://portal.almaroof.ng,http://localhost:3000",
	}
	if got, want := cfg.TelemetryKafkaBrokersList(), []string{"kafka-1:9092", "kafka-2:9092"}; !reflect.DeepEqual(got, want) {
		t.Errorf("brokers = %v, want %v", got, want)
	}
	if got := cfg.CORSOrigins(); len(got) != 2 || got[0] != "https://portal.almaroof.ng" {
		t.Errorf("origins = %v", got)
	}
	var nilCfg *Config
	if nilCfg.TelemetryKafkaBrokersList() != nil || nilCfg.CORSOrigins() != nil {
		t.Error("nil config should yield nil lists")
	}
	if (&Config{}).TelemetryKafkaBrokersList() != nil {
		t.Error("empty brokers should yield nil")
	}
}
