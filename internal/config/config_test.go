package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "UPSTREAM_BASE_URL", "GATEWAY_BASE_URL", "CLINIC_TIMEZONE", "WORKFLOW_IDLE_TTL", "CORS_ALLOWED_ORIGINS", "BOOKING_MAX_ATTEMPTS"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.GatewayBaseURL != cfg.UpstreamBaseURL {
		t.Fatalf("expected gateway to default to upstream, got %s", cfg.GatewayBaseURL)
	}
	if cfg.WorkflowIdleTTL != 30*time.Minute {
		t.Fatalf("expected default idle ttl, got %s", cfg.WorkflowIdleTTL)
	}
	if cfg.BookingMaxAttempts != 5 {
		t.Fatalf("expected default attempts, got %d", cfg.BookingMaxAttempts)
	}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %s", cfg.Location())
	}
	if len(cfg.CORSAllowedOrigins) != 1 {
		t.Fatalf("expected default cors origin, got %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("UPSTREAM_BASE_URL", "https://api.clinic.example")
	t.Setenv("GATEWAY_BASE_URL", "https://pay.clinic.example")
	t.Setenv("UPSTREAM_TIMEOUT", "3s")
	t.Setenv("CLINIC_TIMEZONE", "Asia/Kolkata")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("BOOKING_MAX_ATTEMPTS", "2")
	t.Setenv("BOOKING_ATTEMPT_WINDOW", "1h")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,,")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("EVENTS_QUEUE_URL", "https://sqs.local/events")
	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("unexpected overrides: %+v", cfg)
	}
	if cfg.GatewayBaseURL != "https://pay.clinic.example" {
		t.Fatalf("expected gateway override, got %s", cfg.GatewayBaseURL)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Fatalf("expected timeout override, got %s", cfg.UpstreamTimeout)
	}
	if cfg.Location().String() != "Asia/Kolkata" {
		t.Fatalf("expected clinic location, got %s", cfg.Location())
	}
	if !cfg.RedisTLS || cfg.BookingMaxAttempts != 2 || cfg.BookingAttemptWindow != time.Hour {
		t.Fatalf("unexpected limiter settings: %+v", cfg)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.RateLimitRPS)
	}
	if cfg.EventsQueueURL != "https://sqs.local/events" {
		t.Fatalf("expected queue override, got %s", cfg.EventsQueueURL)
	}
}

func TestLocationFallsBackOnUnknownZone(t *testing.T) {
	cfg := &Config{ClinicTimezone: "Mars/Olympus"}
	if cfg.Location() != time.UTC {
		t.Fatalf("expected UTC fallback, got %s", cfg.Location())
	}
}
