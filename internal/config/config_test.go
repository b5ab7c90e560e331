package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.AvailabilityWindowDays != 14 {
		t.Errorf("expected 14 day availability window, got %d", cfg.AvailabilityWindowDays)
	}
	if cfg.CompensationMaxAttempts != 3 {
		t.Errorf("expected 3 compensation attempts, got %d", cfg.CompensationMaxAttempts)
	}
	if cfg.CheckoutHoldTTL != 15*time.Minute {
		t.Errorf("expected 15m hold TTL, got %s", cfg.CheckoutHoldTTL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("COMPENSATION_MAX_ATTEMPTS", "5")
	t.Setenv("COMPENSATION_BASE_DELAY", "250ms")
	t.Setenv("PENDING_TRANSACTION_TTL", "30m")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.CompensationMaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.CompensationMaxAttempts)
	}
	if cfg.CompensationBaseDelay != 250*time.Millisecond {
		t.Errorf("expected 250ms base delay, got %s", cfg.CompensationBaseDelay)
	}
	if cfg.PendingTransactionTTL != 30*time.Minute {
		t.Errorf("expected 30m pending TTL, got %s", cfg.PendingTransactionTTL)
	}
}

func TestInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("COMPENSATION_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("OUTBOX_POLL_INTERVAL", "soon")

	cfg := Load()

	if cfg.CompensationMaxAttempts != 3 {
		t.Errorf("expected fallback to 3 attempts, got %d", cfg.CompensationMaxAttempts)
	}
	if cfg.OutboxPollInterval != 5*time.Second {
		t.Errorf("expected fallback 5s poll interval, got %s", cfg.OutboxPollInterval)
	}
}
