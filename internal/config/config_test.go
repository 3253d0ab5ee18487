package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AFFILIATE_LOOKBACK_DAYS", "45")
	t.Setenv("AFFILIATE_DEFAULT_COMMISSION_RATE", "12.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.uz, https://b.uz")

	cfg := Load()
	if cfg.AffiliateLookbackDays != 45 {
		t.Fatalf("expected 45, got %d", cfg.AffiliateLookbackDays)
	}
	if !cfg.AffiliateDefaultCommissionRate.Equal(decimal.RequireFromString("12.5")) {
		t.Fatalf("unexpected rate %s", cfg.AffiliateDefaultCommissionRate)
	}
	if cfg.AffiliateClickDedupWindow != time.Minute {
		t.Fatalf("expected 60s dedup window, got %s", cfg.AffiliateClickDedupWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.uz" {
		t.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
	if cfg.TrustProxyHeaders {
		t.Fatal("proxy headers must not be trusted by default")
	}
	if cfg.WithdrawalReservationGrace != 15*time.Minute || cfg.WithdrawalMaxPayoutAttempts != 10 {
		t.Fatalf("unexpected withdrawal defaults %s / %d", cfg.WithdrawalReservationGrace, cfg.WithdrawalMaxPayoutAttempts)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateProductionSecrets(t *testing.T) {
	t.Setenv("ENV", "production")
	cfg := Load()
	cfg.JWTSecret = "super-secret-key-change-me"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected production validation error")
	}
}
