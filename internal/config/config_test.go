package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TABLESTACK_AUTH_SECRET", "test-secret")
	t.Setenv("TABLESTACK_PIN_PEPPER", "test-pepper")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.Env != "development" || cfg.Production() {
		t.Fatalf("env = %q", cfg.Env)
	}
	if cfg.TokenTTL != 8*time.Hour {
		t.Fatalf("token ttl = %v", cfg.TokenTTL)
	}
	if cfg.DemoLoginsEnabled {
		t.Fatal("demo logins on by default")
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("TABLESTACK_AUTH_SECRET", "")
	t.Setenv("TABLESTACK_PIN_PEPPER", "p")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "AUTH_SECRET") {
		t.Fatalf("missing auth secret: err = %v", err)
	}

	t.Setenv("TABLESTACK_AUTH_SECRET", "s")
	t.Setenv("TABLESTACK_PIN_PEPPER", "")
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "PIN_PEPPER") {
		t.Fatalf("missing pepper: err = %v", err)
	}
}

func TestLoadRejectsDemoLoginsInProduction(t *testing.T) {
	setRequired(t)
	t.Setenv("TABLESTACK_ENV", "production")
	t.Setenv("TABLESTACK_DEMO_LOGINS", "true")

	if _, err := Load(); err == nil {
		t.Fatal("expected refusal of demo logins in production")
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TABLESTACK_TOKEN_TTL", "30m")
	t.Setenv("TABLESTACK_STORE_TIMEOUT", "2s")
	t.Setenv("TABLESTACK_RATE_RPS", "10.5")
	t.Setenv("TABLESTACK_RATE_BURST", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TokenTTL != 30*time.Minute {
		t.Fatalf("token ttl = %v", cfg.TokenTTL)
	}
	if cfg.StoreTimeout != 2*time.Second {
		t.Fatalf("store timeout = %v", cfg.StoreTimeout)
	}
	if cfg.RateLimitRPS != 10.5 || cfg.RateLimitBurst != 20 {
		t.Fatalf("rate = %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	setRequired(t)
	t.Setenv("TABLESTACK_TOKEN_TTL", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed duration")
	}
}
