package netguard

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLimits() *RateLimitConfig {
	return &RateLimitConfig{
		Exchanges: map[string]ExchangeLimits{
			"binance": {
				Default: LimitSpec{
					RatePerSec:         10,
					Capacity:           20,
					FailureThreshold:   6,
					RecoverySeconds:    10,
					MaxRecoverySeconds: 60,
				},
				Patterns: []PatternSpec{
					{Path: "/api/v3/order", RatePerSec: 5, Capacity: 5},
					{Path: "/api/v3", RatePerSec: 8, Capacity: 8},
				},
			},
			"deadex": {
				Default:  LimitSpec{RatePerSec: 10, Capacity: 10, FailureThreshold: 5},
				Patterns: []PatternSpec{{Path: "/", RatePerSec: 0, Capacity: 0}},
			},
		},
	}
}

func TestMatchLongestPrefixWins(t *testing.T) {
	c := testLimits()

	tests := []struct {
		path        string
		wantPattern string
		wantRate    float64
	}{
		{"/api/v3/order", "/api/v3/order", 5},
		{"/api/v3/order/test", "/api/v3/order", 5},
		{"/api/v3/openOrders", "/api/v3", 8},
		{"/sapi/v1/capital", "default", 10},
	}
	for _, tt := range tests {
		pattern, rate, _ := c.Match("binance", tt.path)
		if pattern != tt.wantPattern || rate != tt.wantRate {
			t.Fatalf("Match(%s) = (%s, %.0f), want (%s, %.0f)",
				tt.path, pattern, rate, tt.wantPattern, tt.wantRate)
		}
	}
}

func TestMatchUnknownExchangeFallsBack(t *testing.T) {
	c := testLimits()
	pattern, rate, capacity := c.Match("okx", "/api/v5/trade/order")
	if pattern != "default" || rate != 10 || capacity != 10 {
		t.Fatalf("got (%s, %.0f, %.0f), want fallback (default, 10, 10)", pattern, rate, capacity)
	}
}

func TestMatchKillSwitchPattern(t *testing.T) {
	c := testLimits()
	_, rate, capacity := c.Match("deadex", "/v1/order")
	if rate != 0 || capacity != 0 {
		t.Fatalf("kill-switch pattern yielded (%.0f, %.0f), want (0, 0)", rate, capacity)
	}
}

func TestBreakerConfigFromLimits(t *testing.T) {
	c := testLimits()
	cfg := c.Breaker("binance")
	if cfg.FailureThreshold != 6 {
		t.Fatalf("threshold = %d, want 6", cfg.FailureThreshold)
	}
	if cfg.Cooldown != 10*time.Second {
		t.Fatalf("cooldown = %v, want 10s", cfg.Cooldown)
	}
	if cfg.MaxCooldown != 60*time.Second {
		t.Fatalf("max cooldown = %v, want 60s", cfg.MaxCooldown)
	}

	// Unknown exchange gets library defaults.
	def := c.Breaker("okx")
	if def.FailureThreshold != 5 {
		t.Fatalf("fallback threshold = %d, want 5", def.FailureThreshold)
	}
}

func TestLoadRateLimitsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate_limits.yaml")
	yaml := `
exchanges:
  bybit:
    default:
      rate_per_sec: 10
      capacity: 20
      failure_threshold: 5
      recovery_seconds: 30
      max_recovery_seconds: 300
    patterns:
      - path: /v5/order
        rate_per_sec: 5
        capacity: 10
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := LoadRateLimits(path)
	if err != nil {
		t.Fatalf("LoadRateLimits: %v", err)
	}

	pattern, rate, capacity := c.Match("bybit", "/v5/order/create")
	if pattern != "/v5/order" || rate != 5 || capacity != 10 {
		t.Fatalf("got (%s, %.0f, %.0f), want (/v5/order, 5, 10)", pattern, rate, capacity)
	}
}
