package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.InitialRate != 3_000_000 {
		t.Errorf("InitialRate = %d, want 3000000", cfg.InitialRate)
	}
	if cfg.BuyFeeBps != 50 || cfg.SellFeeBps != 50 {
		t.Errorf("fees = %d/%d, want 50/50", cfg.BuyFeeBps, cfg.SellFeeBps)
	}
	if cfg.MinUpdateInterval != time.Hour {
		t.Errorf("MinUpdateInterval = %v, want 1h", cfg.MinUpdateInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BUY_FEE_BPS", "125")
	t.Setenv("MAX_DEVIATION_BPS", "500")
	t.Setenv("MIN_UPDATE_INTERVAL", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BuyFeeBps != 125 {
		t.Errorf("BuyFeeBps = %d, want 125", cfg.BuyFeeBps)
	}
	if cfg.MaxDeviationBps != 500 {
		t.Errorf("MaxDeviationBps = %d, want 500", cfg.MaxDeviationBps)
	}
	if cfg.MinUpdateInterval != 10*time.Minute {
		t.Errorf("MinUpdateInterval = %v, want 10m", cfg.MinUpdateInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"zero rate", "INITIAL_RATE", "0"},
		{"fee over cap", "SELL_FEE_BPS", "501"},
		{"deviation over ceiling", "MAX_DEVIATION_BPS", "3001"},
		{"zero window", "FEED_WINDOW_SIZE", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.val)
			}
		})
	}
}
