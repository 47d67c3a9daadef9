package config

import (
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("API_KEY", "key")
	t.Setenv("API_SECRET", "secret")
	t.Setenv("SUPPORTED_COINS", "eth, btc,ada")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.BridgeAsset != "USDT" {
		t.Errorf("expected bridge USDT, got %q", cfg.BridgeAsset)
	}
	if cfg.Strategy != "momentum" {
		t.Errorf("expected default strategy momentum, got %q", cfg.Strategy)
	}
	if cfg.ScoutInterval != 5*time.Second {
		t.Errorf("expected 5s scout interval, got %v", cfg.ScoutInterval)
	}
	if cfg.TieBreak != TieBreakFirst {
		t.Errorf("expected first tie-break, got %q", cfg.TieBreak)
	}
}

func TestLoadNormalizesCoinList(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"ADA", "BTC", "ETH"}
	if len(cfg.SupportedCoins) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.SupportedCoins)
	}
	for i, coin := range want {
		if cfg.SupportedCoins[i] != coin {
			t.Errorf("index %d: expected %q, got %q", i, coin, cfg.SupportedCoins[i])
		}
	}
}

func TestLoadBareNumberDurationsAreSeconds(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SCOUT_INTERVAL", "30")
	t.Setenv("LOOKBACK_WINDOW", "10m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ScoutInterval != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.ScoutInterval)
	}
	if cfg.LookbackWindow != 10*time.Minute {
		t.Errorf("expected 10m, got %v", cfg.LookbackWindow)
	}
}

func TestLoadValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing credentials", map[string]string{"API_KEY": ""}},
		{"empty coin list", map[string]string{"SUPPORTED_COINS": " , "}},
		{"initial coin not supported", map[string]string{"INITIAL_COIN": "DOGE"}},
		{"non-positive threshold", map[string]string{"MOMENTUM_THRESHOLD": "-1"}},
		{"non-positive notional", map[string]string{"BUY_NOTIONAL": "0"}},
		{"unknown tie-break", map[string]string{"TIE_BREAK": "random"}},
		{"oversized monitor timeout", map[string]string{"MONITOR_TIMEOUT": "10m"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestSymbol(t *testing.T) {
	cfg := &Config{BridgeAsset: "USDT"}
	if got := cfg.Symbol("ETH"); got != "ETHUSDT" {
		t.Errorf("expected ETHUSDT, got %q", got)
	}
}
