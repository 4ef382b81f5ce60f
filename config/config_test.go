package config

import (
	"testing"
)

func TestParseTokenSet(t *testing.T) {
	set := parseTokenSet("alpha, beta ,,gamma")
	if len(set) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(set))
	}
	for _, tok := range []string{"alpha", "beta", "gamma"} {
		if _, ok := set[tok]; !ok {
			t.Errorf("expected token %q in set", tok)
		}
	}
}

func TestLoadClampsMaxRetries(t *testing.T) {
	t.Setenv("APP_CONFIG_MAX_RETRIES", "0")
	cfg := Load()
	if cfg.MaxRetries != 1 {
		t.Fatalf("expected max retries clamped to 1, got %d", cfg.MaxRetries)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.UpstreamChatURL == "" || cfg.UpstreamModelsURL == "" {
		t.Fatalf("expected default upstream URLs, got %+v", cfg)
	}
	if cfg.MaxActiveKeysLimit != 100 {
		t.Fatalf("expected default active key limit 100, got %d", cfg.MaxActiveKeysLimit)
	}
	if cfg.UsageWindowSeconds != 86400 {
		t.Fatalf("expected default usage window 86400s, got %d", cfg.UsageWindowSeconds)
	}
}
