package hyperspace

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := Config{Masters: []string{"m1", " m2:9000 "}, Insecure: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.LeaseInterval != DefaultLeaseInterval || cfg.GracePeriod != DefaultGracePeriod {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RequestTimeout != DefaultRequestTimeout || cfg.FailoverCooldown != DefaultFailoverCooldown {
		t.Fatalf("timeouts not defaulted: %+v", cfg)
	}
	if cfg.Masters[0] != "http://m1:7373" || cfg.Masters[1] != "http://m2:9000" {
		t.Fatalf("masters not normalized: %v", cfg.Masters)
	}
	if cfg.ClientID == "" || !strings.Contains(cfg.ClientID, "-") {
		t.Fatalf("expected generated client id, got %q", cfg.ClientID)
	}
	if got := cfg.EffectiveKeepaliveInterval(); got != DefaultLeaseInterval/3 {
		t.Fatalf("unexpected keepalive interval %s", got)
	}
}

func TestConfigValidateRejects(t *testing.T) {
	cases := map[string]Config{
		"no masters":        {},
		"negative lease":    {Masters: []string{"m"}, LeaseInterval: -time.Second},
		"negative grace":    {Masters: []string{"m"}, GracePeriod: -time.Second},
		"keepalive too big": {Masters: []string{"m"}, LeaseInterval: 5 * time.Second, KeepaliveInterval: 5 * time.Second},
		"negative timeout":  {Masters: []string{"m"}, RequestTimeout: -time.Second},
	}
	for name, cfg := range cases {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

func TestConfigKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Masters:           []string{"https://m1:443"},
		ClientID:          "worker-7",
		LeaseInterval:     9 * time.Second,
		KeepaliveInterval: 2 * time.Second,
		GracePeriod:       time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ClientID != "worker-7" || cfg.EffectiveKeepaliveInterval() != 2*time.Second {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}
