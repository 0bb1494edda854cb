package goSession

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Session.MaxInactiveInterval != 1800*time.Second {
		t.Fatalf("expected 1800s default interval, got %v", cfg.Session.MaxInactiveInterval)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "empty prefix invalid",
			mutate:    func(c *Config) { c.Session.RedisPrefix = "  " },
			wantValid: false,
		},
		{
			name:      "glob prefix invalid",
			mutate:    func(c *Config) { c.Session.RedisPrefix = "gs*" },
			wantValid: false,
		},
		{
			name:      "hash tag prefix valid",
			mutate:    func(c *Config) { c.Session.RedisPrefix = "{gs}" },
			wantValid: true,
		},
		{
			name:      "sub-second interval invalid",
			mutate:    func(c *Config) { c.Session.MaxInactiveInterval = 500 * time.Millisecond },
			wantValid: false,
		},
		{
			name:      "never-expiring sessions valid",
			mutate:    func(c *Config) { c.Session.MaxInactiveInterval = 0 },
			wantValid: true,
		},
		{
			name:      "sweep interval above bucket width invalid",
			mutate:    func(c *Config) { c.Expiration.SweepInterval = 2 * time.Minute },
			wantValid: false,
		},
		{
			name: "sweep interval ignored when expiration disabled",
			mutate: func(c *Config) {
				c.Expiration.Enabled = false
				c.Expiration.SweepInterval = 0
			},
			wantValid: true,
		},
		{
			name:      "zero bucket width invalid",
			mutate:    func(c *Config) { c.Expiration.BucketWidth = 0 },
			wantValid: false,
		},
		{
			name:      "negative margin invalid",
			mutate:    func(c *Config) { c.Expiration.SafetyMargin = -time.Second },
			wantValid: false,
		},
		{
			name:      "lock without ttl invalid",
			mutate:    func(c *Config) { c.Expiration.SweepLockTTL = 0 },
			wantValid: false,
		},
		{
			name:      "negative database invalid",
			mutate:    func(c *Config) { c.Keyspace.Database = -1 },
			wantValid: false,
		},
		{
			name:      "negative max pending invalid",
			mutate:    func(c *Config) { c.Events.MaxPending = -1 },
			wantValid: false,
		},
		{
			name:      "histograms without metrics invalid",
			mutate:    func(c *Config) { c.Metrics.EnableLatencyHistograms = true },
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid {
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Fatalf("expected ErrInvalidConfig, got %v", err)
				}
			}
		})
	}
}
