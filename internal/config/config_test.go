package config

import (
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default configuration should validate: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing listen", func(c *Config) { c.Listen = "" }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrent = 0 }},
		{"excessive concurrency", func(c *Config) { c.MaxConcurrent = 101 }},
		{"sub-second timeout", func(c *Config) { c.DefaultTimeout = 500 * time.Millisecond }},
		{"zero challenge retries", func(c *Config) { c.Challenge.MaxRetries = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestChallengeConfig_Conversion(t *testing.T) {
	cfg := Default()
	cfg.Challenge.MaxRetries = 5
	cfg.Challenge.ClickDelay = 3 * time.Second

	cc := cfg.ChallengeConfig()
	if cc.MaxRetries != 5 || cc.ClickDelay != 3*time.Second {
		t.Errorf("conversion lost values: %+v", cc)
	}
	if !cc.Enabled {
		t.Error("challenge handling should default to enabled")
	}
}

func TestPoolOptions_Conversion(t *testing.T) {
	cfg := Default()
	cfg.MaxConcurrent = 7
	cfg.BrowserPath = "/usr/bin/chromium"

	opts := cfg.PoolOptions()
	if opts.MaxConcurrent != 7 || opts.BrowserPath != "/usr/bin/chromium" || !opts.Headless {
		t.Errorf("conversion lost values: %+v", opts)
	}
}
