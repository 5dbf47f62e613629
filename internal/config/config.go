// Package config holds the service configuration and its validation.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/pagecourier/pagecourier/internal/loader"
	"github.com/pagecourier/pagecourier/internal/pool"
)

// Challenge tunes interactive challenge handling.
type Challenge struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"min=1,max=20"`
	ClickDelay    time.Duration `mapstructure:"click_delay" validate:"min=0"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"min=0"`
	CheckInterval time.Duration `mapstructure:"check_interval" validate:"min=0"`
	DetectTimeout time.Duration `mapstructure:"detect_timeout" validate:"min=0"`
}

// Config is the full service configuration, populated from flags, env
// vars (PAGECOURIER_*) and an optional config file via viper.
type Config struct {
	Listen         string        `mapstructure:"listen" validate:"required"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" validate:"min=1,max=100"`
	Headless       bool          `mapstructure:"headless"`
	BrowserPath    string        `mapstructure:"browser_path"`
	UserAgent      string        `mapstructure:"user_agent"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout" validate:"min=1s"`

	Challenge Challenge `mapstructure:"challenge"`

	Debug bool `mapstructure:"debug"`
	Quiet bool `mapstructure:"quiet"`
	JSON  bool `mapstructure:"json_logs"`
}

// Default returns the configuration the service runs with when nothing
// is overridden.
func Default() Config {
	c := loader.DefaultChallengeConfig()
	return Config{
		Listen:         ":8080",
		MaxConcurrent:  pool.DefaultMaxConcurrent,
		Headless:       true,
		DefaultTimeout: 30 * time.Second,
		Challenge: Challenge{
			Enabled:       c.Enabled,
			MaxRetries:    c.MaxRetries,
			ClickDelay:    c.ClickDelay,
			Timeout:       c.Timeout,
			CheckInterval: c.CheckInterval,
			DetectTimeout: c.DetectTimeout,
		},
	}
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ChallengeConfig converts the challenge section into the loader's
// runtime form.
func (c Config) ChallengeConfig() loader.ChallengeConfig {
	return loader.ChallengeConfig{
		Enabled:       c.Challenge.Enabled,
		MaxRetries:    c.Challenge.MaxRetries,
		ClickDelay:    c.Challenge.ClickDelay,
		Timeout:       c.Challenge.Timeout,
		CheckInterval: c.Challenge.CheckInterval,
		DetectTimeout: c.Challenge.DetectTimeout,
	}
}

// PoolOptions converts the configuration into pool options.
func (c Config) PoolOptions() pool.Options {
	return pool.Options{
		MaxConcurrent: c.MaxConcurrent,
		Headless:      c.Headless,
		BrowserPath:   c.BrowserPath,
		UserAgent:     c.UserAgent,
	}
}
