package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pagecourier/pagecourier/internal/api"
	"github.com/pagecourier/pagecourier/internal/config"
	"github.com/pagecourier/pagecourier/internal/cookies"
	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/fetcher"
	"github.com/pagecourier/pagecourier/internal/loader"
	"github.com/pagecourier/pagecourier/internal/logger"
	"github.com/pagecourier/pagecourier/internal/pool"
	"github.com/pagecourier/pagecourier/internal/version"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fetch service",
	Long: `Start the HTTP server and the browser pool behind it.

Examples:
  # Defaults: listen on :8080, up to 5 concurrent pages
  pagecourier serve

  # Custom listen address and a specific browser binary
  pagecourier serve --listen :9090 --browser-path /usr/bin/chromium`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()

	// Server settings
	flags.StringP("listen", "l", ":8080", "listen address")
	flags.IntP("max-concurrent", "c", pool.DefaultMaxConcurrent, "max concurrently open pages across all sessions")
	flags.Duration("default-timeout", 30*time.Second, "default per-fetch timeout")

	// Browser settings
	flags.Bool("headless", true, "run browsers headless")
	flags.String("browser-path", "", "browser binary (auto-detected when empty)")
	flags.String("user-agent", "", "user-agent override")

	// Challenge settings
	flags.Bool("challenge", true, "solve interactive challenges")
	flags.Int("challenge-max-retries", 3, "max challenge solve attempts per load")
	flags.Duration("challenge-click-delay", 2*time.Second, "delay between challenge clicks")
	flags.Duration("challenge-timeout", 15*time.Second, "per-attempt challenge solve timeout")

	_ = viper.BindPFlag("listen", flags.Lookup("listen"))
	_ = viper.BindPFlag("max_concurrent", flags.Lookup("max-concurrent"))
	_ = viper.BindPFlag("default_timeout", flags.Lookup("default-timeout"))
	_ = viper.BindPFlag("headless", flags.Lookup("headless"))
	_ = viper.BindPFlag("browser_path", flags.Lookup("browser-path"))
	_ = viper.BindPFlag("user_agent", flags.Lookup("user-agent"))
	_ = viper.BindPFlag("challenge.enabled", flags.Lookup("challenge"))
	_ = viper.BindPFlag("challenge.max_retries", flags.Lookup("challenge-max-retries"))
	_ = viper.BindPFlag("challenge.click_delay", flags.Lookup("challenge-click-delay"))
	_ = viper.BindPFlag("challenge.timeout", flags.Lookup("challenge-timeout"))
}

// loadConfig merges defaults, config file, env vars and flags into a
// validated Config.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.Debug = viper.GetBool("debug")
	cfg.Quiet = viper.GetBool("quiet")
	cfg.JSON = viper.GetBool("json_logs")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Init(logger.Options{
		Debug: viper.GetBool("debug"),
		Quiet: viper.GetBool("quiet"),
		JSON:  viper.GetBool("json_logs"),
	})

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting",
		"version", version.String(),
		"listen", cfg.Listen,
		"max_concurrent", cfg.MaxConcurrent,
		"headless", cfg.Headless)

	p := pool.New(engine.NewChrome(), cfg.PoolOptions())
	if err := p.Start(ctx); err != nil {
		logger.Error("browser pool failed to start", "error", err)
		return err
	}

	store := cookies.NewStore()
	f := fetcher.New(p, store, loader.New(), cfg.ChallengeConfig())
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.New(f, p, store, cfg.DefaultTimeout).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			p.Stop(context.Background())
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown incomplete", "error", err)
	}

	p.Stop(shutdownCtx)
	logger.Info("stopped")
	return nil
}
