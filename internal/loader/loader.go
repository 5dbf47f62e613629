// Package loader drives a borrowed page through navigation, challenge
// solving and status classification until the page either renders or
// the load fails. The loop polls in a fixed order every interval:
// challenge check, abnormal-status check, success check.
package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/logger"
)

// PageStatus classifies the terminal condition of a page.
type PageStatus string

const (
	StatusOK          PageStatus = "ok"
	StatusBlocked     PageStatus = "blocked"
	StatusQueue       PageStatus = "queue"
	StatusUnreachable PageStatus = "unreachable"
)

type statusRule struct {
	status  PageStatus
	message string
	markers []string
}

// statusRules is evaluated in order against the page's visible text;
// the first marker found wins. Matching is exact, case-sensitive
// substring containment.
var statusRules = []statusRule{
	{StatusBlocked, "page blocked", []string{
		"Please wait a few minutes and try again.",
		"Access denied",
		"You have been blocked",
	}},
	{StatusQueue, "in queue", []string{
		"To enter the queue",
		"You are in the queue",
		"Queue-it",
	}},
	{StatusUnreachable, "site unreachable", []string{
		"This site can’t be reached",
		"ERR_CONNECTION_REFUSED",
		"ERR_NAME_NOT_RESOLVED",
		"ERR_CONNECTION_TIMED_OUT",
	}},
}

// ChallengeConfig tunes interactive challenge handling per load.
type ChallengeConfig struct {
	Enabled       bool
	MaxRetries    int
	ClickDelay    time.Duration
	Timeout       time.Duration
	CheckInterval time.Duration
	DetectTimeout time.Duration
}

// DefaultChallengeConfig returns the standard challenge settings.
func DefaultChallengeConfig() ChallengeConfig {
	return ChallengeConfig{
		Enabled:       true,
		MaxRetries:    3,
		ClickDelay:    2 * time.Second,
		Timeout:       15 * time.Second,
		CheckInterval: 500 * time.Millisecond,
		DetectTimeout: 100 * time.Millisecond,
	}
}

func (c ChallengeConfig) withDefaults() ChallengeConfig {
	def := DefaultChallengeConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.ClickDelay <= 0 {
		c.ClickDelay = def.ClickDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = def.CheckInterval
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = def.DetectTimeout
	}
	return c
}

// Result is the outcome of one page load. HTML and FinalURL are always
// best-effort: a terminal classification is never lost to a failed
// content grab.
type Result struct {
	Success           bool
	HTML              string
	FinalURL          string
	Error             string
	ChallengeDetected bool
	ChallengeSolved   bool
	ChallengeRetries  int
	Status            PageStatus
}

// Loader runs the page-load state machine. The settle and probe
// durations have sensible defaults from New; tests shrink them.
type Loader struct {
	// SolvedSettle is the pause after a solved challenge before the next
	// polling round, letting the follow-up navigation land.
	SolvedSettle time.Duration

	// ReadySettle is the pause after readyState reaches "complete",
	// letting post-load scripts finish before content capture.
	ReadySettle time.Duration

	// ProbeTimeout bounds each waitFor selector probe.
	ProbeTimeout time.Duration
}

// New returns a Loader with default timings.
func New() *Loader {
	return &Loader{
		SolvedSettle: time.Second,
		ReadySettle:  500 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

// Load navigates the page to url and polls until success, terminal
// failure or the deadline, whichever comes first. waitFor, when
// non-empty, is the CSS selector whose presence defines success;
// otherwise success is document readiness.
func (l *Loader) Load(ctx context.Context, page engine.Page, url, waitFor string, timeout time.Duration, cfg ChallengeConfig) Result {
	cfg = cfg.withDefaults()

	res := Result{FinalURL: url, Status: StatusOK}
	start := time.Now()
	deadline := start.Add(timeout)

	logger.Info("navigating", "url", url)
	if err := page.Navigate(ctx, url); err != nil {
		res.Error = failureMessage(err, start)
		l.capture(ctx, page, &res, url)
		return res
	}

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			res.Error = failureMessage(err, start)
			l.capture(ctx, page, &res, url)
			return res
		}

		// 1. Challenge check. Probe errors are swallowed: detection is
		// best-effort and transient failures must not kill the load.
		if cfg.Enabled {
			present, err := page.ChallengePresent(ctx, cfg.DetectTimeout)
			if err != nil {
				logger.Debug("challenge probe failed", "error", err)
			} else if present {
				res.ChallengeDetected = true
				logger.Info("interactive challenge detected, solving", "url", url)

				err := page.SolveChallenge(ctx, cfg.ClickDelay, cfg.Timeout)
				switch {
				case err == nil:
					res.ChallengeSolved = true
					logger.Info("challenge solved", "url", url)
					// The page right after a solve is transitional; settle
					// and restart the polling round.
					sleepCtx(ctx, l.SolvedSettle)
					continue
				case errors.Is(err, engine.ErrChallengeTimeout):
					res.ChallengeRetries++
					logger.Warn("challenge solve timed out",
						"url", url,
						"retry", res.ChallengeRetries,
						"max", cfg.MaxRetries)
					if res.ChallengeRetries >= cfg.MaxRetries {
						res.Error = fmt.Sprintf("challenge failed after %d retries", res.ChallengeRetries)
						l.capture(ctx, page, &res, url)
						return res
					}
					continue
				default:
					logger.Debug("challenge solve error (ignored)", "error", err)
				}
			}
		}

		// 2. Abnormal-status check. A match terminates immediately no
		// matter what the challenge or readiness state says.
		if status, marker := pageStatus(ctx, page); status != StatusOK {
			res.Status = status
			res.Error = fmt.Sprintf("%s: %s", ruleMessage(status), marker)
			logger.Warn("abnormal page detected", "url", url, "status", string(status), "marker", marker)
			l.capture(ctx, page, &res, url)
			return res
		}

		// 3. Success check.
		if waitFor != "" {
			found, err := page.HasSelector(ctx, waitFor, l.ProbeTimeout)
			if err == nil && found {
				logger.Info("target element found", "selector", waitFor)
				res.Success = true
				l.capture(ctx, page, &res, url)
				return res
			}
		} else {
			state, err := page.ReadyState(ctx)
			if err == nil && state == "complete" {
				sleepCtx(ctx, l.ReadySettle)
				logger.Info("page load complete", "url", url)
				res.Success = true
				l.capture(ctx, page, &res, url)
				return res
			}
		}

		if !sleepCtx(ctx, cfg.CheckInterval) {
			res.Error = failureMessage(ctx.Err(), start)
			l.capture(ctx, page, &res, url)
			return res
		}
	}

	elapsed := time.Since(start).Round(time.Millisecond)
	logger.Warn("page load timeout", "url", url, "elapsed", elapsed)
	res.Error = fmt.Sprintf("timeout after %s", elapsed)
	l.capture(ctx, page, &res, url)
	return res
}

// captureGrace bounds the terminal content grab once the load itself
// is over.
const captureGrace = 5 * time.Second

// capture fills HTML and FinalURL best-effort; failures leave the
// already-determined classification intact. The caller's context may
// already be past its deadline at a terminal point, so the grab runs
// on its own short grace window.
func (l *Loader) capture(ctx context.Context, page engine.Page, res *Result, fallbackURL string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), captureGrace)
	defer cancel()

	html, err := page.Content(ctx)
	if err != nil {
		logger.Warn("failed to capture page content", "error", err)
	}
	res.HTML = html

	if u, err := page.CurrentURL(ctx); err == nil && u != "" {
		res.FinalURL = u
	} else {
		res.FinalURL = fallbackURL
	}
}

// pageStatus classifies the page's visible text against the rule
// table. Read failures count as ok: classification is best-effort.
func pageStatus(ctx context.Context, page engine.Page) (PageStatus, string) {
	text, err := page.VisibleText(ctx)
	if err != nil || text == "" {
		return StatusOK, ""
	}

	for _, rule := range statusRules {
		for _, marker := range rule.markers {
			if strings.Contains(text, marker) {
				return rule.status, marker
			}
		}
	}
	return StatusOK, ""
}

// failureMessage renders a load failure; context-deadline expiry reads
// as the timeout it is rather than a bare context error.
func failureMessage(err error, start time.Time) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s", time.Since(start).Round(time.Millisecond))
	}
	return err.Error()
}

func ruleMessage(status PageStatus) string {
	for _, rule := range statusRules {
		if rule.status == status {
			return rule.message
		}
	}
	return string(status)
}

// sleepCtx sleeps for d or until ctx is done; reports whether the full
// sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
