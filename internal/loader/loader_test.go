package loader

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/engine/enginetest"
)

// fastLoader returns a loader with timings shrunk for tests.
func fastLoader() *Loader {
	return &Loader{
		SolvedSettle: time.Millisecond,
		ReadySettle:  time.Millisecond,
		ProbeTimeout: time.Millisecond,
	}
}

// fastConfig returns a challenge config with timings shrunk for tests.
func fastConfig() ChallengeConfig {
	return ChallengeConfig{
		Enabled:       true,
		MaxRetries:    3,
		ClickDelay:    time.Millisecond,
		Timeout:       10 * time.Millisecond,
		CheckInterval: 5 * time.Millisecond,
		DetectTimeout: time.Millisecond,
	}
}

func TestLoad_ReadyStateSuccess(t *testing.T) {
	page := &enginetest.Page{Ready: "complete", HTML: "<html><body>hi</body></html>"}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.HTML != "<html><body>hi</body></html>" {
		t.Errorf("unexpected HTML %q", res.HTML)
	}
	if res.FinalURL != "https://example.com" {
		t.Errorf("unexpected final URL %q", res.FinalURL)
	}
	if res.Status != StatusOK {
		t.Errorf("expected status ok, got %q", res.Status)
	}
}

func TestLoad_WaitForSelectorSuccess(t *testing.T) {
	page := &enginetest.Page{
		Ready:     "loading", // readiness must not matter when waitFor is given
		HTML:      "<html><div id='main'></div></html>",
		Selectors: map[string]bool{"#main": true},
	}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "#main", time.Second, fastConfig())

	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestLoad_WaitForSelectorNeverAppears(t *testing.T) {
	page := &enginetest.Page{Ready: "complete", Selectors: map[string]bool{}}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "#missing", 50*time.Millisecond, fastConfig())

	if res.Success {
		t.Fatal("load should time out when the selector never appears")
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("error should mention timeout, got %q", res.Error)
	}
}

func TestLoad_BlockedPage(t *testing.T) {
	page := &enginetest.Page{
		Ready: "complete",
		Text:  "Access denied\nYou do not have permission to view this page.",
		HTML:  "<html>denied</html>",
	}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Success {
		t.Fatal("blocked page should not succeed")
	}
	if res.Status != StatusBlocked {
		t.Errorf("expected status blocked, got %q", res.Status)
	}
	if !strings.Contains(res.Error, "Access denied") {
		t.Errorf("error should carry the matched marker, got %q", res.Error)
	}
	if res.HTML != "<html>denied</html>" {
		t.Errorf("blocked result should still carry content, got %q", res.HTML)
	}
}

func TestLoad_QueuePage(t *testing.T) {
	page := &enginetest.Page{Ready: "complete", Text: "You are in the queue, please hold."}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Status != StatusQueue {
		t.Errorf("expected status queue, got %q", res.Status)
	}
}

func TestLoad_UnreachablePage(t *testing.T) {
	page := &enginetest.Page{Ready: "complete", Text: "ERR_NAME_NOT_RESOLVED"}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Status != StatusUnreachable {
		t.Errorf("expected status unreachable, got %q", res.Status)
	}
}

func TestLoad_StatusRules_FirstMatchWins(t *testing.T) {
	// Text matches both a blocked and a queue marker; blocked is checked first.
	page := &enginetest.Page{Ready: "complete", Text: "You have been blocked. You are in the queue."}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Status != StatusBlocked {
		t.Errorf("blocked should win over queue, got %q", res.Status)
	}
}

func TestLoad_ChallengeSolvedThenSuccess(t *testing.T) {
	page := &enginetest.Page{
		Ready:           "complete",
		HTML:            "<html>real content</html>",
		ChallengeRounds: 1,
	}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if !res.Success {
		t.Fatalf("expected success after solved challenge, got %+v", res)
	}
	if !res.ChallengeDetected {
		t.Error("challenge should be flagged as detected")
	}
	if !res.ChallengeSolved {
		t.Error("challenge should be flagged as solved")
	}
	if res.ChallengeRetries != 0 {
		t.Errorf("expected zero retries, got %d", res.ChallengeRetries)
	}
}

func TestLoad_ChallengeRetriesExhausted(t *testing.T) {
	page := &enginetest.Page{
		Ready:           "complete",
		HTML:            "<html>interstitial</html>",
		ChallengeRounds: 1,
		SolveErr:        engine.ErrChallengeTimeout,
	}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Success {
		t.Fatal("exhausted challenge should not succeed")
	}
	if res.ChallengeRetries != 3 {
		t.Errorf("expected 3 retries, got %d", res.ChallengeRetries)
	}
	if !res.ChallengeDetected || res.ChallengeSolved {
		t.Errorf("expected detected && !solved, got %+v", res)
	}
	if !strings.Contains(res.Error, "retries") {
		t.Errorf("error should mention retries, got %q", res.Error)
	}
	if page.SolveCalls() != 3 {
		t.Errorf("expected 3 solve attempts, got %d", page.SolveCalls())
	}
}

func TestLoad_ChallengeDisabled(t *testing.T) {
	cfg := fastConfig()
	cfg.Enabled = false

	page := &enginetest.Page{Ready: "complete", ChallengeRounds: 5}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, cfg)

	if !res.Success {
		t.Fatalf("load should succeed without challenge handling, got %+v", res)
	}
	if res.ChallengeDetected {
		t.Error("challenge must not be probed when disabled")
	}
	if page.SolveCalls() != 0 {
		t.Errorf("no solve attempts expected, got %d", page.SolveCalls())
	}
}

func TestLoad_ChallengeProbeErrorIgnored(t *testing.T) {
	page := &enginetest.Page{
		Ready:    "complete",
		ProbeErr: errors.New("probe exploded"),
	}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if !res.Success {
		t.Fatalf("probe errors must be swallowed, got %+v", res)
	}
}

func TestLoad_Timeout(t *testing.T) {
	page := &enginetest.Page{Ready: "loading", HTML: "<html>partial</html>"}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", 50*time.Millisecond, fastConfig())

	if res.Success {
		t.Fatal("load should fail when the page never completes")
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("error should mention timeout, got %q", res.Error)
	}
	if res.HTML != "<html>partial</html>" {
		t.Errorf("timeout result should carry best-effort content, got %q", res.HTML)
	}
}

func TestLoad_ContextDeadlineReadsAsTimeout(t *testing.T) {
	// The page honors the context the way the real engine does; once
	// the surrounding deadline expires, capture must still succeed and
	// the error must read as a timeout, not a bare context error.
	page := &enginetest.Page{
		HonorDeadline: true,
		Ready:         "loading",
		HTML:          "<html>partial</html>",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := fastLoader().Load(ctx, page, "https://example.com", "", 50*time.Millisecond, fastConfig())

	if res.Success {
		t.Fatal("load should fail when the page never completes")
	}
	if !strings.Contains(res.Error, "timeout") {
		t.Errorf("error should mention timeout, got %q", res.Error)
	}
	if res.HTML != "<html>partial</html>" {
		t.Errorf("capture should survive deadline expiry, got %q", res.HTML)
	}
}

func TestLoad_NavigationError(t *testing.T) {
	page := &enginetest.Page{NavigateErr: errors.New("net::ERR_PROXY_CONNECTION_FAILED")}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Success {
		t.Fatal("navigation failure should fail the load")
	}
	if !strings.Contains(res.Error, "ERR_PROXY_CONNECTION_FAILED") {
		t.Errorf("error should surface the navigation failure, got %q", res.Error)
	}
}

func TestLoad_ContentFailureDoesNotMaskClassification(t *testing.T) {
	page := &enginetest.Page{
		Ready:      "complete",
		Text:       "Access denied",
		ContentErr: errors.New("target crashed"),
	}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.Status != StatusBlocked {
		t.Errorf("classification should survive content failure, got %q", res.Status)
	}
	if res.HTML != "" {
		t.Errorf("content failure should leave empty HTML, got %q", res.HTML)
	}
	if !strings.Contains(res.Error, "Access denied") {
		t.Errorf("error should still carry the marker, got %q", res.Error)
	}
}

func TestLoad_FinalURLFollowsRedirect(t *testing.T) {
	page := &enginetest.Page{Ready: "complete", Location: "https://example.com/landing"}
	res := fastLoader().Load(context.Background(), page, "https://example.com", "", time.Second, fastConfig())

	if res.FinalURL != "https://example.com/landing" {
		t.Errorf("expected redirected final URL, got %q", res.FinalURL)
	}
}

func TestLoad_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &enginetest.Page{Ready: "loading"}
	res := fastLoader().Load(ctx, page, "https://example.com", "", time.Second, fastConfig())

	if res.Success {
		t.Fatal("cancelled load should not succeed")
	}
	if !strings.Contains(res.Error, "context canceled") {
		t.Errorf("error should reflect cancellation, got %q", res.Error)
	}
}
