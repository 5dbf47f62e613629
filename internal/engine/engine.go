// Package engine defines the browser-control boundary consumed by the
// session pool, page loader and fetch coordinator. Any engine able to
// start browser sessions, open pages and drive navigation, challenge
// solving and cookie transfer can back the service; the default
// implementation drives Chrome through chromedp.
package engine

import (
	"context"
	"errors"
	"time"
)

// ErrChallengeTimeout indicates an interactive challenge could not be
// solved within the allotted time. Check with errors.Is.
var ErrChallengeTimeout = errors.New("challenge solve timeout")

// Cookie is the engine-neutral cookie record. It is passed through
// between the browser and the cookie store without interpretation.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Expires  float64 `json:"expires,omitempty"` // seconds since epoch, 0 = session cookie
}

// SessionOptions configures a browser session at startup.
type SessionOptions struct {
	Headless    bool
	ProxyServer string // --proxy-server value; empty means direct connection
	BrowserPath string // explicit browser binary; empty triggers discovery
	UserAgent   string
}

// Engine starts browser sessions.
type Engine interface {
	// StartSession launches one underlying browser instance. Startup can
	// take seconds and can fail; the session outlives the given context.
	StartSession(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is one running browser instance.
type Session interface {
	// OpenPage creates a fresh single-use page (tab).
	OpenPage(ctx context.Context) (Page, error)

	// PageCount reports the number of currently open pages.
	PageCount() int

	// Stop shuts the browser down. Best-effort; safe to call once.
	Stop(ctx context.Context) error
}

// Page is one borrowed browser tab. It is owned by a single fetch
// between open and close and must not be shared.
type Page interface {
	// Navigate instructs the page to load the given URL.
	Navigate(ctx context.Context, url string) error

	// CurrentURL returns the page's current location.
	CurrentURL(ctx context.Context) (string, error)

	// VisibleText returns the rendered body text, or "" when there is no body.
	VisibleText(ctx context.Context) (string, error)

	// ReadyState returns the document readiness value ("loading",
	// "interactive" or "complete").
	ReadyState(ctx context.Context) (string, error)

	// HasSelector reports whether the selector matches within the given
	// probe timeout. A probe that times out reports false, not an error.
	HasSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error)

	// Content returns the current page HTML.
	Content(ctx context.Context) (string, error)

	// ChallengePresent probes, within the given timeout, whether an
	// interactive bot-challenge is currently displayed.
	ChallengePresent(ctx context.Context, timeout time.Duration) (bool, error)

	// SolveChallenge attempts to pass the interactive challenge using
	// synthesized clicks spaced by clickDelay. Returns ErrChallengeTimeout
	// when the challenge is still present after the timeout.
	SolveChallenge(ctx context.Context, clickDelay, timeout time.Duration) error

	// Cookies returns the browser's current cookie snapshot.
	Cookies(ctx context.Context) ([]Cookie, error)

	// SetCookies installs cookies into the browser before navigation.
	SetCookies(ctx context.Context, cookies []Cookie) error

	// AuthenticateProxy installs request interception that answers proxy
	// authentication challenges with the given credentials for the
	// lifetime of the page.
	AuthenticateProxy(ctx context.Context, username, password string) error

	// Close destroys the page. Safe to call more than once.
	Close(ctx context.Context) error
}
