// Package enginetest provides a scriptable in-memory engine for testing
// the pool, loader and fetcher without a real browser.
package enginetest

import (
	"context"
	"sync"
	"time"

	"github.com/pagecourier/pagecourier/internal/engine"
)

// Engine is a fake engine.Engine. Configure the exported fields before
// use; zero values produce a session whose pages load instantly with
// readyState "complete".
type Engine struct {
	// StartErr makes every StartSession call fail.
	StartErr error

	// StartDelay is slept inside StartSession, widening race windows in
	// concurrency tests.
	StartDelay time.Duration

	// NewPage, when set, produces the Page returned by each OpenPage
	// call. Defaults to a page that reports readyState "complete".
	NewPage func() *Page

	mu       sync.Mutex
	starts   int
	sessions []*Session
}

// StartSession implements engine.Engine.
func (e *Engine) StartSession(ctx context.Context, opts engine.SessionOptions) (engine.Session, error) {
	if e.StartDelay > 0 {
		time.Sleep(e.StartDelay)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	if e.StartErr != nil {
		return nil, e.StartErr
	}

	s := &Session{eng: e, Opts: opts}
	e.sessions = append(e.sessions, s)
	return s, nil
}

// Starts returns how many times StartSession was called, including
// failed attempts.
func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

// Sessions returns every session created so far.
func (e *Engine) Sessions() []*Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Session(nil), e.sessions...)
}

func (e *Engine) newPage() *Page {
	if e.NewPage != nil {
		return e.NewPage()
	}
	return &Page{Ready: "complete"}
}

// Session is a fake engine.Session.
type Session struct {
	Opts engine.SessionOptions

	// OpenErr makes every OpenPage call fail.
	OpenErr error

	eng     *Engine
	mu      sync.Mutex
	open    int
	stopped bool
	pages   []*Page
}

// OpenPage implements engine.Session.
func (s *Session) OpenPage(ctx context.Context) (engine.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}

	p := s.eng.newPage()
	p.session = s
	s.open++
	s.pages = append(s.pages, p)
	return p, nil
}

// PageCount implements engine.Session.
func (s *Session) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Stop implements engine.Session.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// Stopped reports whether Stop was called.
func (s *Session) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Pages returns every page opened on the session.
func (s *Session) Pages() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Page(nil), s.pages...)
}

func (s *Session) pageClosed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open--
}

// Page is a scriptable fake engine.Page.
//
// Challenge behavior: ChallengePresent reports true while
// ChallengeRounds > 0. A successful SolveChallenge (SolveErr == nil)
// consumes one round; a failing solve leaves the round in place so the
// challenge is re-detected on the next probe, mirroring a real
// interstitial that survives a failed attempt.
type Page struct {
	NavigateErr error
	Location    string // reported by CurrentURL after Navigate
	URLErr      error

	Text       string // visible body text
	Ready      string // readyState value; "" reads as "loading"
	HTML       string
	ContentErr error

	// HonorDeadline makes reads and cookie transfer fail once the
	// caller's context is done, matching the real engine.
	HonorDeadline bool

	Selectors map[string]bool // selector -> present

	ChallengeRounds int
	ProbeErr        error
	SolveErr        error

	Jar           []engine.Cookie
	CookiesErr    error
	SetCookiesErr error

	CloseErr error

	AuthUser string
	AuthPass string
	AuthErr  error

	session    *Session
	mu         sync.Mutex
	navigated  string
	solveCalls int
	closeCalls int
	setCalls   [][]engine.Cookie
}

// ctxErr reports context expiry when the page honors deadlines.
// Callers hold p.mu.
func (p *Page) ctxErr(ctx context.Context) error {
	if !p.HonorDeadline {
		return nil
	}
	return ctx.Err()
}

// Navigate implements engine.Page.
func (p *Page) Navigate(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.navigated = url
	return nil
}

// NavigatedTo returns the last URL passed to Navigate.
func (p *Page) NavigatedTo() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.navigated
}

// CurrentURL implements engine.Page.
func (p *Page) CurrentURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctxErr(ctx); err != nil {
		return "", err
	}
	if p.URLErr != nil {
		return "", p.URLErr
	}
	if p.Location != "" {
		return p.Location, nil
	}
	return p.navigated, nil
}

// VisibleText implements engine.Page.
func (p *Page) VisibleText(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctxErr(ctx); err != nil {
		return "", err
	}
	return p.Text, nil
}

// ReadyState implements engine.Page.
func (p *Page) ReadyState(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Ready == "" {
		return "loading", nil
	}
	return p.Ready, nil
}

// HasSelector implements engine.Page.
func (p *Page) HasSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Selectors[selector], nil
}

// Content implements engine.Page.
func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctxErr(ctx); err != nil {
		return "", err
	}
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	return p.HTML, nil
}

// ChallengePresent implements engine.Page.
func (p *Page) ChallengePresent(ctx context.Context, timeout time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProbeErr != nil {
		return false, p.ProbeErr
	}
	return p.ChallengeRounds > 0, nil
}

// SolveChallenge implements engine.Page.
func (p *Page) SolveChallenge(ctx context.Context, clickDelay, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.solveCalls++
	if p.SolveErr != nil {
		return p.SolveErr
	}
	if p.ChallengeRounds > 0 {
		p.ChallengeRounds--
	}
	return nil
}

// SolveCalls returns how many solve attempts were made.
func (p *Page) SolveCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.solveCalls
}

// Cookies implements engine.Page.
func (p *Page) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctxErr(ctx); err != nil {
		return nil, err
	}
	if p.CookiesErr != nil {
		return nil, p.CookiesErr
	}
	return append([]engine.Cookie(nil), p.Jar...), nil
}

// SetCookies implements engine.Page.
func (p *Page) SetCookies(ctx context.Context, cookies []engine.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ctxErr(ctx); err != nil {
		return err
	}
	if p.SetCookiesErr != nil {
		return p.SetCookiesErr
	}
	p.setCalls = append(p.setCalls, append([]engine.Cookie(nil), cookies...))
	return nil
}

// SetCookieCalls returns every jar passed to SetCookies.
func (p *Page) SetCookieCalls() [][]engine.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.setCalls
}

// AuthenticateProxy implements engine.Page.
func (p *Page) AuthenticateProxy(ctx context.Context, username, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.AuthErr != nil {
		return p.AuthErr
	}
	p.AuthUser = username
	p.AuthPass = password
	return nil
}

// Close implements engine.Page.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closeCalls++
	first := p.closeCalls == 1
	err := p.CloseErr
	p.mu.Unlock()

	if first && p.session != nil {
		p.session.pageClosed()
	}
	return err
}

// CloseCalls returns how many times Close was called.
func (p *Page) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}
