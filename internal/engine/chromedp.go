package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"

	"github.com/pagecourier/pagecourier/internal/logger"
)

// Chrome user agent for better compatibility
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ChromeEngine drives real Chrome/Chromium through chromedp.
type ChromeEngine struct{}

// NewChrome creates the chromedp-backed engine.
func NewChrome() *ChromeEngine {
	return &ChromeEngine{}
}

// StartSession launches a browser process configured for the given
// options. The session is detached from ctx: it lives until Stop.
func (e *ChromeEngine) StartSession(ctx context.Context, opts SessionOptions) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(1920, 1080),
		chromedp.UserAgent(opts.UserAgent),
	)

	binPath := opts.BrowserPath
	if binPath == "" {
		binPath = FindChromePath()
	}
	if binPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(binPath))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			logger.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
		}),
	)

	// Start the browser process now so startup failures surface here
	// instead of on the first page.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	logger.Info("browser session started", "proxy", opts.ProxyServer, "headless", opts.Headless)

	return &chromeSession{
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		cancelAlloc:   cancelAlloc,
	}, nil
}

type chromeSession struct {
	browserCtx    context.Context
	cancelBrowser context.CancelFunc
	cancelAlloc   context.CancelFunc
	pages         atomic.Int64
	stopped       atomic.Bool
}

func (s *chromeSession) OpenPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	// NewContext defers tab creation to the first action; run an empty
	// task list to materialize the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		return nil, fmt.Errorf("opening page: %w", err)
	}

	s.pages.Add(1)
	return &chromePage{session: s, ctx: tabCtx, cancelTab: cancelTab}, nil
}

func (s *chromeSession) PageCount() int {
	return int(s.pages.Load())
}

func (s *chromeSession) Stop(ctx context.Context) error {
	if s.stopped.Swap(true) {
		return nil
	}
	err := chromedp.Cancel(s.browserCtx)
	s.cancelBrowser()
	s.cancelAlloc()
	if err != nil {
		return fmt.Errorf("stopping browser: %w", err)
	}
	return nil
}

type chromePage struct {
	session   *chromeSession
	ctx       context.Context
	cancelTab context.CancelFunc
	closed    atomic.Bool
}

// run executes actions against the tab, honoring the caller's deadline
// without tearing down the tab context itself.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	if p.closed.Load() {
		return errors.New("page is closed")
	}
	if dl, ok := ctx.Deadline(); ok {
		tctx, cancel := context.WithDeadline(p.ctx, dl)
		defer cancel()
		return chromedp.Run(tctx, actions...)
	}
	return chromedp.Run(p.ctx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := p.run(ctx, chromedp.Evaluate(`document.body ? document.body.innerText : ''`, &text))
	if err != nil {
		return "", err
	}
	return text, nil
}

func (p *chromePage) ReadyState(ctx context.Context) (string, error) {
	var state string
	if err := p.run(ctx, chromedp.Evaluate(`document.readyState`, &state)); err != nil {
		return "", err
	}
	return state, nil
}

func (p *chromePage) HasSelector(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var nodes []*cdp.Node
	err := p.run(tctx, chromedp.Nodes(selector, &nodes, chromedp.ByQuery, chromedp.AtLeast(1)))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return false, nil
		}
		return false, err
	}
	return len(nodes) > 0, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) ChallengePresent(ctx context.Context, timeout time.Duration) (bool, error) {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var present bool
	if err := p.run(tctx, chromedp.Evaluate(challengeProbeScript, &present)); err != nil {
		return false, err
	}
	return present, nil
}

func (p *chromePage) SolveChallenge(ctx context.Context, clickDelay, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		var box struct {
			Found bool    `json:"found"`
			X     float64 `json:"x"`
			Y     float64 `json:"y"`
		}
		if err := p.run(ctx, chromedp.Evaluate(challengeBoxScript, &box)); err != nil {
			logger.Debug("challenge widget lookup failed", "error", err)
		} else if box.Found {
			if err := p.run(ctx, chromedp.MouseClickXY(box.X, box.Y)); err != nil {
				logger.Debug("challenge click failed", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(clickDelay):
		}

		present, err := p.ChallengePresent(ctx, time.Second)
		if err == nil && !present {
			return nil
		}
	}

	return ErrChallengeTimeout
}

func (p *chromePage) Cookies(ctx context.Context) ([]Cookie, error) {
	var out []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		out = make([]Cookie, 0, len(cookies))
		for _, c := range cookies {
			out = append(out, Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Secure:   c.Secure,
				HTTPOnly: c.HTTPOnly,
				Expires:  c.Expires,
			})
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		param := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.UnixMilli(int64(c.Expires * 1000)))
			param.Expires = &expires
		}
		params = append(params, param)
	}

	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).Do(ctx)
	}))
}

// AuthenticateProxy enables the CDP Fetch domain with auth handling and
// registers listeners that answer proxy authentication challenges with
// the stored credentials and resume every paused request. The listeners
// react to engine events on their own goroutines for the lifetime of
// the tab.
func (p *chromePage) AuthenticateProxy(ctx context.Context, username, password string) error {
	chromedp.ListenTarget(p.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *fetch.EventAuthRequired:
			go func() {
				resp := &fetch.AuthChallengeResponse{
					Response: fetch.AuthChallengeResponseResponseProvideCredentials,
					Username: username,
					Password: password,
				}
				if err := chromedp.Run(p.ctx, fetch.ContinueWithAuth(e.RequestID, resp)); err != nil {
					logger.Warn("answering proxy auth challenge failed", "error", err)
				}
			}()
		case *fetch.EventRequestPaused:
			go func() {
				if err := chromedp.Run(p.ctx, fetch.ContinueRequest(e.RequestID)); err != nil {
					logger.Debug("continuing paused request failed", "error", err)
				}
			}()
		}
	})

	if err := p.run(ctx, fetch.Enable().WithHandleAuthRequests(true)); err != nil {
		return fmt.Errorf("enabling request interception: %w", err)
	}
	return nil
}

func (p *chromePage) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.session.pages.Add(-1)

	err := chromedp.Cancel(p.ctx)
	p.cancelTab()
	if err != nil {
		return fmt.Errorf("closing page: %w", err)
	}
	return nil
}
