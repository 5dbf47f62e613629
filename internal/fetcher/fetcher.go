// Package fetcher coordinates a single fetch: borrow a page from the
// pool, restore cookies, run the load, persist cookies, return the
// page. Cookie failures are logged and never fail the fetch.
package fetcher

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/pagecourier/pagecourier/internal/cookies"
	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/loader"
	"github.com/pagecourier/pagecourier/internal/logger"
	"github.com/pagecourier/pagecourier/internal/pool"
	"github.com/pagecourier/pagecourier/internal/proxy"
)

// DefaultTimeout applies when a request carries no timeout of its own.
const DefaultTimeout = 30 * time.Second

// cookieGrace bounds the cookie save-back once the fetch deadline has
// passed; cookies persist regardless of the load's outcome.
const cookieGrace = 5 * time.Second

// Request describes one fetch.
type Request struct {
	URL     string
	WaitFor string // CSS selector defining success; "" means readiness
	Timeout time.Duration
	Proxy   *proxy.Identity // nil for a direct connection
}

// Result is the outcome of one fetch. Elapsed spans pool admission
// through page release, so it reflects what the caller actually waited.
type Result struct {
	Success           bool
	HTML              string
	Title             string
	FinalURL          string
	Error             string
	Status            loader.PageStatus
	ChallengeDetected bool
	ChallengeSolved   bool
	ChallengeRetries  int
	Proxy             string
	Elapsed           time.Duration
}

// Fetcher runs fetches against a shared pool and cookie store.
type Fetcher struct {
	pool      *pool.Pool
	store     *cookies.Store
	loader    *loader.Loader
	challenge loader.ChallengeConfig
}

// New returns a Fetcher. store may be nil to disable cookie
// persistence entirely.
func New(p *pool.Pool, store *cookies.Store, l *loader.Loader, challenge loader.ChallengeConfig) *Fetcher {
	if l == nil {
		l = loader.New()
	}
	return &Fetcher{pool: p, store: store, loader: l, challenge: challenge}
}

// Fetch borrows a page keyed by the request's proxy, loads the URL and
// returns the outcome. The request timeout bounds the whole operation,
// waiting for a pool slot included.
func (f *Fetcher) Fetch(ctx context.Context, req Request) Result {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res := f.fetch(ctx, req, timeout, start)
	res.Elapsed = time.Since(start)
	res.Proxy = proxy.Key(req.Proxy)
	res.Title = pageTitle(res.HTML)

	logger.Info("fetch finished",
		"url", req.URL,
		"success", res.Success,
		"status", string(res.Status),
		"proxy", res.Proxy,
		"elapsed", res.Elapsed.Round(time.Millisecond))
	return res
}

// fetch runs the borrow/load/return cycle. Release happens in a defer
// so the caller's elapsed measurement includes it.
func (f *Fetcher) fetch(ctx context.Context, req Request, timeout time.Duration, start time.Time) Result {
	page, err := f.pool.Acquire(ctx, req.Proxy)
	if err != nil {
		logger.Error("page acquisition failed", "url", req.URL, "error", err)
		return Result{Error: err.Error(), Status: loader.StatusOK}
	}
	defer f.pool.Release(page)

	f.restoreCookies(ctx, page, req)

	// The loader gets whatever budget admission left over.
	remaining := timeout - time.Since(start)
	lr := f.loader.Load(ctx, page, req.URL, req.WaitFor, remaining, f.challenge)

	f.persistCookies(ctx, page, req)

	return Result{
		Success:           lr.Success,
		HTML:              lr.HTML,
		FinalURL:          lr.FinalURL,
		Error:             lr.Error,
		Status:            lr.Status,
		ChallengeDetected: lr.ChallengeDetected,
		ChallengeSolved:   lr.ChallengeSolved,
		ChallengeRetries:  lr.ChallengeRetries,
	}
}

func (f *Fetcher) restoreCookies(ctx context.Context, page engine.Page, req Request) {
	if f.store == nil {
		return
	}
	jar := f.store.Load(req.URL, req.Proxy)
	if len(jar) == 0 {
		return
	}
	if err := page.SetCookies(ctx, jar); err != nil {
		logger.Warn("cookie restore failed", "url", req.URL, "error", err)
		return
	}
	logger.Debug("cookies restored", "url", req.URL, "count", len(jar))
}

// persistCookies saves the page's jar back to the store. It runs on
// its own grace window because the fetch context is often already past
// its deadline by the time a timed-out load gets here.
func (f *Fetcher) persistCookies(ctx context.Context, page engine.Page, req Request) {
	if f.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cookieGrace)
	defer cancel()

	jar, err := page.Cookies(ctx)
	if err != nil {
		logger.Warn("cookie capture failed", "url", req.URL, "error", err)
		return
	}
	f.store.Save(req.URL, req.Proxy, jar)
	logger.Debug("cookies saved", "url", req.URL, "count", len(jar))
}

// pageTitle pulls the document title out of captured HTML. Parse
// failures yield an empty title.
func pageTitle(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
