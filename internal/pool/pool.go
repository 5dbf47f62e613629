// Package pool shares browser sessions across fetches. One session
// exists per proxy identity, created lazily on first use, and a single
// weighted semaphore caps the number of concurrently open pages across
// every session: the browser cost that matters is per page, not per
// proxy, so the ceiling is global.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pagecourier/pagecourier/internal/engine"
	"github.com/pagecourier/pagecourier/internal/logger"
	"github.com/pagecourier/pagecourier/internal/proxy"
)

// ErrSessionStart indicates the engine failed to start a browser
// session. Check with errors.Is.
var ErrSessionStart = errors.New("browser session start failed")

// DefaultMaxConcurrent is the page ceiling used when Options leaves
// MaxConcurrent unset.
const DefaultMaxConcurrent = 5

const closeTimeout = 10 * time.Second

// Options configures a Pool.
type Options struct {
	MaxConcurrent int
	Headless      bool
	BrowserPath   string
	UserAgent     string
}

// Stat describes one live session.
type Stat struct {
	Proxy string // canonical proxy server, "" for the direct session
	Tabs  int
}

// Pool hands out single-use pages from per-proxy browser sessions.
type Pool struct {
	opts Options
	eng  engine.Engine
	sem  *semaphore.Weighted

	mu       sync.Mutex
	sessions map[string]engine.Session
	started  bool
}

// New creates a pool backed by the given engine.
func New(eng engine.Engine, opts Options) *Pool {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Pool{
		opts:     opts,
		eng:      eng,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		sessions: make(map[string]engine.Session),
	}
}

// Acquire blocks until the global page ceiling admits the caller, then
// returns a fresh page on the session for the given proxy (nil for a
// direct connection), creating the session on first use. When the proxy
// carries credentials the page comes back with authentication
// interception already installed.
//
// Cancellation while waiting never consumes a slot; any failure after
// admission releases the slot before returning.
func (p *Pool) Acquire(ctx context.Context, id *proxy.Identity) (engine.Page, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	page, err := p.openPage(ctx, id)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	return page, nil
}

func (p *Pool) openPage(ctx context.Context, id *proxy.Identity) (engine.Page, error) {
	sess, err := p.session(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStart, err)
	}

	page, err := sess.OpenPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}

	if id.NeedsAuth() {
		if err := page.AuthenticateProxy(ctx, id.Username, id.Password); err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if cerr := page.Close(closeCtx); cerr != nil {
				logger.Warn("closing page after auth setup failure", "error", cerr)
			}
			return nil, fmt.Errorf("configuring proxy auth: %w", err)
		}
	}

	return page, nil
}

// session returns the session for the given proxy, creating it if
// needed. The pool lock is held across creation so concurrent first
// requests for one key cannot race a second session into existence.
func (p *Pool) session(ctx context.Context, id *proxy.Identity) (engine.Session, error) {
	key := proxy.Key(id)

	p.mu.Lock()
	defer p.mu.Unlock()

	if sess, ok := p.sessions[key]; ok {
		return sess, nil
	}

	logger.Info("creating browser session", "proxy", key)
	opts := engine.SessionOptions{
		Headless:    p.opts.Headless,
		BrowserPath: p.opts.BrowserPath,
		UserAgent:   p.opts.UserAgent,
	}
	if id != nil {
		opts.ProxyServer = id.Server
	}

	sess, err := p.eng.StartSession(ctx, opts)
	if err != nil {
		return nil, err
	}

	p.sessions[key] = sess
	p.started = true
	return sess, nil
}

// Release closes the page and returns its slot to the pool. The slot is
// released exactly once per successful Acquire, whether or not the
// close succeeds.
func (p *Pool) Release(page engine.Page) {
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := page.Close(ctx); err != nil {
		logger.Warn("closing page failed", "error", err)
	}
}

// Start eagerly creates the direct (no-proxy) session. Idempotent.
func (p *Pool) Start(ctx context.Context) error {
	_, err := p.session(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStart, err)
	}
	return nil
}

// Stop shuts every session down best-effort and clears the session map.
// Individual failures are logged, never returned: shutdown is total
// even under partial failure.
func (p *Pool) Stop(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, sess := range p.sessions {
		logger.Info("stopping browser session", "proxy", key)
		if err := sess.Stop(ctx); err != nil {
			logger.Warn("stopping browser session failed", "proxy", key, "error", err)
		}
	}
	p.sessions = make(map[string]engine.Session)
	p.started = false
}

// Started reports whether at least one session has been created since
// the last Stop.
func (p *Pool) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// MaxConcurrent returns the global page ceiling.
func (p *Pool) MaxConcurrent() int {
	return p.opts.MaxConcurrent
}

// Headless reports the headless setting sessions are started with.
func (p *Pool) Headless() bool {
	return p.opts.Headless
}

// Stats returns a snapshot of live page counts per session, sorted by
// proxy key.
func (p *Pool) Stats() []Stat {
	p.mu.Lock()
	stats := make([]Stat, 0, len(p.sessions))
	for key, sess := range p.sessions {
		stats = append(stats, Stat{Proxy: key, Tabs: sess.PageCount()})
	}
	p.mu.Unlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Proxy < stats[j].Proxy })
	return stats
}
