// Package browser owns the shared headless-browser session. All page
// acquisition goes through the Pool so that connection-health detection
// and reconnection live in one place instead of in every worker.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// ErrBrowserUnavailable is returned when the session could not be
// (re)established after the bounded reconnect attempts.
var ErrBrowserUnavailable = errors.New("browser unavailable")

// State is the pool's connection state machine:
// disconnected → connecting → connected → degraded → connected|disconnected.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
)

const (
	reconnectAttempts = 3
	reconnectBackoff  = 2 * time.Second

	defaultNavTimeoutMs = 10_000
)

// PageOptions configure request interception for one acquired page.
type PageOptions struct {
	// AllowStylesheets admits stylesheet requests; the email-harvester
	// variants need them for visibility heuristics.
	AllowStylesheets bool
	// BlockThirdParty rejects scripts/XHR/fetch whose host differs from
	// the document host.
	BlockThirdParty bool
}

// Page is an acquired render page, owned exclusively by one worker
// until released.
type Page struct {
	pw    playwright.Page
	pool  *Pool
	alive bool
	mu    sync.Mutex
}

// Raw exposes the underlying playwright page.
func (p *Page) Raw() playwright.Page { return p.pw }

// MarkFaulty flags the page so Release destroys rather than recycles it.
// Pages are never recycled between jobs anyway; the flag exists for
// symmetry with the liveness check.
func (p *Page) MarkFaulty() {
	p.mu.Lock()
	p.alive = false
	p.mu.Unlock()
}

// Options configure the pool.
type Options struct {
	// WSEndpoint connects to a remote rendering service; empty launches
	// a local headless browser.
	WSEndpoint string
	// PageCeiling bounds concurrently held pages across the whole
	// process (detail workers plus email harvesters).
	PageCeiling int64
}

// Pool holds at most one active browser session and hands out pages.
type Pool struct {
	opts Options
	log  zerolog.Logger

	mu      sync.Mutex
	state   State
	pw      *playwright.Playwright
	browser playwright.Browser
	closed  bool

	sem *semaphore.Weighted
}

func NewPool(opts Options, log zerolog.Logger) *Pool {
	if opts.PageCeiling <= 0 {
		opts.PageCeiling = 8
	}

	return &Pool{
		opts:  opts,
		log:   log.With().Str("component", "browser_pool").Logger(),
		state: StateDisconnected,
		sem:   semaphore.NewWeighted(opts.PageCeiling),
	}
}

// State returns the current connection state.
func (p *Pool) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.state
}

// Health checks the live session without side effects.
func (p *Pool) Health() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrBrowserUnavailable
	}

	if p.browser == nil || !p.browser.IsConnected() {
		p.state = StateDegraded

		return fmt.Errorf("%w: session not connected", ErrBrowserUnavailable)
	}

	return nil
}

// AcquirePage returns a fresh page with the default navigation timeout
// and request interception configured. On protocol-level errors it
// reconstructs the session up to three times with a fixed backoff
// before failing with ErrBrowserUnavailable.
func (p *Pool) AcquirePage(ctx context.Context, opts PageOptions) (*Page, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	page, err := p.acquireLocked(ctx, opts)
	if err != nil {
		p.sem.Release(1)

		return nil, err
	}

	return page, nil
}

func (p *Pool) acquireLocked(ctx context.Context, opts PageOptions) (*Page, error) {
	var lastErr error

	for attempt := 0; attempt <= reconnectAttempts; attempt++ {
		if attempt > 0 {
			p.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("reconnecting browser session")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(reconnectBackoff):
			}
		}

		if err := p.ensureConnected(); err != nil {
			lastErr = err

			continue
		}

		page, err := p.newPage(opts)
		if err == nil {
			return page, nil
		}

		lastErr = err

		if !IsConnectionError(err) {
			return nil, err
		}

		p.dropSession()
	}

	return nil, fmt.Errorf("%w: %v", ErrBrowserUnavailable, lastErr)
}

func (p *Pool) ensureConnected() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrBrowserUnavailable
	}

	if p.browser != nil && p.browser.IsConnected() {
		p.state = StateConnected

		return nil
	}

	p.state = StateConnecting

	if p.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			p.state = StateDisconnected

			return fmt.Errorf("playwright run: %w", err)
		}

		p.pw = pw
	}

	var (
		browser playwright.Browser
		err     error
	)

	if p.opts.WSEndpoint != "" {
		browser, err = p.pw.Chromium.Connect(p.opts.WSEndpoint)
	} else {
		browser, err = p.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(true),
		})
	}

	if err != nil {
		p.state = StateDisconnected

		return fmt.Errorf("browser connect: %w", err)
	}

	p.browser = browser
	p.state = StateConnected

	p.log.Info().Bool("remote", p.opts.WSEndpoint != "").Msg("browser session established")

	return nil
}

func (p *Pool) newPage(opts PageOptions) (*Page, error) {
	p.mu.Lock()
	browser := p.browser
	p.mu.Unlock()

	if browser == nil {
		return nil, ErrBrowserUnavailable
	}

	pwPage, err := browser.NewPage()
	if err != nil {
		return nil, err
	}

	pwPage.SetDefaultNavigationTimeout(defaultNavTimeoutMs)

	if err := installInterception(pwPage, opts); err != nil {
		_ = pwPage.Close()

		return nil, err
	}

	return &Page{pw: pwPage, pool: p, alive: true}, nil
}

func installInterception(page playwright.Page, opts PageOptions) error {
	blocked := map[string]bool{
		"image": true,
		"font":  true,
		"media": true,
	}

	if !opts.AllowStylesheets {
		blocked["stylesheet"] = true
	}

	return page.Route("**/*", func(route playwright.Route) {
		req := route.Request()

		if blocked[req.ResourceType()] {
			_ = route.Abort()

			return
		}

		if opts.BlockThirdParty {
			rt := req.ResourceType()
			if rt == "script" || rt == "xhr" || rt == "fetch" {
				if !sameHost(page.URL(), req.URL()) {
					_ = route.Abort()

					return
				}
			}
		}

		_ = route.Continue()
	})
}

func sameHost(docURL, reqURL string) bool {
	d, err := url.Parse(docURL)
	if err != nil {
		return true
	}

	r, err := url.Parse(reqURL)
	if err != nil {
		return true
	}

	if d.Host == "" || r.Host == "" {
		return true
	}

	return strings.EqualFold(stripWWW(d.Host), stripWWW(r.Host))
}

func stripWWW(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}

// ReleasePage closes the page and frees its slot. Pages are not
// recycled between jobs to avoid cross-contamination.
func (p *Pool) ReleasePage(page *Page) {
	if page == nil {
		return
	}

	_ = page.pw.Close()
	p.sem.Release(1)
}

func (p *Pool) dropSession() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}

	p.state = StateDegraded
}

// Shutdown closes the browser and the playwright driver. It is
// idempotent and must run on process termination signals.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	p.state = StateDisconnected

	if p.browser != nil {
		_ = p.browser.Close()
		p.browser = nil
	}

	if p.pw != nil {
		_ = p.pw.Stop()
		p.pw = nil
	}

	p.log.Info().Msg("browser pool shut down")
}

// connection-class error markers observed from the renderer protocol
var connectionErrMarkers = []string{
	"target closed",
	"session not found",
	"frame detached",
	"navigation timeout",
	"websocket",
	"browser has been closed",
	"connection closed",
	"execution context was destroyed",
}

// IsConnectionError classifies protocol-level failures that warrant a
// session rebuild, as opposed to page-local errors that only cost the
// current item.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())

	for _, m := range connectionErrMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}
