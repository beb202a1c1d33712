package emails

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"

	"github.com/sadewadee/mapharvest/browser"
)

// RenderPage is the slice of a rendered page the harvester drives.
// playwright.Page satisfies it.
type RenderPage interface {
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	Content() (string, error)
	Evaluate(expression string, arg ...any) (any, error)
}

// PagePool hands out render pages. The returned func releases the page;
// it must be called exactly once.
type PagePool interface {
	Acquire(ctx context.Context) (RenderPage, func(), error)
}

// PlaywrightPool adapts the browser pool to PagePool. Harvester pages
// keep stylesheets so visibility-dependent obfuscation resolves.
type PlaywrightPool struct {
	Pool *browser.Pool
}

func (p *PlaywrightPool) Acquire(ctx context.Context) (RenderPage, func(), error) {
	page, err := p.Pool.AcquirePage(ctx, browser.PageOptions{
		AllowStylesheets: true,
		BlockThirdParty:  true,
	})
	if err != nil {
		return nil, nil, err
	}

	return page.Raw(), func() { p.Pool.ReleasePage(page) }, nil
}

// HarvesterOptions tune the render-driven harvester.
type HarvesterOptions struct {
	MaxPages    int           // priority pages beyond the homepage, default 4
	SiteBudget  time.Duration // whole-site wall clock, default 60s
	PageTimeout time.Duration // per-page navigation, default 35s
	Settle      time.Duration // post-navigation settle, default 1s
	RetryWait   time.Duration // pool-recovery wait before the single retry, default 15s
	Concurrency int           // concurrent sites, default 4
}

func (o *HarvesterOptions) defaults() {
	if o.MaxPages <= 0 {
		o.MaxPages = 4
	}

	if o.SiteBudget <= 0 {
		o.SiteBudget = 60 * time.Second
	}

	if o.PageTimeout <= 0 {
		o.PageTimeout = 35 * time.Second
	}

	if o.Settle <= 0 {
		o.Settle = time.Second
	}

	if o.RetryWait <= 0 {
		o.RetryWait = 15 * time.Second
	}

	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
}

// Result is the outcome of harvesting one site.
type Result struct {
	Emails       []string
	PagesVisited int
	Visited      []string
	Errors       []string
}

// Harvester renders a site's homepage plus its top contact-likely pages
// and extracts addresses from the live DOM.
type Harvester struct {
	pool PagePool
	opts HarvesterOptions
	slot chan struct{}
}

func NewHarvester(pool PagePool, opts HarvesterOptions) *Harvester {
	opts.defaults()

	return &Harvester{
		pool: pool,
		opts: opts,
		slot: make(chan struct{}, opts.Concurrency),
	}
}

const hrefsJS = `() => {
	const out = [];
	document.querySelectorAll('a[href]').forEach(a => out.push(a.getAttribute('href') || ''));
	return out;
}`

// Harvest extracts addresses for one site. A site where the browser
// died mid-harvest with nothing found gets one retry after a recovery
// wait; every other failure mode returns whatever was collected.
func (h *Harvester) Harvest(ctx context.Context, siteURL string) Result {
	select {
	case h.slot <- struct{}{}:
		defer func() { <-h.slot }()
	case <-ctx.Done():
		return Result{Errors: []string{ctx.Err().Error()}}
	}

	res, browserDied := h.harvestOnce(ctx, siteURL)
	if len(res.Emails) > 0 || !browserDied {
		return res
	}

	zerolog.Ctx(ctx).Warn().Str("site", siteURL).Msg("browser lost mid-harvest, retrying site once")

	select {
	case <-ctx.Done():
		return res
	case <-time.After(h.opts.RetryWait):
	}

	retry, _ := h.harvestOnce(ctx, siteURL)
	retry.Errors = append(res.Errors, retry.Errors...)

	return retry
}

func (h *Harvester) harvestOnce(ctx context.Context, siteURL string) (Result, bool) {
	var res Result

	budget, cancel := context.WithTimeout(ctx, h.opts.SiteBudget)
	defer cancel()

	page, release, err := h.pool.Acquire(budget)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("acquire page: %v", err))

		return res, browser.IsConnectionError(err)
	}
	defer release()

	var candidates []string

	html, hrefs, err := h.renderPage(budget, page, siteURL)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("homepage %s: %v", siteURL, err))

		return res, browser.IsConnectionError(err)
	}

	res.PagesVisited++
	res.Visited = append(res.Visited, siteURL)
	candidates = append(candidates, ExtractFromHTML(html)...)

	// A homepage that already yields addresses makes the priority crawl
	// redundant.
	if found := Sanitize(candidates, siteURL); len(found) > 0 {
		res.Emails = found

		return res, false
	}

	browserDied := false

	for _, pageURL := range PriorityPages(siteURL, hrefs, h.opts.MaxPages) {
		if budget.Err() != nil {
			res.Errors = append(res.Errors, "site budget exhausted")

			break
		}

		html, _, err := h.renderPage(budget, page, pageURL)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("page %s: %v", pageURL, err))

			if browser.IsConnectionError(err) {
				browserDied = true

				break
			}

			continue
		}

		res.PagesVisited++
		res.Visited = append(res.Visited, pageURL)
		candidates = append(candidates, ExtractFromHTML(html)...)
	}

	res.Emails = Sanitize(candidates, siteURL)

	return res, browserDied
}

func (h *Harvester) renderPage(ctx context.Context, page RenderPage, pageURL string) (html string, hrefs []string, err error) {
	_, err = page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(h.opts.PageTimeout.Milliseconds())),
	})
	if err != nil {
		return "", nil, err
	}

	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-time.After(h.opts.Settle):
	}

	html, err = page.Content()
	if err != nil {
		return "", nil, err
	}

	if res, evalErr := page.Evaluate(hrefsJS); evalErr == nil {
		if items, ok := res.([]any); ok {
			for _, it := range items {
				if s, ok := it.(string); ok {
					hrefs = append(hrefs, s)
				}
			}
		}
	}

	return html, hrefs, nil
}
