package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/sadewadee/mapharvest/pkg/resilience"
)

// FetcherOptions tune the fetch-driven harvester, which delegates
// rendering to a remote content endpoint instead of a local page.
type FetcherOptions struct {
	Endpoint    string        // base URL of the rendering service
	Token       string        // access token, passed as a query param
	Timeout     time.Duration // per-request, default 30s
	MaxPages    int           // priority pages beyond the homepage, default 5
	Parallelism int           // concurrent page fetches per site, default 3
}

func (o *FetcherOptions) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}

	if o.MaxPages <= 0 {
		o.MaxPages = 5
	}

	if o.Parallelism <= 0 {
		o.Parallelism = 3
	}
}

// Fetcher harvests a site through the rendering service's /content
// endpoint. It is the cheap path when a local browser is not warranted.
type Fetcher struct {
	opts    FetcherOptions
	client  *http.Client
	retryer *resilience.Retryer
	breaker *resilience.Breaker
}

func NewFetcher(opts FetcherOptions) *Fetcher {
	opts.defaults()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 60 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     60 * time.Second,
	}

	return &Fetcher{
		opts: opts,
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		// 2s, 4s, 8s between the four attempts.
		retryer: resilience.NewRetryer(resilience.RetryConfig{
			MaxAttempts:   4,
			InitialDelay:  2 * time.Second,
			MaxDelay:      8 * time.Second,
			BackoffFactor: 2.0,
			RetryableErrors: []error{
				resilience.ErrTimeout,
				resilience.ErrServiceUnavailable,
			},
		}),
		// A rendering service that fails this often is down; stop
		// hammering it for a while.
		breaker: resilience.NewBreaker(20, time.Minute),
	}
}

type contentRequest struct {
	URL         string            `json:"url"`
	GotoOptions map[string]any    `json:"gotoOptions,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Harvest fetches the homepage, picks priority pages off its links and
// fetches those in parallel, then sanitizes the combined candidates.
func (f *Fetcher) Harvest(ctx context.Context, siteURL string) Result {
	var res Result

	html, err := f.fetchContent(ctx, siteURL)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("homepage %s: %v", siteURL, err))

		return res
	}

	res.PagesVisited++
	res.Visited = append(res.Visited, siteURL)

	var (
		mu         sync.Mutex
		candidates = ExtractFromHTML(html)
	)

	// A homepage that already yields addresses makes the priority crawl
	// redundant.
	if found := Sanitize(candidates, siteURL); len(found) > 0 {
		res.Emails = found

		return res
	}

	pages := PriorityPages(siteURL, hrefsFromHTML(html), f.opts.MaxPages)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)

	for _, pageURL := range pages {
		g.Go(func() error {
			html, err := f.fetchContent(gctx, pageURL)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("page %s: %v", pageURL, err))

				// Page failures cost only that page.
				return nil
			}

			res.PagesVisited++
			res.Visited = append(res.Visited, pageURL)
			candidates = append(candidates, ExtractFromHTML(html)...)

			return nil
		})
	}

	_ = g.Wait()

	res.Emails = Sanitize(candidates, siteURL)

	return res
}

// fetchContent POSTs one URL to the rendering service and returns the
// rendered HTML. Server-side errors and timeouts are retried with
// exponential backoff; client errors are not.
func (f *Fetcher) fetchContent(ctx context.Context, pageURL string) (string, error) {
	var html string

	err := f.retryer.Execute(ctx, func() error {
		return f.breaker.Do(func() error {
			var err error
			html, err = f.postContent(ctx, pageURL)

			return err
		})
	})

	return html, err
}

func (f *Fetcher) postContent(ctx context.Context, pageURL string) (string, error) {
	body, err := json.Marshal(contentRequest{
		URL: pageURL,
		GotoOptions: map[string]any{
			"waitUntil": "domcontentloaded",
			"timeout":   f.opts.Timeout.Milliseconds(),
		},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/content?token=%s", f.opts.Endpoint, f.opts.Token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("%w: %v", resilience.ErrTimeout, err)
		}

		return "", fmt.Errorf("%w: %v", resilience.ErrNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", fmt.Errorf("%w: status %d", resilience.ErrServiceUnavailable, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("content endpoint: status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return "", fmt.Errorf("%w: %v", resilience.ErrNetworkError, err)
	}

	return string(raw), nil
}

// hrefsFromHTML pulls anchor targets out of static HTML so the fetch
// path can pick priority pages without a DOM.
func hrefsFromHTML(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var hrefs []string

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})

	return hrefs
}
