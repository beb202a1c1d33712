package emails

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRenderPage serves canned HTML per URL.
type fakeRenderPage struct {
	pages    map[string]string
	gotoErrs map[string]error
	current  string
	visited  []string
}

func (f *fakeRenderPage) Goto(u string, _ ...playwright.PageGotoOptions) (playwright.Response, error) {
	if err := f.gotoErrs[u]; err != nil {
		return nil, err
	}

	f.current = u
	f.visited = append(f.visited, u)

	return nil, nil
}

func (f *fakeRenderPage) Content() (string, error) {
	return f.pages[f.current], nil
}

func (f *fakeRenderPage) Evaluate(string, ...any) (any, error) {
	// Hrefs come out of the HTML in the real flow; the fake lists every
	// known page.
	var out []any
	for u := range f.pages {
		out = append(out, u)
	}

	return out, nil
}

type fakePagePool struct {
	page       RenderPage
	acquireErr error
	releases   int
}

func (f *fakePagePool) Acquire(context.Context) (RenderPage, func(), error) {
	if f.acquireErr != nil {
		return nil, nil, f.acquireErr
	}

	return f.page, func() { f.releases++ }, nil
}

func fastHarvesterOptions() HarvesterOptions {
	return HarvesterOptions{
		MaxPages:    4,
		SiteBudget:  5 * time.Second,
		PageTimeout: time.Second,
		Settle:      time.Millisecond,
		RetryWait:   time.Millisecond,
		Concurrency: 1,
	}
}

func TestHarvestWalksPriorityPages(t *testing.T) {
	page := &fakeRenderPage{pages: map[string]string{
		"https://example.com":         `<html><body>home</body></html>`,
		"https://example.com/contact": `<html><body>write hello@example.com</body></html>`,
		"https://example.com/about":   `<html><body>about partner@other.org</body></html>`,
	}}

	pool := &fakePagePool{page: page}
	h := NewHarvester(pool, fastHarvesterOptions())

	res := h.Harvest(context.Background(), "https://example.com")

	require.NotEmpty(t, res.Emails)

	// Own-domain address sorts first.
	assert.Equal(t, "hello@example.com", res.Emails[0])
	assert.Contains(t, res.Emails, "partner@other.org")
	assert.Equal(t, 3, res.PagesVisited)
	assert.Equal(t, 1, pool.releases)
}

func TestHarvestStopsWhenHomepageYields(t *testing.T) {
	page := &fakeRenderPage{pages: map[string]string{
		"https://example.test":         `<html><body><a href="mailto:owner@example.test">mail</a><a href="/contact">contact</a></body></html>`,
		"https://example.test/contact": `<html><body>other@example.test</body></html>`,
	}}

	h := NewHarvester(&fakePagePool{page: page}, fastHarvesterOptions())

	res := h.Harvest(context.Background(), "https://example.test")

	assert.Equal(t, []string{"owner@example.test"}, res.Emails)
	assert.Equal(t, []string{"https://example.test"}, res.Visited)
	assert.Equal(t, 1, res.PagesVisited)
}

func TestHarvestAbsorbsPageErrors(t *testing.T) {
	page := &fakeRenderPage{
		pages: map[string]string{
			"https://example.com":         `<html><body>ok</body></html>`,
			"https://example.com/contact": `<html><body>hello@example.com</body></html>`,
			"https://example.com/about":   ``,
		},
		gotoErrs: map[string]error{
			"https://example.com/about": errors.New("net::ERR_TIMED_OUT"),
		},
	}

	h := NewHarvester(&fakePagePool{page: page}, fastHarvesterOptions())

	res := h.Harvest(context.Background(), "https://example.com")

	assert.Contains(t, res.Emails, "hello@example.com")
	assert.NotEmpty(t, res.Errors)
}

func TestHarvestAcquireFailure(t *testing.T) {
	h := NewHarvester(&fakePagePool{acquireErr: errors.New("pool exhausted")}, fastHarvesterOptions())

	res := h.Harvest(context.Background(), "https://example.com")

	assert.Empty(t, res.Emails)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "acquire page")
}

func TestHarvestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewHarvester(&fakePagePool{page: &fakeRenderPage{}}, HarvesterOptions{Concurrency: 1})

	// Fill the only slot so the cancelled context is the exit path.
	h.slot <- struct{}{}

	res := h.Harvest(ctx, "https://example.com")

	assert.Empty(t, res.Emails)
	assert.NotEmpty(t, res.Errors)
}
