package gmaps

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rs/zerolog"
)

// DetailPage is the slice of a rendered page the detail extractor
// drives. playwright.Page satisfies it.
type DetailPage interface {
	Evaluator
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
	URL() string
}

// ExtractorOptions tune the detail extractor.
type ExtractorOptions struct {
	NavTimeout  time.Duration // navigation, default 15s
	EvalTimeout time.Duration // DOM evaluation race, default 10s
}

func (o *ExtractorOptions) defaults() {
	if o.NavTimeout <= 0 {
		o.NavTimeout = 15 * time.Second
	}

	if o.EvalTimeout <= 0 {
		o.EvalTimeout = 10 * time.Second
	}
}

// detailJS pulls every field in one pass. The website cascade tries the
// authority link, then any link labelled Website, then the first action
// link pointing at a plausible external domain, then the owner's link.
const detailJS = `() => {
	const attr = (sel, name) => {
		const el = document.querySelector(sel);
		return el ? (el.getAttribute(name) || '') : '';
	};
	const text = (sel) => {
		const el = document.querySelector(sel);
		return el ? (el.textContent || '').trim() : '';
	};

	const out = {};
	out.name = text('h1');
	out.category = text("button[jsaction*='category']");

	const stars = document.querySelector("div[role='main'] span[role='img']");
	out.ratingLabel = stars ? (stars.getAttribute('aria-label') || '') : '';
	let reviewLabel = '';
	document.querySelectorAll("div[role='main'] [aria-label]").forEach(el => {
		const l = el.getAttribute('aria-label') || '';
		if (!reviewLabel && /review/i.test(l) && /\d/.test(l)) { reviewLabel = l; }
	});
	out.reviewLabel = reviewLabel;

	let phone = attr("button[data-item-id^='phone:tel:']", 'data-item-id');
	if (phone) { phone = phone.replace(/^phone:tel:/, ''); }
	if (!phone) {
		const tel = document.querySelector("a[href^='tel:']");
		if (tel) { phone = (tel.getAttribute('href') || '').replace(/^tel:/, ''); }
	}
	out.phone = phone;

	let address = attr("button[data-item-id='address']", 'aria-label');
	address = address.replace(/^Address:\s*/i, '');
	out.address = address;

	const isExternal = (href) => {
		if (!/^https?:\/\//i.test(href)) { return false; }
		try {
			const h = new URL(href).hostname;
			return h.indexOf('google.') === -1 && h.indexOf('gstatic.') === -1 && h.indexOf('.') !== -1;
		} catch (e) { return false; }
	};

	let website = attr("a[data-item-id='authority']", 'href');
	if (!website) {
		for (const a of document.querySelectorAll('a[aria-label]')) {
			const l = a.getAttribute('aria-label') || '';
			if (/^Website/i.test(l) || l.indexOf('Website') !== -1) {
				const href = a.getAttribute('href') || '';
				if (href) { website = href; break; }
			}
		}
	}
	if (!website) {
		for (const a of document.querySelectorAll("a[data-item-id^='action']")) {
			const href = a.getAttribute('href') || '';
			if (isExternal(href)) { website = href; break; }
		}
	}
	if (!website) {
		const owner = document.querySelector("a[data-item-id*='owner']");
		if (owner) {
			const href = owner.getAttribute('href') || '';
			if (isExternal(href)) { website = href; }
		}
	}
	out.website = website;

	return out;
}`

// Extractor navigates detail URLs and produces Business records.
type Extractor struct {
	opts ExtractorOptions
}

func NewExtractor(opts ExtractorOptions) *Extractor {
	opts.defaults()

	return &Extractor{opts: opts}
}

// Extract returns the record for one detail URL, or nil on every
// failure path (navigation error, evaluation error, timeout, missing
// name). Listings that come back nil are dropped, not retried here.
func (e *Extractor) Extract(ctx context.Context, page DetailPage, detailURL string) *Business {
	log := zerolog.Ctx(ctx)

	_, err := page.Goto(detailURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(e.opts.NavTimeout.Milliseconds())),
	})
	if err != nil {
		log.Debug().Err(err).Str("url", detailURL).Msg("detail navigation failed")

		return nil
	}

	type evalOut struct {
		res any
		err error
	}

	ch := make(chan evalOut, 1)

	go func() {
		defer func() { _ = recover() }()

		res, evalErr := page.Evaluate(detailJS)
		ch <- evalOut{res: res, err: evalErr}
	}()

	var res any

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(e.opts.EvalTimeout):
		log.Debug().Str("url", detailURL).Msg("detail evaluation timed out")

		return nil
	case out := <-ch:
		if out.err != nil {
			log.Debug().Err(out.err).Str("url", detailURL).Msg("detail evaluation failed")

			return nil
		}

		res = out.res
	}

	m, ok := res.(map[string]any)
	if !ok {
		return nil
	}

	b := recordFromDetail(m, page.URL(), detailURL)
	if b == nil || b.Name == "" {
		return nil
	}

	return b
}

func recordFromDetail(m map[string]any, pageURL, detailURL string) *Business {
	str := func(k string) string {
		s, _ := m[k].(string)

		return strings.TrimSpace(s)
	}

	b := &Business{
		Name:       str("name"),
		Category:   str("category"),
		Address:    str("address"),
		DetailURL:  detailURL,
		SearchType: SearchTypeLiteral,
	}

	if phone := str("phone"); phone != "" {
		b.Phone = &phone
	}

	if site := UnwrapRedirect(str("website")); site != "" && strings.HasPrefix(site, "http") {
		b.Website = &site
	}

	b.Rating = parseRatingLabel(str("ratingLabel"))

	if rc := parseReviewCountLabel(str("reviewLabel")); rc != nil {
		b.RatingCount = strconv.Itoa(*rc)
	}

	// The page URL embeds the coordinate tuple; it is authoritative
	// over anything in the DOM.
	b.Latitude, b.Longitude = CoordinatesFromURL(pageURL)
	if b.Latitude == nil {
		b.Latitude, b.Longitude = CoordinatesFromURL(detailURL)
	}

	b.DerivePlusCode()

	return b
}
