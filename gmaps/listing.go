package gmaps

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Listing is one result card on the search page. Rating and review
// count come from the stars' accessible label and may be absent.
type Listing struct {
	URL         string
	Name        string
	Rating      *float64
	ReviewCount *int
}

const listingJS = `() => {
	const out = [];
	document.querySelectorAll("div[role='feed'] div[jsaction]>a").forEach(a => {
		const href = a.getAttribute('href') || '';
		if (!href) { return; }
		const card = a.closest('div[jsaction]');
		let label = '';
		let name = a.getAttribute('aria-label') || '';
		if (card) {
			const stars = card.querySelector("span[role='img']");
			if (stars) { label = stars.getAttribute('aria-label') || ''; }
		}
		out.push({ href: href, label: label, name: name });
	});
	return out;
}`

// HarvestListings extracts every listing card from a rendered, scrolled
// search page.
func HarvestListings(_ context.Context, page Evaluator) ([]Listing, error) {
	res, err := page.Evaluate(listingJS)
	if err != nil {
		return nil, fmt.Errorf("listing harvest: %w", err)
	}

	items, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("listing harvest: unexpected result type %T", res)
	}

	listings := make([]Listing, 0, len(items))

	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}

		href, _ := m["href"].(string)
		if href == "" {
			continue
		}

		label, _ := m["label"].(string)
		name, _ := m["name"].(string)

		l := Listing{
			URL:  href,
			Name: strings.TrimSpace(name),
		}

		l.Rating = parseRatingLabel(label)
		l.ReviewCount = parseReviewCountLabel(label)

		listings = append(listings, l)
	}

	return listings, nil
}

// FilterListings applies the rating and review-count filters at the
// listing stage to shrink the work set. Items with a filterable
// attribute missing are kept only when the filter itself is absent.
// It returns the survivors and the total pre-filter count.
func FilterListings(listings []Listing, rating *RatingFilter, reviews *ReviewCountFilter) (kept []Listing, total int) {
	total = len(listings)
	kept = make([]Listing, 0, total)

	for _, l := range listings {
		if rating != nil {
			if l.Rating == nil || !rating.Matches(*l.Rating) {
				continue
			}
		}

		if reviews != nil {
			if l.ReviewCount == nil || !reviews.Matches(*l.ReviewCount) {
				continue
			}
		}

		kept = append(kept, l)
	}

	return kept, total
}

var (
	// Numeric prefix of the stars' accessible label, e.g. "4.5 stars".
	ratingPrefixRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)`)
	// Fallback: strip everything but the leading digits anywhere in the label.
	ratingAnyRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	reviewCountRe = regexp.MustCompile(`(\d[\d,.]*)\s*[Rr]eview`)
)

// parseRatingLabel reads the rating from an accessible label. The
// numeric prefix is canonical; a scan anywhere in the label is a
// fallback only when the prefix is absent. No locale-aware parsing.
func parseRatingLabel(label string) *float64 {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil
	}

	m := ratingPrefixRe.FindString(label)
	if m == "" {
		m = ratingAnyRe.FindString(label)
	}

	if m == "" {
		return nil
	}

	v, err := strconv.ParseFloat(m, 64)
	if err != nil || v < 0 || v > 5 {
		return nil
	}

	return &v
}

func parseReviewCountLabel(label string) *int {
	m := reviewCountRe.FindStringSubmatch(label)
	if len(m) != 2 {
		return nil
	}

	digits := strings.NewReplacer(",", "", ".", "").Replace(m[1])

	v, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}

	return &v
}
