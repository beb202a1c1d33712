package gmaps

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ReviewTimeRange selects reviews whose (approximate) date falls within
// [From, To]. Zero bounds are open.
type ReviewTimeRange struct {
	From time.Time `json:"from,omitempty"`
	To   time.Time `json:"to,omitempty"`
}

func (r ReviewTimeRange) contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}

	if !r.To.IsZero() && t.After(r.To) {
		return false
	}

	return true
}

const reviewJS = `() => {
	const out = [];
	document.querySelectorAll("div[data-review-id]").forEach(card => {
		const textEl = card.querySelector("span[class*='text'], span[jsan]") || card.querySelector('span');
		const stars = card.querySelector("span[role='img']");
		let when = '';
		card.querySelectorAll('span').forEach(s => {
			const t = (s.textContent || '').trim();
			if (!when && /ago$/.test(t)) { when = t; }
		});
		out.push({
			text: textEl ? (textEl.textContent || '').trim() : '',
			label: stars ? (stars.getAttribute('aria-label') || '') : '',
			when: when,
		});
	});
	return out;
}`

// HarvestReviews pulls the visible reviews off a rendered detail page
// and keeps only those within the requested time range. Review dates on
// the page are relative ("3 months ago"); they are resolved against now
// and are therefore approximate.
func HarvestReviews(_ context.Context, page Evaluator, rng ReviewTimeRange, now time.Time) []FilteredReview {
	res, err := page.Evaluate(reviewJS)
	if err != nil {
		return nil
	}

	items, ok := res.([]any)
	if !ok {
		return nil
	}

	var kept []FilteredReview

	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}

		text, _ := m["text"].(string)
		label, _ := m["label"].(string)
		when, _ := m["when"].(string)

		t, ok := resolveRelativeDate(when, now)
		if !ok || !rng.contains(t) {
			continue
		}

		rating := 0
		if r := parseRatingLabel(label); r != nil {
			rating = int(*r)
		}

		kept = append(kept, FilteredReview{
			Text:   strings.TrimSpace(text),
			Rating: rating,
			Date:   t.Format("2006-01-02"),
		})
	}

	return kept
}

var relativeDateRe = regexp.MustCompile(`(?i)^(a|an|\d+)\s+(day|week|month|year)s?\s+ago$`)

// resolveRelativeDate converts labels like "3 weeks ago" into an
// absolute time anchored at now.
func resolveRelativeDate(s string, now time.Time) (time.Time, bool) {
	m := relativeDateRe.FindStringSubmatch(strings.TrimSpace(s))
	if len(m) != 3 {
		return time.Time{}, false
	}

	n := 1
	if m[1] != "a" && m[1] != "an" && m[1] != "A" && m[1] != "An" {
		v, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}

		n = v
	}

	switch strings.ToLower(m[2]) {
	case "day":
		return now.AddDate(0, 0, -n), true
	case "week":
		return now.AddDate(0, 0, -7*n), true
	case "month":
		return now.AddDate(0, -n, 0), true
	case "year":
		return now.AddDate(-n, 0, 0), true
	}

	return time.Time{}, false
}
