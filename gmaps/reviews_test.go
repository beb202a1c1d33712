package gmaps

import (
	"context"
	"testing"
	"time"
)

func TestResolveRelativeDate(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"3 days ago", now.AddDate(0, 0, -3), true},
		{"a week ago", now.AddDate(0, 0, -7), true},
		{"2 weeks ago", now.AddDate(0, 0, -14), true},
		{"a month ago", now.AddDate(0, -1, 0), true},
		{"11 months ago", now.AddDate(0, -11, 0), true},
		{"A year ago", now.AddDate(-1, 0, 0), true},
		{"just now", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, c := range cases {
		got, ok := resolveRelativeDate(c.in, now)
		if ok != c.ok {
			t.Fatalf("%q: ok = %v, want %v", c.in, ok, c.ok)
		}

		if ok && !got.Equal(c.want) {
			t.Fatalf("%q: got %s, want %s", c.in, got, c.want)
		}
	}
}

func TestHarvestReviewsTimeRange(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	page := &fakeEvaluator{results: []any{
		[]any{
			map[string]any{"text": "great", "label": "5 stars", "when": "2 weeks ago"},
			map[string]any{"text": "old", "label": "4 stars", "when": "2 years ago"},
			map[string]any{"text": "undated", "label": "3 stars", "when": ""},
		},
	}}

	rng := ReviewTimeRange{From: now.AddDate(0, -6, 0)}

	kept := HarvestReviews(context.Background(), page, rng, now)

	if len(kept) != 1 {
		t.Fatalf("expected 1 review inside the range, got %d", len(kept))
	}

	r := kept[0]
	if r.Text != "great" || r.Rating != 5 {
		t.Fatalf("kept the wrong review: %+v", r)
	}

	if r.Date != now.AddDate(0, 0, -14).Format("2006-01-02") {
		t.Fatalf("date resolved wrong: %s", r.Date)
	}
}

func TestHarvestReviewsEvaluateErrorIsEmpty(t *testing.T) {
	page := &fakeEvaluator{}

	if kept := HarvestReviews(context.Background(), page, ReviewTimeRange{}, time.Now()); kept != nil {
		t.Fatalf("expected nil on evaluate error, got %v", kept)
	}
}

func TestReviewTimeRangeContains(t *testing.T) {
	now := time.Now()

	open := ReviewTimeRange{}
	if !open.contains(now.AddDate(-10, 0, 0)) {
		t.Fatalf("open range must contain everything")
	}

	bounded := ReviewTimeRange{From: now.AddDate(0, -1, 0), To: now}
	if bounded.contains(now.AddDate(0, -2, 0)) {
		t.Fatalf("date before From must be excluded")
	}

	if bounded.contains(now.Add(time.Hour)) {
		t.Fatalf("date after To must be excluded")
	}
}
