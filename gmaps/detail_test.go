package gmaps

import (
	"context"
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
)

// fakeDetailPage satisfies DetailPage without a browser.
type fakeDetailPage struct {
	fakeEvaluator

	gotoErr error
	url     string
}

func (f *fakeDetailPage) Goto(string, ...playwright.PageGotoOptions) (playwright.Response, error) {
	return nil, f.gotoErr
}

func (f *fakeDetailPage) URL() string { return f.url }

func TestExtractBuildsRecord(t *testing.T) {
	page := &fakeDetailPage{
		url: "https://www.google.com/maps/place/Cafe/data=!3d-6.2087634!4d106.845599",
		fakeEvaluator: fakeEvaluator{results: []any{map[string]any{
			"name":        "Cafe Anda",
			"category":    "Coffee shop",
			"address":     "Jl. Sudirman 1",
			"phone":       "+62 21 555 0100",
			"website":     "https://www.google.com/url?q=https://cafeanda.example&sa=D",
			"ratingLabel": "4.6 stars",
			"reviewLabel": "312 reviews",
		}}},
	}

	rec := NewExtractor(ExtractorOptions{}).Extract(context.Background(), page, "https://maps.example/detail")
	if rec == nil {
		t.Fatalf("expected a record")
	}

	if rec.Name != "Cafe Anda" || rec.Category != "Coffee shop" {
		t.Fatalf("basic fields wrong: %+v", rec)
	}

	if rec.Phone == nil || *rec.Phone != "+62 21 555 0100" {
		t.Fatalf("phone wrong: %v", rec.Phone)
	}

	if rec.Website == nil || *rec.Website != "https://cafeanda.example" {
		t.Fatalf("redirector must be unwrapped, got %v", rec.Website)
	}

	if rec.Rating == nil || *rec.Rating != 4.6 || rec.RatingCount != "312" {
		t.Fatalf("rating wrong: %v %q", rec.Rating, rec.RatingCount)
	}

	if rec.Latitude == nil || *rec.Latitude != -6.2087634 {
		t.Fatalf("coordinates must come from the page url, got %v", rec.Latitude)
	}

	if rec.PlusCode == "" {
		t.Fatalf("plus code must be derived from coordinates")
	}

	if rec.SearchType != SearchTypeLiteral {
		t.Fatalf("search_type got %q", rec.SearchType)
	}
}

func TestExtractNilOnNavigationError(t *testing.T) {
	page := &fakeDetailPage{gotoErr: errors.New("net::ERR_FAILED")}

	if rec := NewExtractor(ExtractorOptions{}).Extract(context.Background(), page, "x"); rec != nil {
		t.Fatalf("expected nil on navigation failure")
	}
}

func TestExtractNilOnMissingName(t *testing.T) {
	page := &fakeDetailPage{
		fakeEvaluator: fakeEvaluator{results: []any{map[string]any{"name": ""}}},
	}

	if rec := NewExtractor(ExtractorOptions{}).Extract(context.Background(), page, "x"); rec != nil {
		t.Fatalf("expected nil when the page has no name")
	}
}

func TestExtractNilOnEvaluateError(t *testing.T) {
	page := &fakeDetailPage{
		fakeEvaluator: fakeEvaluator{errs: []error{errors.New("context destroyed")}},
	}

	if rec := NewExtractor(ExtractorOptions{}).Extract(context.Background(), page, "x"); rec != nil {
		t.Fatalf("expected nil on evaluation failure")
	}
}
