package gmaps

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	olc "github.com/google/open-location-code/go"
)

// SearchTypeLiteral is the fixed search_type value stamped on every record.
const SearchTypeLiteral = "maps_search"

// VerificationMode describes how (or whether) the emails on a record
// were verified.
type VerificationMode string

const (
	VerificationVerified   VerificationMode = "verified"
	VerificationUnverified VerificationMode = "unverified"
	VerificationFallback   VerificationMode = "fallback"
)

// EmailVerification summarizes the verification pass over a record's emails.
type EmailVerification struct {
	Mode    VerificationMode `json:"mode"`
	Details []string         `json:"details,omitempty"`
}

// FilteredReview is a review that survived the requested time range.
type FilteredReview struct {
	Text   string `json:"text"`
	Rating int    `json:"rating"`
	Date   string `json:"date"`
}

// Business is the canonical record extracted from one detail page.
// Nullable fields are pointers so that absence is a first-class value.
// A record is immutable once appended to a job's result list.
type Business struct {
	Name        string   `json:"name"`
	Phone       *string  `json:"phone"`
	Website     *string  `json:"website"`
	Address     string   `json:"address"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	PlusCode    string   `json:"plus_code,omitempty"`
	Rating      *float64 `json:"rating"`
	RatingCount string   `json:"rating_count"`
	Category    string   `json:"category"`

	SearchTerm     string `json:"search_term"`
	SearchType     string `json:"search_type"`
	SearchLocation string `json:"search_location"`
	DetailURL      string `json:"detail_url"`

	// Emails and EmailStatus are parallel lists; indices correspond.
	Emails            []string          `json:"emails"`
	EmailStatus       []string          `json:"email_status"`
	EmailVerification EmailVerification `json:"email_verification"`

	FilteredReviews     []FilteredReview `json:"filtered_reviews,omitempty"`
	FilteredReviewCount int              `json:"filtered_review_count,omitempty"`
}

func (b *Business) Validate() error {
	if b.Name == "" {
		return fmt.Errorf("name is empty")
	}

	if b.DetailURL == "" {
		return fmt.Errorf("detail url is empty")
	}

	if len(b.Emails) != len(b.EmailStatus) {
		return fmt.Errorf("emails and email_status length mismatch: %d != %d", len(b.Emails), len(b.EmailStatus))
	}

	if b.Latitude != nil && (*b.Latitude < -90 || *b.Latitude > 90) {
		return fmt.Errorf("latitude out of range: %f", *b.Latitude)
	}

	if b.Longitude != nil && (*b.Longitude < -180 || *b.Longitude > 180) {
		return fmt.Errorf("longitude out of range: %f", *b.Longitude)
	}

	return nil
}

// DerivePlusCode fills PlusCode from the record coordinates when both
// are present. It never overwrites a plus code already set.
func (b *Business) DerivePlusCode() {
	if b.PlusCode != "" || b.Latitude == nil || b.Longitude == nil {
		return
	}

	b.PlusCode = olc.Encode(*b.Latitude, *b.Longitude, 10)
}

var coordRe = regexp.MustCompile(`!3d(-?\d+(?:\.\d+)?)!4d(-?\d+(?:\.\d+)?)`)

// CoordinatesFromURL parses the latitude/longitude tuple embedded in a
// detail-page URL path fragment (!3d<lat>!4d<lng>). This source is
// authoritative over any DOM-derived coordinate.
func CoordinatesFromURL(u string) (lat, lng *float64) {
	m := coordRe.FindStringSubmatch(u)
	if len(m) != 3 {
		return nil, nil
	}

	la, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, nil
	}

	lo, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return nil, nil
	}

	if la < -90 || la > 90 || lo < -180 || lo > 180 {
		return nil, nil
	}

	return &la, &lo
}

// UnwrapRedirect resolves URLs routed through the mapping service's
// redirector to the value of their `q` parameter. Other URLs are
// returned unchanged.
func UnwrapRedirect(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	if !strings.Contains(u.Host, "google.") || !strings.HasPrefix(u.Path, "/url") {
		return raw
	}

	if q := u.Query().Get("q"); q != "" {
		return q
	}

	return raw
}

// IsWebsiteValidForEmail reports whether the record's website is worth
// crawling for emails. Social and video platforms are skipped.
func (b *Business) IsWebsiteValidForEmail() bool {
	if b.Website == nil {
		return false
	}

	s := strings.ToLower(strings.TrimSpace(*b.Website))
	if s == "" {
		return false
	}

	block := []string{
		"facebook.com",
		"instagram.com",
		"twitter.com",
		"x.com",
		"tiktok.com",
		"youtube.com",
		"youtu.be",
	}

	for _, b := range block {
		if strings.Contains(s, b) {
			return false
		}
	}

	return true
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}

	return *p
}

func (b *Business) CsvHeaders() []string {
	h := []string{
		"name",
		"phone",
		"website",
		"address",
		"latitude",
		"longitude",
		"plus_code",
		"rating",
		"rating_count",
		"category",
		"search_term",
		"search_type",
		"search_location",
		"detail_url",
		"email",
	}

	return h
}

func (b *Business) CsvRow() []string {
	lat, lng := "", ""
	if b.Latitude != nil {
		lat = strconv.FormatFloat(*b.Latitude, 'f', -1, 64)
	}

	if b.Longitude != nil {
		lng = strconv.FormatFloat(*b.Longitude, 'f', -1, 64)
	}

	rating := ""
	if b.Rating != nil {
		rating = strconv.FormatFloat(*b.Rating, 'f', -1, 64)
	}

	return []string{
		b.Name,
		deref(b.Phone),
		deref(b.Website),
		b.Address,
		lat,
		lng,
		b.PlusCode,
		rating,
		b.RatingCount,
		b.Category,
		b.SearchTerm,
		b.SearchType,
		b.SearchLocation,
		b.DetailURL,
		strings.Join(b.Emails, ","),
	}
}
