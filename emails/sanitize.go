package emails

import (
	"regexp"
	"strings"

	emailaddress "github.com/mcnijman/go-emailaddress"
	"golang.org/x/net/publicsuffix"
)

// resourceTLDs are file extensions that the text regex mistakes for
// domains, e.g. "logo@2x.png".
var resourceTLDs = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "webp": true,
	"svg": true, "ico": true, "css": true, "js": true, "json": true,
	"pdf": true, "zip": true, "mp4": true, "webm": true, "woff": true,
	"woff2": true, "ttf": true, "eot": true, "html": true, "htm": true,
	"php": true, "aspx": true,
}

// longTLDs admits real TLDs longer than six letters.
var longTLDs = map[string]bool{
	"accountant": true, "accountants": true, "associates": true,
	"bargains": true, "boutique": true, "business": true,
	"computer": true, "construction": true, "consulting": true,
	"delivery": true, "dental": true, "education": true,
	"engineering": true, "financial": true, "fitness": true,
	"graphics": true, "healthcare": true, "holdings": true,
	"industries": true, "institute": true, "insurance": true,
	"international": true, "marketing": true, "photography": true,
	"plumbing": true, "productions": true, "properties": true,
	"restaurant": true, "services": true, "solutions": true,
	"technology": true, "ventures": true, "veterinary": true,
}

var (
	phoneLikeRe = regexp.MustCompile(`\d{3,4}-?\d{4}`)
	zipPrefixRe = regexp.MustCompile(`^\d{5}`)
	tldRe       = regexp.MustCompile(`^[A-Za-z]{2,}$`)
)

// Sanitize filters raw candidates down to plausible addresses,
// lowercases and dedupes them, and orders addresses on the business's
// own registrable domain first. siteURL may be empty.
func Sanitize(candidates []string, siteURL string) []string {
	siteDomain := registrableDomain(hostOf(siteURL))

	seen := make(map[string]bool, len(candidates))

	var onSite, offSite []string

	for _, raw := range candidates {
		addr, ok := sanitizeOne(raw)
		if !ok || seen[addr] {
			continue
		}

		seen[addr] = true

		domain := addr[strings.LastIndex(addr, "@")+1:]
		if siteDomain != "" && registrableDomain(domain) == siteDomain {
			onSite = append(onSite, addr)
		} else {
			offSite = append(offSite, addr)
		}
	}

	return append(onSite, offSite...)
}

func sanitizeOne(raw string) (string, bool) {
	raw = strings.Trim(strings.TrimSpace(raw), ".,;:<>()[]\"'")

	addr, err := emailaddress.Parse(strings.ToLower(raw))
	if err != nil {
		return "", false
	}

	local, domain := addr.LocalPart, addr.Domain

	alpha, digits := 0, 0

	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z':
			alpha++
		case r >= '0' && r <= '9':
			digits++
		}
	}

	// Two alpha characters minimum and not digit-dominated; junk like
	// "2x@..." and tracking IDs fail here.
	if alpha < 2 || digits*2 > len(local) {
		return "", false
	}

	if phoneLikeRe.MatchString(local) || zipPrefixRe.MatchString(local) {
		return "", false
	}

	tld := domain[strings.LastIndex(domain, ".")+1:]
	if !tldRe.MatchString(tld) {
		return "", false
	}

	if resourceTLDs[tld] {
		return "", false
	}

	if len(tld) > 6 && !longTLDs[tld] {
		return "", false
	}

	return local + "@" + domain, true
}

func hostOf(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	s := rawURL
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}

	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}

	if i := strings.Index(s, "@"); i >= 0 {
		s = s[i+1:]
	}

	if i := strings.Index(s, ":"); i >= 0 {
		s = s[:i]
	}

	return strings.TrimPrefix(strings.ToLower(s), "www.")
}

// registrableDomain collapses a host to its eTLD+1 so that
// mail@sub.example.co.uk groups with example.co.uk.
func registrableDomain(host string) string {
	if host == "" {
		return ""
	}

	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}

	return d
}
