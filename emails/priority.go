// Package emails harvests contact addresses from business websites.
// Extraction runs over rendered (or fetched) HTML; the same extractor
// serves both the render-driven harvester and the fetch-driven one.
package emails

import (
	"net/url"
	"sort"
	"strings"
)

// priorityWeights score internal links by how likely their path is to
// carry contact details. Higher wins.
var priorityWeights = []struct {
	token  string
	weight int
}{
	{"contact", 150},
	{"reach", 140},
	{"get-in-touch", 140},
	{"getintouch", 140},
	{"connect", 130},
	{"impressum", 120},
	{"support", 70},
	{"help", 65},
	{"team", 40},
	{"about", 35},
	{"privacy", 20},
	{"legal", 20},
}

// scoreLink returns the priority weight of an internal link, 0 when no
// token matches.
func scoreLink(href string) int {
	href = strings.ToLower(href)

	best := 0

	for _, pw := range priorityWeights {
		if strings.Contains(href, pw.token) && pw.weight > best {
			best = pw.weight
		}
	}

	return best
}

// PriorityPages picks up to max same-site links off the homepage DOM,
// ordered by descending contact likelihood. baseURL anchors relative
// hrefs and bounds the candidates to the site itself.
func PriorityPages(baseURL string, hrefs []string, max int) []string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return nil
	}

	type cand struct {
		u     string
		score int
		order int
	}

	seen := map[string]bool{normalizePageURL(base.String()): true}

	var cands []cand

	for i, raw := range hrefs {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") ||
			strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "#") {
			continue
		}

		ref, err := url.Parse(raw)
		if err != nil {
			continue
		}

		abs := base.ResolveReference(ref)
		if !sameSite(base.Host, abs.Host) {
			continue
		}

		abs.Fragment = ""

		key := normalizePageURL(abs.String())
		if seen[key] {
			continue
		}

		score := scoreLink(abs.Path)
		if score == 0 {
			continue
		}

		seen[key] = true

		cands = append(cands, cand{u: abs.String(), score: score, order: i})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].score != cands[j].score {
			return cands[i].score > cands[j].score
		}

		return cands[i].order < cands[j].order
	})

	if max > 0 && len(cands) > max {
		cands = cands[:max]
	}

	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.u)
	}

	return out
}

func sameSite(baseHost, host string) bool {
	b := strings.TrimPrefix(strings.ToLower(baseHost), "www.")
	h := strings.TrimPrefix(strings.ToLower(host), "www.")

	return b == h
}

func normalizePageURL(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}
