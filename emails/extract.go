package emails

import (
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// strictEmailRe requires word boundaries and a plain dot-atom form;
	// it is the first pass over visible text.
	strictEmailRe = regexp.MustCompile(`\b[A-Za-z0-9][A-Za-z0-9._%+-]*@[A-Za-z0-9][A-Za-z0-9.-]*\.[A-Za-z]{2,}\b`)
	// relaxedEmailRe additionally catches obfuscations like
	// "name (at) host (dot) com" and "name [at] host".
	relaxedEmailRe = regexp.MustCompile(`(?i)\b([A-Za-z0-9._%+-]+)\s*(?:@|\(at\)|\[at\]|\{at\}|\sat\s)\s*([A-Za-z0-9.-]+)\s*(?:\.|\(dot\)|\[dot\]|\{dot\}|\sdot\s)\s*([A-Za-z]{2,})\b`)
)

const relaxedPassThreshold = 5

// ExtractFromHTML pulls every candidate address out of one page's HTML.
// Candidates are raw; Sanitize decides what survives. Sources, in
// order: mailto links, anchors, Cloudflare-encoded spans, meta tags,
// data-*/aria attributes, JSON-LD blocks, footer text, then the whole
// visible text.
func ExtractFromHTML(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return textCandidates(html)
	}

	var found []string

	add := func(s string) {
		s = strings.TrimSpace(s)
		if s != "" {
			found = append(found, s)
		}
	}

	doc.Find("a[href^='mailto:']").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")

		if i := strings.IndexAny(addr, "?&"); i >= 0 {
			addr = addr[:i]
		}

		add(addr)
	})

	doc.Find("a").Each(func(_ int, s *goquery.Selection) {
		for _, m := range strictEmailRe.FindAllString(s.Text(), -1) {
			add(m)
		}

		if href, ok := s.Attr("href"); ok {
			for _, m := range strictEmailRe.FindAllString(href, -1) {
				add(m)
			}
		}
	})

	doc.Find("[data-cfemail]").Each(func(_ int, s *goquery.Selection) {
		enc, _ := s.Attr("data-cfemail")
		if addr, ok := DecodeCFEmail(enc); ok {
			add(addr)
		}
	})

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		prop, _ := s.Attr("property")

		key := strings.ToLower(name + " " + prop)
		if !strings.Contains(key, "email") && !strings.Contains(key, "contact") {
			return
		}

		content, _ := s.Attr("content")
		for _, m := range strictEmailRe.FindAllString(content, -1) {
			add(m)
		}
	})

	doc.Find("[data-email], [data-contact], [aria-label]").Each(func(_ int, s *goquery.Selection) {
		for _, attr := range []string{"data-email", "data-contact", "aria-label"} {
			if v, ok := s.Attr(attr); ok {
				for _, m := range strictEmailRe.FindAllString(v, -1) {
					add(m)
				}
			}
		}
	})

	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		for _, addr := range jsonLDEmails(s.Text()) {
			add(addr)
		}
	})

	doc.Find("footer").Each(func(_ int, s *goquery.Selection) {
		for _, m := range strictEmailRe.FindAllString(s.Text(), -1) {
			add(m)
		}
	})

	found = append(found, textCandidates(doc.Text())...)

	return found
}

func textCandidates(text string) []string {
	out := strictEmailRe.FindAllString(text, -1)

	// Obfuscated forms are only worth chasing on pages with few plain
	// addresses; busy pages produce too many false joins.
	if len(out) < relaxedPassThreshold {
		for _, m := range relaxedEmailRe.FindAllStringSubmatch(text, -1) {
			out = append(out, m[1]+"@"+m[2]+"."+m[3])
		}
	}

	return out
}

// DecodeCFEmail reverses Cloudflare's scrape-shield encoding: the first
// hex byte is an XOR key over the rest.
func DecodeCFEmail(enc string) (string, bool) {
	raw, err := hex.DecodeString(enc)
	if err != nil || len(raw) < 2 {
		return "", false
	}

	key := raw[0]
	out := make([]byte, len(raw)-1)

	for i, b := range raw[1:] {
		out[i] = b ^ key
	}

	return string(out), true
}

// EncodeCFEmail is the inverse of DecodeCFEmail.
func EncodeCFEmail(addr string, key byte) string {
	buf := make([]byte, 0, len(addr)+1)
	buf = append(buf, key)

	for i := 0; i < len(addr); i++ {
		buf = append(buf, addr[i]^key)
	}

	return hex.EncodeToString(buf)
}

// jsonLDEmails walks a JSON-LD document for "email" values, including
// nested contactPoint objects.
func jsonLDEmails(raw string) []string {
	var doc any

	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}

	var out []string

	walkJSONLD(doc, &out)

	return out
}

func walkJSONLD(node any, out *[]string) {
	switch v := node.(type) {
	case map[string]any:
		for k, child := range v {
			if strings.EqualFold(k, "email") {
				if s, ok := child.(string); ok {
					*out = append(*out, strings.TrimPrefix(strings.TrimSpace(s), "mailto:"))

					continue
				}
			}

			walkJSONLD(child, out)
		}
	case []any:
		for _, child := range v {
			walkJSONLD(child, out)
		}
	}
}
