package emails

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDropsJunk(t *testing.T) {
	candidates := []string{
		"real@example.com",
		"logo@2x.png",             // resource path
		"contact@site.html",       // resource tld
		"021-5550100@example.com", // phone-like local
		"12345info@example.com",   // zip prefix
		"4x@example.com",          // under two alpha characters
		"ab1234@example.com",      // digit-dominated local
		"team@business.solutions", // long tld on the whitelist
		"ab@y.notarealtldhere",    // long tld off the whitelist
		"not-an-email",
	}

	got := Sanitize(candidates, "")

	assert.Equal(t, []string{"real@example.com", "team@business.solutions"}, got)
}

func TestSanitizeDedupesAndLowercases(t *testing.T) {
	got := Sanitize([]string{"Info@Example.COM", "info@example.com", " info@example.com ,"}, "")

	assert.Equal(t, []string{"info@example.com"}, got)
}

func TestSanitizeOrdersOwnDomainFirst(t *testing.T) {
	candidates := []string{
		"partner@other.com",
		"hello@mycafe.co.uk",
		"booking@mail.mycafe.co.uk",
	}

	got := Sanitize(candidates, "https://www.mycafe.co.uk/contact")

	assert.Equal(t, []string{
		"hello@mycafe.co.uk",
		"booking@mail.mycafe.co.uk",
		"partner@other.com",
	}, got)
}

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"https://www.Example.com/path?x=1": "example.com",
		"http://user@host.test:8080/":     "host.test",
		"example.org":                     "example.org",
		"":                                "",
	}

	for in, want := range cases {
		assert.Equal(t, want, hostOf(in), in)
	}
}

func TestRegistrableDomain(t *testing.T) {
	assert.Equal(t, "example.co.uk", registrableDomain("mail.example.co.uk"))
	assert.Equal(t, "example.com", registrableDomain("example.com"))
	assert.Equal(t, "", registrableDomain(""))
}
