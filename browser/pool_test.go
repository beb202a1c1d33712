package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestIsConnectionError(t *testing.T) {
	connection := []error{
		errors.New("Target closed"),
		errors.New("playwright: Session not found"),
		errors.New("websocket: close 1006"),
		errors.New("Navigation timeout of 10000 ms exceeded"),
		errors.New("Execution context was destroyed"),
		fmt.Errorf("goto: %w", errors.New("browser has been closed")),
	}

	for _, err := range connection {
		if !IsConnectionError(err) {
			t.Fatalf("%v must classify as a connection error", err)
		}
	}

	local := []error{
		nil,
		errors.New("net::ERR_NAME_NOT_RESOLVED"),
		errors.New("element not found"),
	}

	for _, err := range local {
		if IsConnectionError(err) {
			t.Fatalf("%v must not classify as a connection error", err)
		}
	}
}

func TestNewPoolDefaults(t *testing.T) {
	p := NewPool(Options{}, zerolog.Nop())

	if p.State() != StateDisconnected {
		t.Fatalf("fresh pool state got %q", p.State())
	}

	if p.opts.PageCeiling != 8 {
		t.Fatalf("page ceiling default got %d", p.opts.PageCeiling)
	}
}

func TestHealthBeforeConnect(t *testing.T) {
	p := NewPool(Options{}, zerolog.Nop())

	if err := p.Health(); !errors.Is(err, ErrBrowserUnavailable) {
		t.Fatalf("got %v", err)
	}

	if p.State() != StateDegraded {
		t.Fatalf("health probe must degrade a sessionless pool, got %q", p.State())
	}
}

func TestShutdownIdempotent(t *testing.T) {
	p := NewPool(Options{}, zerolog.Nop())

	p.Shutdown()
	p.Shutdown()

	if p.State() != StateDisconnected {
		t.Fatalf("got %q", p.State())
	}

	if err := p.Health(); !errors.Is(err, ErrBrowserUnavailable) {
		t.Fatalf("closed pool must be unavailable, got %v", err)
	}
}

func TestSameHost(t *testing.T) {
	cases := []struct {
		doc, req string
		want     bool
	}{
		{"https://example.com/page", "https://example.com/app.js", true},
		{"https://www.example.com", "https://example.com/x", true},
		{"https://example.com", "https://cdn.tracker.net/x", false},
		{"https://example.com", "data:image/png;base64,xx", true}, // hostless passes
	}

	for _, c := range cases {
		if got := sameHost(c.doc, c.req); got != c.want {
			t.Fatalf("sameHost(%q, %q) = %v, want %v", c.doc, c.req, got, c.want)
		}
	}
}
