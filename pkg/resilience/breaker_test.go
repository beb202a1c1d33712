package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	boom := errors.New("boom")

	for range 3 {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("got %v", err)
		}
	}

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	boom := errors.New("boom")

	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return nil })
	_ = b.Do(func() error { return boom })
	_ = b.Do(func() error { return boom })

	// Still two consecutive failures after the reset, not four.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("breaker must still be closed, got %v", err)
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	boom := errors.New("boom")

	_ = b.Do(func() error { return boom })

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("breaker must be open, got %v", err)
	}

	time.Sleep(15 * time.Millisecond)

	// The probe is admitted and, succeeding, closes the breaker.
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("probe must be admitted, got %v", err)
	}

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatalf("breaker must be closed again, got %v", err)
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b := NewBreaker(1, 10*time.Millisecond)

	boom := errors.New("boom")

	_ = b.Do(func() error { return boom })

	time.Sleep(15 * time.Millisecond)

	// Failed probe.
	_ = b.Do(func() error { return boom })

	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("failed probe must reopen the breaker, got %v", err)
	}
}
