package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen short-circuits calls while the breaker cools down.
var ErrBreakerOpen = errors.New("circuit breaker open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker trips after MaxFailures consecutive failures and admits a
// probe call after ResetTimeout. A failed probe reopens it.
type Breaker struct {
	mu           sync.Mutex
	state        breakerState
	failures     int
	lastFailure  time.Time
	maxFailures  int
	resetTimeout time.Duration
}

func NewBreaker(maxFailures int, resetTimeout time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 10
	}

	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}

	return &Breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
	}
}

// Do runs fn unless the breaker is open.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrBreakerOpen
	}

	err := fn()
	b.record(err == nil)

	return err
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if time.Since(b.lastFailure) >= b.resetTimeout {
			b.state = stateHalfOpen

			return true
		}

		return false
	}

	return false
}

func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.state = stateClosed
		b.failures = 0

		return
	}

	b.failures++
	b.lastFailure = time.Now()

	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
	}
}
