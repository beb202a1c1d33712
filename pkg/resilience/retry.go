// Package resilience wraps flaky outbound calls: bounded retries with
// exponential backoff and a circuit breaker for endpoints that fail in
// bulk.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Sentinel errors callers wrap so the retryer can classify failures.
var (
	ErrRateLimited        = errors.New("rate limited")
	ErrTimeout            = errors.New("timeout")
	ErrNetworkError       = errors.New("network error")
	ErrServiceUnavailable = errors.New("service unavailable")
)

// RetryConfig holds the retry policy.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
	// RetryableErrors limits retries to wrapped matches; empty retries
	// everything.
	RetryableErrors []error
}

// Retryer executes functions under a RetryConfig.
type Retryer struct {
	config RetryConfig
}

func NewRetryer(config RetryConfig) *Retryer {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}

	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Second
	}

	if config.MaxDelay <= 0 {
		config.MaxDelay = 60 * time.Second
	}

	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 2.0
	}

	return &Retryer{config: config}
}

// Execute runs fn until it succeeds, exhausts the attempts, or hits a
// non-retryable error.
func (r *Retryer) Execute(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !r.retryable(err) {
			return err
		}

		if attempt == r.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.delay(attempt)):
		}
	}

	return fmt.Errorf("after %d attempts: %w", r.config.MaxAttempts, lastErr)
}

func (r *Retryer) delay(attempt int) time.Duration {
	d := float64(r.config.InitialDelay) * math.Pow(r.config.BackoffFactor, float64(attempt-1))

	if d > float64(r.config.MaxDelay) {
		d = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		d += rand.Float64() * 0.1 * d
	}

	return time.Duration(d)
}

func (r *Retryer) retryable(err error) bool {
	if len(r.config.RetryableErrors) == 0 {
		return true
	}

	for _, target := range r.config.RetryableErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	return false
}
