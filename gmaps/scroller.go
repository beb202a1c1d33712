package gmaps

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ScrollReason explains why the scroller stopped.
type ScrollReason string

const (
	ScrollContentLoaded   ScrollReason = "content_loaded"
	ScrollMaxAttempts     ScrollReason = "max_attempts"
	ScrollTimeout         ScrollReason = "timeout"
	ScrollWrapperNotFound ScrollReason = "wrapper_not_found"
	ScrollError           ScrollReason = "error"
)

// ScrollResult is the outcome of a scroll run. The scroller never
// returns an error: callers proceed with whatever listings are visible.
type ScrollResult struct {
	Success  bool
	Reason   ScrollReason
	Attempts int
}

// Evaluator is the part of a rendered page the scroller needs. It is
// satisfied by playwright.Page.
type Evaluator interface {
	Evaluate(expression string, arg ...any) (any, error)
}

// ScrollOptions bound a scroll run.
type ScrollOptions struct {
	Selector    string
	DeltaPx     int
	Cadence     time.Duration
	MaxAttempts int
	Deadline    time.Duration
}

func (o *ScrollOptions) defaults() {
	if o.Selector == "" {
		o.Selector = `div[role='feed']`
	}

	if o.DeltaPx <= 0 {
		o.DeltaPx = 1000
	}

	if o.Cadence <= 0 {
		o.Cadence = 500 * time.Millisecond
	}

	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 60
	}

	if o.Deadline <= 0 {
		o.Deadline = 30 * time.Second
	}
}

const maxStagnantProbes = 3

// Scroll advances the result feed until its height stops growing
// across three consecutive probes, the attempt bound is hit, or the
// wall-clock deadline fires.
func Scroll(ctx context.Context, page Evaluator, opts ScrollOptions) ScrollResult {
	opts.defaults()

	log := zerolog.Ctx(ctx)

	ctx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	js := fmt.Sprintf(`() => {
		const el = document.querySelector(%q);
		if (!el) { return { found: false, height: 0 }; }
		el.scrollBy(0, %d);
		return { found: true, height: el.scrollHeight };
	}`, opts.Selector, opts.DeltaPx)

	var (
		lastHeight int64
		stagnant   int
		attempts   int
	)

	ticker := time.NewTicker(opts.Cadence)
	defer ticker.Stop()

	for attempts < opts.MaxAttempts {
		select {
		case <-ctx.Done():
			return ScrollResult{Success: false, Reason: ScrollTimeout, Attempts: attempts}
		case <-ticker.C:
		}

		attempts++

		res, err := page.Evaluate(js)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempts).Msg("scroll evaluate failed")

			return ScrollResult{Success: false, Reason: ScrollError, Attempts: attempts}
		}

		found, height := parseScrollProbe(res)
		if !found {
			return ScrollResult{Success: false, Reason: ScrollWrapperNotFound, Attempts: attempts}
		}

		if height <= lastHeight {
			stagnant++
		} else {
			stagnant = 0
			lastHeight = height
		}

		if stagnant >= maxStagnantProbes {
			log.Debug().Int("attempts", attempts).Int64("height", lastHeight).Msg("scroll settled")

			return ScrollResult{Success: true, Reason: ScrollContentLoaded, Attempts: attempts}
		}
	}

	return ScrollResult{Success: true, Reason: ScrollMaxAttempts, Attempts: attempts}
}

func parseScrollProbe(res any) (found bool, height int64) {
	m, ok := res.(map[string]any)
	if !ok {
		return false, 0
	}

	found, _ = m["found"].(bool)

	switch h := m["height"].(type) {
	case float64:
		height = int64(h)
	case int:
		height = int64(h)
	case int64:
		height = h
	}

	return found, height
}
