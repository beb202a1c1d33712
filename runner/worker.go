package runner

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/mapharvest/pkg/monitoring"
	"github.com/sadewadee/mapharvest/tlmt"
	"github.com/sadewadee/mapharvest/web"
)

// JobSource is the queue side of the web service.
type JobSource interface {
	NextWaiting(ctx context.Context) (web.Job, bool, error)
}

// Worker drains the waiting queue and runs jobs through the Runner,
// up to the configured concurrency. Polling backs off while the queue
// is idle and snaps back on activity.
type Worker struct {
	source    JobSource
	runner    *Runner
	telemetry tlmt.Telemetry
	metrics   *monitoring.Collector
	log       zerolog.Logger

	concurrency int
	minPoll     time.Duration
	maxPoll     time.Duration
}

func NewWorker(source JobSource, runner *Runner, telemetry tlmt.Telemetry, metrics *monitoring.Collector, concurrency int, log zerolog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}

	if telemetry == nil {
		telemetry = tlmt.Noop()
	}

	if metrics == nil {
		metrics = monitoring.NewCollector()
	}

	return &Worker{
		source:      source,
		runner:      runner,
		telemetry:   telemetry,
		metrics:     metrics,
		log:         log.With().Str("component", "worker").Logger(),
		concurrency: concurrency,
		minPoll:     time.Second,
		maxPoll:     15 * time.Second,
	}
}

// Run blocks until the context ends. Jobs in flight when the context
// is cancelled finish their current suspension point and settle.
func (w *Worker) Run(ctx context.Context) error {
	slots := make(chan struct{}, w.concurrency)
	poll := w.minPoll

	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			// Drain the slots so running jobs finish.
			for range cap(slots) {
				slots <- struct{}{}
			}

			return ctx.Err()
		case <-timer.C:
		}

		job, ok, err := w.source.NextWaiting(ctx)
		if err != nil {
			w.log.Error().Err(err).Msg("queue poll failed")
		}

		if !ok {
			if poll *= 2; poll > w.maxPoll {
				poll = w.maxPoll
			}

			timer.Reset(poll)

			continue
		}

		poll = w.minPoll

		if err := w.runner.Claim(ctx, &job); err != nil {
			w.log.Warn().Err(err).Str("job", job.ID).Msg("claim failed")
			timer.Reset(poll)

			continue
		}

		slots <- struct{}{}

		go func() {
			defer func() { <-slots }()

			w.runOne(ctx, job)
		}()

		timer.Reset(poll)
	}
}

func (w *Worker) runOne(ctx context.Context, job web.Job) {
	t0 := time.Now().UTC()

	err := w.runner.RunJob(ctx, &job)

	w.metrics.RecordJob(
		err == nil && job.Status == web.StatusCompleted,
		time.Since(t0),
		job.Progress.ProcessedListings,
		job.Progress.RecordsCollected,
		job.Metrics.EmailsFound,
	)

	params := map[string]any{
		"keyword":  job.Params.Keyword,
		"country":  job.Params.Country,
		"records":  job.Progress.RecordsCollected,
		"duration": time.Since(t0).String(),
	}

	if err != nil {
		params["error"] = err.Error()

		w.log.Error().Err(err).Str("job", job.ID).Msg("job run failed")
	} else {
		w.log.Info().Str("job", job.ID).Str("status", job.Status).Msg("job settled")
	}

	_ = w.telemetry.Send(ctx, tlmt.NewEvent("job_run", params))
}
