package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sadewadee/mapharvest/pkg/monitoring"
	"github.com/sadewadee/mapharvest/web"
)

type fakeSource struct {
	mu   sync.Mutex
	jobs []web.Job
}

func (f *fakeSource) NextWaiting(context.Context) (web.Job, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.jobs) == 0 {
		return web.Job{}, false, nil
	}

	job := f.jobs[0]
	f.jobs = f.jobs[1:]

	return job, true, nil
}

func TestWorkerDrainsQueue(t *testing.T) {
	fx := newRunnerFixture(t, 2, nil)

	source := &fakeSource{jobs: []web.Job{*testJob(cityParams(5))}}
	metrics := monitoring.NewCollector()

	w := NewWorker(source, fx.runner, nil, metrics, 1, zerolog.Nop())
	w.minPoll = 10 * time.Millisecond
	w.maxPoll = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- w.Run(ctx) }()

	deadline := time.After(4 * time.Second)
	for fx.writer.Calls() == 0 {
		select {
		case <-deadline:
			t.Fatalf("job never ran")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()

	if err := <-done; err == nil {
		t.Fatalf("run must return the context error")
	}

	snap := metrics.Snapshot()
	if snap.JobsProcessed != 1 || snap.JobsSucceeded != 1 {
		t.Fatalf("metrics got %+v", snap)
	}
}

func TestWorkerConcurrencyFloor(t *testing.T) {
	fx := newRunnerFixture(t, 0, nil)

	w := NewWorker(&fakeSource{}, fx.runner, nil, nil, 0, zerolog.Nop())

	if w.concurrency != 1 {
		t.Fatalf("concurrency must floor at 1, got %d", w.concurrency)
	}

	if w.telemetry == nil || w.metrics == nil {
		t.Fatalf("nil collaborators must be defaulted")
	}
}
