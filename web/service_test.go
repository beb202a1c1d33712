package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemRepo() *memRepo {
	return &memRepo{jobs: make(map[string]Job)}
}

func (m *memRepo) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("job %s not found", id)
	}

	return job, nil
}

func (m *memRepo) Create(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.jobs[job.ID] = *job

	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.jobs, id)

	return nil
}

func (m *memRepo) Select(_ context.Context, params SelectParams) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Job

	for _, job := range m.jobs {
		if params.UserID != "" && job.UserID != params.UserID {
			continue
		}

		if params.Status != "" && job.Status != params.Status {
			continue
		}

		out = append(out, job)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	if params.Limit > 0 && len(out) > params.Limit {
		out = out[:params.Limit]
	}

	return out, nil
}

func (m *memRepo) Update(_ context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s not found", job.ID)
	}

	m.jobs[job.ID] = *job

	return nil
}

type fakeCredits struct {
	balance  int
	checks   int
	deducted int
}

func (f *fakeCredits) CheckCredits(_ context.Context, _ string, amount int) (bool, error) {
	f.checks++

	return f.balance >= amount, nil
}

func (f *fakeCredits) DeductCredits(_ context.Context, _ string, amount int) error {
	f.balance -= amount
	f.deducted += amount

	return nil
}

func testService(t *testing.T, credits CreditService) (*Service, *memRepo) {
	t.Helper()

	repo := newMemRepo()

	return NewService(repo, credits, NewBus(), t.TempDir(), zerolog.Nop()), repo
}

func validParams() Params {
	return Params{Keyword: "coffee", Country: "US", MaxRecords: 10}
}

func TestEnqueueChecksWithoutCharging(t *testing.T) {
	credits := &fakeCredits{balance: 25}
	svc, _ := testService(t, credits)

	job, err := svc.Enqueue(context.Background(), "user-1", validParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if job.Status != StatusWaiting || job.ID == "" {
		t.Fatalf("got %+v", job)
	}

	if job.Progress.MaxRecords != 10 {
		t.Fatalf("max records must seed the progress block")
	}

	if credits.checks != 1 {
		t.Fatalf("balance must be checked, got %d checks", credits.checks)
	}

	if credits.deducted != 0 || credits.balance != 25 {
		t.Fatalf("enqueue must not charge: %+v", credits)
	}
}

func TestCompletionDeductsDeliveredRecords(t *testing.T) {
	credits := &fakeCredits{balance: 25}
	svc, repo := testService(t, credits)

	job, _ := svc.Enqueue(context.Background(), "user-1", validParams())

	stored, _ := repo.Get(context.Background(), job.ID)
	_ = stored.Transition(StatusActive, time.Now().UTC())
	_ = repo.Update(context.Background(), &stored)

	stored.Progress.RecordsCollected = 7
	_ = stored.Transition(StatusCompleted, time.Now().UTC())

	if err := svc.Update(context.Background(), &stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if credits.deducted != 7 || credits.balance != 18 {
		t.Fatalf("completion must charge delivered records: %+v", credits)
	}

	// Re-persisting the settled snapshot must not charge again.
	if err := svc.Update(context.Background(), &stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if credits.deducted != 7 {
		t.Fatalf("deduction must happen once: %+v", credits)
	}
}

func TestFailedJobCostsNothing(t *testing.T) {
	credits := &fakeCredits{balance: 25}
	svc, repo := testService(t, credits)

	job, _ := svc.Enqueue(context.Background(), "user-1", validParams())

	stored, _ := repo.Get(context.Background(), job.ID)
	_ = stored.Transition(StatusActive, time.Now().UTC())
	_ = repo.Update(context.Background(), &stored)

	stored.Progress.RecordsCollected = 3
	_ = stored.Fail("browser lost", time.Now().UTC())

	if err := svc.Update(context.Background(), &stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if credits.deducted != 0 || credits.balance != 25 {
		t.Fatalf("failed runs must not charge: %+v", credits)
	}
}

func TestEnqueueInsufficientCredits(t *testing.T) {
	svc, repo := testService(t, &fakeCredits{balance: 3})

	_, err := svc.Enqueue(context.Background(), "user-1", validParams())
	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}

	if len(repo.jobs) != 0 {
		t.Fatalf("rejected job must not be stored")
	}
}

func TestEnqueueInvalidParams(t *testing.T) {
	credits := &fakeCredits{balance: 100}
	svc, _ := testService(t, credits)

	_, err := svc.Enqueue(context.Background(), "user-1", Params{Keyword: "x"})
	if err == nil {
		t.Fatalf("invalid params must be rejected")
	}

	if credits.checks != 0 {
		t.Fatalf("validation must run before the credit check")
	}
}

func TestCancelWaitingSettlesImmediately(t *testing.T) {
	svc, repo := testService(t, nil)

	job, err := svc.Enqueue(context.Background(), "user-1", validParams())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored, _ := repo.Get(context.Background(), job.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("waiting job must settle cancelled, got %q", stored.Status)
	}

	if !svc.Cancelled(job.ID) {
		t.Fatalf("cancel flag must be set")
	}

	svc.ClearCancel(job.ID)

	if svc.Cancelled(job.ID) {
		t.Fatalf("flag must clear")
	}
}

func TestCancelActiveOnlyFlags(t *testing.T) {
	svc, repo := testService(t, nil)

	job, _ := svc.Enqueue(context.Background(), "user-1", validParams())

	stored, _ := repo.Get(context.Background(), job.ID)
	_ = stored.Transition(StatusActive, time.Now().UTC())
	_ = repo.Update(context.Background(), &stored)

	if err := svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := repo.Get(context.Background(), job.ID)
	if after.Status != StatusActive {
		t.Fatalf("active job settles through the runner, not the service; got %q", after.Status)
	}

	if !svc.Cancelled(job.ID) {
		t.Fatalf("cancel flag must be set for the runner to observe")
	}
}

func TestNextWaitingPopsOldest(t *testing.T) {
	svc, repo := testService(t, nil)

	first, _ := svc.Enqueue(context.Background(), "user-1", validParams())

	// Backdate the first job so ordering is unambiguous.
	stored, _ := repo.Get(context.Background(), first.ID)
	stored.CreatedAt = stored.CreatedAt.Add(-time.Hour)
	_ = repo.Update(context.Background(), &stored)

	_, _ = svc.Enqueue(context.Background(), "user-1", validParams())

	job, ok, err := svc.NextWaiting(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected a waiting job, got ok=%v err=%v", ok, err)
	}

	if job.ID != first.ID {
		t.Fatalf("oldest job must pop first")
	}
}

func TestResultPathRejectsTraversal(t *testing.T) {
	svc, _ := testService(t, nil)

	for _, id := range []string{"../etc/passwd", "a/b", `a\b`, ".."} {
		if _, err := svc.ResultPath(id); err == nil {
			t.Fatalf("%q must be rejected", id)
		}
	}
}

func TestDeleteRemovesJobAndResults(t *testing.T) {
	svc, repo := testService(t, nil)

	job, _ := svc.Enqueue(context.Background(), "user-1", validParams())

	csv := filepath.Join(svc.dataFolder, job.ID+".csv")
	if err := os.WriteFile(csv, []byte("name\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	if err := svc.Delete(context.Background(), job.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.Get(context.Background(), job.ID); err == nil {
		t.Fatalf("job row must be gone")
	}

	if _, err := os.Stat(csv); !os.IsNotExist(err) {
		t.Fatalf("result file must be gone")
	}
}

func TestUpdatePublishesProgressForActiveJobs(t *testing.T) {
	repo := newMemRepo()
	bus := NewBus()
	svc := NewService(repo, nil, bus, t.TempDir(), zerolog.Nop())

	job, _ := svc.Enqueue(context.Background(), "user-1", validParams())

	ch, cancel := bus.Subscribe("user-1")
	defer cancel()

	stored, _ := repo.Get(context.Background(), job.ID)
	_ = stored.Transition(StatusActive, time.Now().UTC())

	if err := svc.Update(context.Background(), &stored); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ev := <-ch
	if ev.Type != EventJobProgress {
		t.Fatalf("active update must publish progress, got %q", ev.Type)
	}
}
