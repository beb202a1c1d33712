package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreditService gates job submission on the caller's balance. One
// credit buys one requested record.
type CreditService interface {
	CheckCredits(ctx context.Context, userID string, amount int) (bool, error)
	DeductCredits(ctx context.Context, userID string, amount int) error
}

// ErrInsufficientCredits rejects a submission the balance cannot cover.
var ErrInsufficientCredits = errors.New("insufficient credits")

// Service fronts the job repository: submission, cancellation,
// progress reads and result downloads.
type Service struct {
	repo       Repository
	credits    CreditService
	bus        *Bus
	dataFolder string
	log        zerolog.Logger

	mu        sync.Mutex
	cancelled map[string]bool
}

func NewService(repo Repository, credits CreditService, bus *Bus, dataFolder string, log zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		credits:    credits,
		bus:        bus,
		dataFolder: dataFolder,
		log:        log.With().Str("component", "job_service").Logger(),
		cancelled:  make(map[string]bool),
	}
}

// Enqueue validates the params, checks the user can cover the request
// and stores the job as waiting. The deduction happens on completion,
// for the records actually delivered.
func (s *Service) Enqueue(ctx context.Context, userID string, params Params) (Job, error) {
	if err := params.Validate(); err != nil {
		return Job{}, err
	}

	if s.credits != nil {
		ok, err := s.credits.CheckCredits(ctx, userID, params.MaxRecords)
		if err != nil {
			return Job{}, fmt.Errorf("credit check: %w", err)
		}

		if !ok {
			return Job{}, ErrInsufficientCredits
		}
	}

	job := Job{
		ID:        uuid.New().String(),
		UserID:    userID,
		Status:    StatusWaiting,
		Params:    params,
		Progress:  Progress{MaxRecords: params.MaxRecords},
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, &job); err != nil {
		return Job{}, err
	}

	s.log.Info().Str("job", job.ID).Str("user", userID).Str("keyword", params.Keyword).Msg("job enqueued")

	s.publish(EventJobUpdate, job)

	return job, nil
}

// Cancel requests termination. A waiting job settles immediately; an
// active one is flagged and the runner observes the flag at its next
// suspension point.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Terminal() {
		return nil
	}

	s.mu.Lock()
	s.cancelled[jobID] = true
	s.mu.Unlock()

	if job.Status == StatusWaiting {
		if err := job.Transition(StatusCancelled, time.Now().UTC()); err != nil {
			return err
		}

		if err := s.repo.Update(ctx, &job); err != nil {
			return err
		}
	}

	s.log.Info().Str("job", jobID).Msg("job cancellation requested")

	s.publish(EventJobDeleted, job)

	return nil
}

// Cancelled reports whether a cancel was requested for the job. The
// runner polls this between units of work.
func (s *Service) Cancelled(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cancelled[jobID]
}

// ClearCancel drops the flag once a job has settled.
func (s *Service) ClearCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.cancelled, jobID)
}

// Get returns one job.
func (s *Service) Get(ctx context.Context, jobID string) (Job, error) {
	return s.repo.Get(ctx, jobID)
}

// Progress returns the live progress block for one job.
func (s *Service) Progress(ctx context.Context, jobID string) (Progress, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return Progress{}, err
	}

	return job.Progress, nil
}

// List returns the user's jobs, newest first.
func (s *Service) List(ctx context.Context, userID string) ([]Job, error) {
	return s.repo.Select(ctx, SelectParams{UserID: userID})
}

// NextWaiting pops the oldest waiting job for the worker loop.
func (s *Service) NextWaiting(ctx context.Context) (Job, bool, error) {
	jobs, err := s.repo.Select(ctx, SelectParams{Status: StatusWaiting, Limit: 1})
	if err != nil || len(jobs) == 0 {
		return Job{}, false, err
	}

	return jobs[0], true, nil
}

// Update persists a job snapshot and notifies listeners. The first
// update that lands a job in completed settles the user's credits for
// the records delivered.
func (s *Service) Update(ctx context.Context, job *Job) error {
	s.settleCredits(ctx, job)

	if err := s.repo.Update(ctx, job); err != nil {
		return err
	}

	event := EventJobUpdate
	if job.Status == StatusActive {
		event = EventJobProgress
	}

	s.publish(event, *job)

	return nil
}

// ActiveJobs publishes the user's active set; called when a listener
// attaches so it starts from current state.
func (s *Service) ActiveJobs(ctx context.Context, userID string) ([]Job, error) {
	jobs, err := s.repo.Select(ctx, SelectParams{UserID: userID, Status: StatusActive})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(Event{Type: EventActiveJobsStatus, UserID: userID, Payload: jobs})

	return jobs, nil
}

// ResultPath returns the CSV path for a settled job.
func (s *Service) ResultPath(jobID string) (string, error) {
	if strings.ContainsAny(jobID, "/\\") || strings.Contains(jobID, "..") {
		return "", errors.New("invalid job id")
	}

	path := filepath.Join(s.dataFolder, jobID+".csv")

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("no results for job %s: %w", jobID, err)
	}

	return path, nil
}

// Delete removes a job and its result file. Active jobs are cancelled
// first through the same flag the runner polls.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	if err := s.Cancel(ctx, jobID); err != nil {
		return err
	}

	if path, err := s.ResultPath(jobID); err == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return s.repo.Delete(ctx, jobID)
}

// settleCredits deducts for delivered records when a job transitions
// into completed. Failed and cancelled runs cost nothing.
func (s *Service) settleCredits(ctx context.Context, job *Job) {
	if s.credits == nil || job.Status != StatusCompleted {
		return
	}

	prev, err := s.repo.Get(ctx, job.ID)
	if err != nil || prev.Status == StatusCompleted {
		return
	}

	n := job.Progress.RecordsCollected
	if n <= 0 {
		return
	}

	if err := s.credits.DeductCredits(ctx, job.UserID, n); err != nil {
		s.log.Error().Err(err).Str("job", job.ID).Int("records", n).Msg("credit deduction failed")
	}
}

func (s *Service) publish(eventType string, job Job) {
	if s.bus == nil {
		return
	}

	s.bus.Publish(Event{
		Type:    eventType,
		UserID:  job.UserID,
		JobID:   job.ID,
		Payload: job,
	})
}
