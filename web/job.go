// Package web holds the job queue: the job model, its repository
// contract, the service that fronts it and the progress event bus.
package web

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sadewadee/mapharvest/gmaps"
)

// Job lifecycle. waiting and active are live; the rest are terminal.
const (
	StatusWaiting   = "waiting"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ErrTerminal rejects transitions out of a terminal status.
var ErrTerminal = errors.New("job already in terminal status")

// SelectParams filter repository listings.
type SelectParams struct {
	UserID string
	Status string
	Limit  int
}

// Repository is the persistence contract for jobs.
type Repository interface {
	Get(ctx context.Context, id string) (Job, error)
	Create(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	Select(ctx context.Context, params SelectParams) ([]Job, error)
	Update(ctx context.Context, job *Job) error
}

// Progress is the live counter block updated as a job runs.
type Progress struct {
	Percentage        int    `json:"percentage"`
	ProcessedListings int    `json:"processedListings"`
	TotalListings     int    `json:"totalListings"`
	RecordsCollected  int    `json:"recordsCollected"`
	MaxRecords        int    `json:"maxRecords"`
	CurrentLocation   string `json:"currentLocation,omitempty"`
}

// JobError captures the terminal failure message.
type JobError struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Metrics aggregates per-job outcomes for the completion summary.
type Metrics struct {
	CitiesPlanned    int           `json:"citiesPlanned"`
	CitiesProcessed  int           `json:"citiesProcessed"`
	CitiesFailed     int           `json:"citiesFailed"`
	ListingsFiltered int           `json:"listingsFiltered"`
	EmailsFound      int           `json:"emailsFound"`
	Duration         time.Duration `json:"duration"`
}

// Params is what the caller submits: the search scope and policies.
type Params struct {
	Keyword    string `json:"keyword"`
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	City       string `json:"city,omitempty"`
	MaxRecords int    `json:"maxRecords"`

	IsExtractEmail     bool `json:"isExtractEmail,omitempty"`
	IsValidate         bool `json:"isValidate,omitempty"`
	OnlyWithoutWebsite bool `json:"onlyWithoutWebsite,omitempty"`

	RatingFilter      *gmaps.RatingFilter      `json:"ratingFilter,omitempty"`
	ReviewCountFilter *gmaps.ReviewCountFilter `json:"reviewCountFilter,omitempty"`
	ReviewTimeRange   *gmaps.ReviewTimeRange   `json:"reviewTimeRange,omitempty"`
}

func (p *Params) Validate() error {
	if p.Keyword == "" {
		return errors.New("missing keyword")
	}

	if p.Country == "" {
		return errors.New("missing country")
	}

	if p.MaxRecords <= 0 {
		return errors.New("maxRecords must be positive")
	}

	if p.City != "" && p.State == "" {
		return errors.New("city scope requires a state")
	}

	return nil
}

// Job is one harvesting run through its whole lifecycle.
type Job struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Status      string     `json:"status"`
	Params      Params     `json:"params"`
	Progress    Progress   `json:"progress"`
	Error       *JobError  `json:"error,omitempty"`
	Metrics     Metrics    `json:"metrics"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func (j *Job) Validate() error {
	if j.ID == "" {
		return errors.New("missing id")
	}

	if j.UserID == "" {
		return errors.New("missing user id")
	}

	if j.Status == "" {
		return errors.New("missing status")
	}

	if j.CreatedAt.IsZero() {
		return errors.New("missing creation time")
	}

	return j.Params.Validate()
}

// Terminal reports whether the status admits no further transitions.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}

	return false
}

// Transition moves the job to a new status, enforcing at-most-once
// terminal settlement and stamping the timestamps.
func (j *Job) Transition(status string, now time.Time) error {
	if j.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrTerminal, j.Status, status)
	}

	switch status {
	case StatusActive:
		j.StartedAt = &now
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = &now
	case StatusWaiting:
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	j.Status = status

	return nil
}

// Fail settles the job with an error message.
func (j *Job) Fail(message string, now time.Time) error {
	if err := j.Transition(StatusFailed, now); err != nil {
		return err
	}

	j.Error = &JobError{Message: message, Timestamp: now}

	return nil
}
