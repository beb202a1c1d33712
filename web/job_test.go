package web

import (
	"errors"
	"testing"
	"time"
)

func TestTransitionLifecycle(t *testing.T) {
	now := time.Now().UTC()

	j := Job{Status: StatusWaiting}

	if err := j.Transition(StatusActive, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.StartedAt == nil || !j.StartedAt.Equal(now) {
		t.Fatalf("active transition must stamp StartedAt")
	}

	later := now.Add(time.Minute)

	if err := j.Transition(StatusCompleted, later); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.CompletedAt == nil || !j.CompletedAt.Equal(later) {
		t.Fatalf("terminal transition must stamp CompletedAt")
	}
}

func TestTransitionTerminalIsFinal(t *testing.T) {
	now := time.Now().UTC()

	for _, terminal := range []string{StatusCompleted, StatusFailed, StatusCancelled} {
		j := Job{Status: terminal}

		err := j.Transition(StatusActive, now)
		if !errors.Is(err, ErrTerminal) {
			t.Fatalf("%s: expected ErrTerminal, got %v", terminal, err)
		}

		if j.Status != terminal {
			t.Fatalf("terminal status must not change")
		}
	}
}

func TestTransitionUnknownStatus(t *testing.T) {
	j := Job{Status: StatusWaiting}

	if err := j.Transition("paused", time.Now()); err == nil {
		t.Fatalf("unknown status must be rejected")
	}

	if j.Status != StatusWaiting {
		t.Fatalf("rejected transition must not change the status")
	}
}

func TestFailRecordsMessage(t *testing.T) {
	now := time.Now().UTC()

	j := Job{Status: StatusActive}

	if err := j.Fail("browser exploded", now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.Status != StatusFailed || j.Error == nil || j.Error.Message != "browser exploded" {
		t.Fatalf("got %+v", j)
	}

	// Failing twice must not work.
	if err := j.Fail("again", now); err == nil {
		t.Fatalf("settled job must reject a second failure")
	}
}

func TestParamsValidate(t *testing.T) {
	valid := Params{Keyword: "coffee", Country: "US", MaxRecords: 10}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := []Params{
		{Country: "US", MaxRecords: 10},                                      // missing keyword
		{Keyword: "coffee", MaxRecords: 10},                                  // missing country
		{Keyword: "coffee", Country: "US"},                                   // zero records
		{Keyword: "coffee", Country: "US", MaxRecords: -1},                   // negative records
		{Keyword: "coffee", Country: "US", MaxRecords: 10, City: "Portland"}, // city without state
	}

	for i, p := range cases {
		if err := p.Validate(); err == nil {
			t.Fatalf("case %d must fail", i)
		}
	}
}

func TestJobValidate(t *testing.T) {
	j := Job{
		ID:        "id",
		UserID:    "user",
		Status:    StatusWaiting,
		Params:    Params{Keyword: "coffee", Country: "US", MaxRecords: 5},
		CreatedAt: time.Now(),
	}

	if err := j.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	j.UserID = ""
	if err := j.Validate(); err == nil {
		t.Fatalf("missing user must fail")
	}
}
