// Package tlmt is anonymous usage telemetry. It is off whenever no API
// key is configured or the operator disables it.
package tlmt

import (
	"context"
	"time"
)

// Event is one telemetry datapoint.
type Event struct {
	Name    string
	Payload map[string]any
	At      time.Time
}

// NewEvent stamps an event with the current time.
func NewEvent(name string, payload map[string]any) Event {
	return Event{Name: name, Payload: payload, At: time.Now().UTC()}
}

// Telemetry sends events somewhere, or nowhere.
type Telemetry interface {
	Send(ctx context.Context, event Event) error
	Close()
}

type noop struct{}

func (noop) Send(context.Context, Event) error { return nil }
func (noop) Close()                            {}

// Noop returns a telemetry sink that drops everything.
func Noop() Telemetry {
	return noop{}
}
