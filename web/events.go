package web

import (
	"sync"
	"time"
)

// Event types published on the bus.
const (
	EventJobUpdate        = "job_update"
	EventJobProgress      = "job_progress"
	EventJobDeleted       = "job_deleted"
	EventActiveJobsStatus = "active_jobs_status"
)

// Event is one notification to a user's listeners. Payload is the job
// snapshot (or the active-jobs list) at publish time.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	JobID     string    `json:"jobId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus fans events out to per-user subscribers. Delivery is best-effort
// and last-writer-wins: a slow subscriber drops older events rather
// than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]chan Event)}
}

const subscriberBuffer = 16

// Subscribe returns a channel of the user's events plus a cancel func.
func (b *Bus) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		chans := b.subs[userID]
		for i, c := range chans {
			if c == ch {
				b.subs[userID] = append(chans[:i], chans[i+1:]...)
				close(ch)

				break
			}
		}

		if len(b.subs[userID]) == 0 {
			delete(b.subs, userID)
		}
	}

	return ch, cancel
}

// Publish delivers an event to every subscriber of its user. When a
// subscriber's buffer is full the oldest queued event is discarded so
// the newest state wins.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[ev.UserID] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}

			select {
			case ch <- ev:
			default:
			}
		}
	}
}
