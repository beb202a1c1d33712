package tlmt

import (
	"context"
	"sync"

	"github.com/posthog/posthog-go"
)

type posthogSink struct {
	client     posthog.Client
	distinctID string
	once       sync.Once
}

// NewPosthog builds a telemetry sink backed by posthog. distinctID
// should be a stable anonymous installation identifier.
func NewPosthog(apiKey, endpoint, distinctID string) (Telemetry, error) {
	cfg := posthog.Config{}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}

	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		return nil, err
	}

	return &posthogSink{client: client, distinctID: distinctID}, nil
}

func (p *posthogSink) Send(_ context.Context, event Event) error {
	props := posthog.NewProperties()
	for k, v := range event.Payload {
		props.Set(k, v)
	}

	return p.client.Enqueue(posthog.Capture{
		DistinctId: p.distinctID,
		Event:      event.Name,
		Properties: props,
		Timestamp:  event.At,
	})
}

func (p *posthogSink) Close() {
	p.once.Do(func() {
		_ = p.client.Close()
	})
}
