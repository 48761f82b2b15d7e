package analytics

import (
	"context"
	"fmt"

	"github.com/posthog/posthog-go"
	"github.com/sirupsen/logrus"
)

// Tracker sends product analytics events. Events are queued by the PostHog client and
// flushed in the background; Close flushes what is left.
type Tracker struct {
	client posthog.Client
	log    *logrus.Entry
}

func NewPostHog(apiKey, host string, log *logrus.Entry) (*Tracker, error) {
	cfg := posthog.Config{}
	if host != "" {
		cfg.Endpoint = host
	}
	client, err := posthog.NewWithConfig(apiKey, cfg)
	if err != nil {
		return nil, fmt.Errorf("posthog client: %w", err)
	}
	return &Tracker{client: client, log: log}, nil
}

func (t *Tracker) Track(_ context.Context, distinctID, event string, props map[string]interface{}) error {
	properties := posthog.NewProperties()
	for k, v := range props {
		properties.Set(k, v)
	}
	if err := t.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: properties,
	}); err != nil {
		return fmt.Errorf("posthog enqueue %s: %w", event, err)
	}
	return nil
}

func (t *Tracker) Close() error {
	return t.client.Close()
}

// Noop is used when no PostHog key is configured.
type Noop struct {
	Log *logrus.Entry
}

func (n Noop) Track(_ context.Context, distinctID, event string, _ map[string]interface{}) error {
	if n.Log != nil {
		n.Log.WithFields(logrus.Fields{"distinct_id": distinctID, "event": event}).Debug("analytics disabled, event dropped")
	}
	return nil
}

func (Noop) Close() error { return nil }
