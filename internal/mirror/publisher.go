// Package mirror forwards bridge events to a Pub/Sub topic so a backend can
// observe token and notification activity.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-sdk-bridge/pkg/bridge"
)

// Record is the JSON body of every mirrored message.
type Record struct {
	InstallationID string         `json:"installation_id"`
	Event          string         `json:"event"`
	Payload        map[string]any `json:"payload,omitempty"`
	EmittedAt      time.Time      `json:"emitted_at"`
}

// Sink hands each event to a publisher. Delivery is asynchronous; Stop
// flushes what is still pending.
type Sink struct {
	publisher      messagepipeline.SimplePublisher
	installationID string
	logger         *slog.Logger
}

func NewSink(publisher messagepipeline.SimplePublisher, installationID string, logger *slog.Logger) *Sink {
	return &Sink{
		publisher:      publisher,
		installationID: installationID,
		logger:         logger.With("component", "mirror"),
	}
}

// NewPubsubSink builds a Sink publishing to topicID.
func NewPubsubSink(client *pubsub.Client, topicID, installationID string, logger *slog.Logger) (*Sink, error) {
	publisher, err := messagepipeline.NewGoogleSimplePublisher(
		messagepipeline.NewGoogleSimplePublisherDefaults(topicID), client, logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mirror publisher: %w", err)
	}
	return NewSink(publisher, installationID, logger), nil
}

func (s *Sink) Mirror(ctx context.Context, ev bridge.Event) error {
	data, err := json.Marshal(Record{
		InstallationID: s.installationID,
		Event:          ev.Name,
		Payload:        ev.Payload,
		EmittedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", ev.Name, err)
	}

	attributes := map[string]string{
		"event":           ev.Name,
		"installation_id": s.installationID,
	}
	if err := s.publisher.Publish(ctx, data, attributes); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", ev.Name, err)
	}
	s.logger.Debug("Mirrored event", "event", ev.Name)
	return nil
}

// Stop flushes pending messages.
func (s *Sink) Stop(ctx context.Context) error {
	return s.publisher.Stop(ctx)
}
