package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/temmyjay001/claimsflow-webhooks/internal/webhooks"
)

// Dispatcher is the fanout the publisher hands envelopes to.
type Dispatcher interface {
	Dispatch(ctx context.Context, organizationID, event string, payload any) ([]webhooks.WebhookDelivery, error)
}

// Publisher wraps catalog events in an Envelope and queues them for every
// subscribed webhook.
type Publisher struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewPublisher(dispatcher Dispatcher, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{dispatcher: dispatcher, logger: logger, now: time.Now}
}

// Publish validates eventType, builds the envelope and dispatches it. It
// returns the number of deliveries queued.
func (p *Publisher) Publish(ctx context.Context, organizationID, eventType string, data any) (int, error) {
	if !Known(eventType) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownEvent, eventType)
	}

	raw, err := marshalData(data)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize %s event: %w", eventType, err)
	}

	envelope := Envelope{
		ID:             "evt_" + uuid.NewString(),
		Type:           eventType,
		OrganizationID: organizationID,
		CreatedAt:      p.now().UTC(),
		Data:           raw,
	}

	deliveries, err := p.dispatcher.Dispatch(ctx, organizationID, eventType, envelope)
	if err != nil {
		return len(deliveries), fmt.Errorf("failed to dispatch %s event: %w", eventType, err)
	}

	p.logger.Info("published event",
		"event_id", envelope.ID, "type", eventType, "organization_id", organizationID, "deliveries", len(deliveries))
	return len(deliveries), nil
}

// Emit publishes without making the caller wait on or handle the outcome.
// The request context is detached so a finished request does not cancel
// the fanout.
func (p *Publisher) Emit(ctx context.Context, organizationID, eventType string, data any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if _, err := p.Publish(ctx, organizationID, eventType, data); err != nil {
			p.logger.Error("failed to emit event",
				"type", eventType, "organization_id", organizationID, "error", err)
		}
	}()
}

func marshalData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, fmt.Errorf("data is not valid JSON")
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
