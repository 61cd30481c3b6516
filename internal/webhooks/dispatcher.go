package webhooks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/temmyjay001/claimsflow-webhooks/internal/metrics"
)

// Dispatcher fans an event out to every active subscriber of a tenant.
type Dispatcher struct {
	registry Registry
	store    DeliveryStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewDispatcher(registry Registry, store DeliveryStore, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: registry,
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch creates one pending delivery per matching webhook. The payload is
// snapshotted as canonical JSON before any row is written, so later changes
// to the caller's value never reach stored deliveries. No match is a no-op.
func (d *Dispatcher) Dispatch(ctx context.Context, organizationID, event string, payload any) ([]WebhookDelivery, error) {
	body, err := CanonicalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s payload: %w", event, err)
	}

	subscribers, err := d.registry.FindActiveSubscribers(ctx, organizationID, event)
	if err != nil {
		return nil, fmt.Errorf("find subscribers for %s: %w", event, err)
	}
	if len(subscribers) == 0 {
		d.logger.Debug("no webhooks subscribed", "organization_id", organizationID, "event", event)
		return nil, nil
	}

	created := make([]WebhookDelivery, 0, len(subscribers))
	for _, wh := range subscribers {
		delivery, err := d.store.Create(ctx, WebhookDelivery{
			ID:        uuid.NewString(),
			WebhookID: wh.ID,
			Event:     event,
			Payload:   append([]byte(nil), body...),
			Status:    StatusPending,
			Attempts:  0,
			CreatedAt: d.now().UTC(),
		})
		if err != nil {
			// rows already written stay queued; report how far we got
			if len(created) > 0 {
				d.notifier.Notify(ctx)
			}
			return created, fmt.Errorf("create delivery for webhook %s: %w", wh.ID, err)
		}
		created = append(created, delivery)
	}

	metrics.DeliveriesCreated.WithLabelValues(event).Add(float64(len(created)))
	d.logger.Info("queued webhook deliveries",
		"organization_id", organizationID, "event", event, "deliveries", len(created))

	d.notifier.Notify(ctx)
	return created, nil
}
