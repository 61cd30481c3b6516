package webhooks

import (
	"context"
	"time"
)

// Registry is the read side of webhook configuration used by fanout and by
// the processor when it joins a delivery to its webhook.
type Registry interface {
	FindActiveSubscribers(ctx context.Context, organizationID, event string) ([]WebhookConfig, error)
	Get(ctx context.Context, webhookID string) (WebhookConfig, error)
}

// WebhookRepository adds the registration operations behind the admin API.
type WebhookRepository interface {
	Registry
	CreateWebhook(ctx context.Context, wh WebhookConfig) (WebhookConfig, error)
	ListWebhooks(ctx context.Context, organizationID string) ([]WebhookConfig, error)
	SetWebhookActive(ctx context.Context, webhookID string, active bool) (WebhookConfig, error)
	DeleteWebhook(ctx context.Context, webhookID string) error
}

// DeliveryStore persists delivery records.
type DeliveryStore interface {
	Create(ctx context.Context, d WebhookDelivery) (WebhookDelivery, error)
	Update(ctx context.Context, id string, patch DeliveryPatch) error
	FindDue(ctx context.Context, now time.Time, limit int) ([]WebhookDelivery, error)
	FindByID(ctx context.Context, id string) (WebhookDelivery, error)
	CountByStatus(ctx context.Context, webhookID string) (map[DeliveryStatus]int, error)
	ListByWebhook(ctx context.Context, webhookID string, status DeliveryStatus, limit int) ([]WebhookDelivery, error)
}

// Notifier tells the processor that new deliveries are waiting.
type Notifier interface {
	Notify(ctx context.Context)
}

type NotifierFunc func(ctx context.Context)

func (f NotifierFunc) Notify(ctx context.Context) { f(ctx) }

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context) {}
