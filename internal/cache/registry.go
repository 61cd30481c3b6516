// Package cache puts an in-process ristretto cache in front of the webhook
// registry. Mutations made through it invalidate immediately; changes made
// by other instances are picked up once the TTL expires.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/temmyjay001/claimsflow-webhooks/internal/webhooks"
)

// Registry wraps a WebhookRepository with read-through caching of Get and
// FindActiveSubscribers.
type Registry struct {
	next        webhooks.WebhookRepository
	byID        *ristretto.Cache[string, webhooks.WebhookConfig]
	subscribers *ristretto.Cache[string, []webhooks.WebhookConfig]
	ttl         time.Duration
}

var _ webhooks.WebhookRepository = (*Registry)(nil)

// NewRegistry caches up to maxEntries webhooks for ttl each. A ttl of zero
// or less disables caching and every read goes to next.
func NewRegistry(next webhooks.WebhookRepository, maxEntries int64, ttl time.Duration) (*Registry, error) {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	byID, err := ristretto.NewCache(&ristretto.Config[string, webhooks.WebhookConfig]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create webhook cache: %w", err)
	}
	subscribers, err := ristretto.NewCache(&ristretto.Config[string, []webhooks.WebhookConfig]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		byID.Close()
		return nil, fmt.Errorf("create subscriber cache: %w", err)
	}
	return &Registry{next: next, byID: byID, subscribers: subscribers, ttl: ttl}, nil
}

func subscriberKey(organizationID, event string) string {
	return organizationID + "\x00" + event
}

func (r *Registry) FindActiveSubscribers(ctx context.Context, organizationID, event string) ([]webhooks.WebhookConfig, error) {
	key := subscriberKey(organizationID, event)
	if r.ttl <= 0 {
		return r.next.FindActiveSubscribers(ctx, organizationID, event)
	}
	if cached, ok := r.subscribers.Get(key); ok {
		return cloneAll(cached), nil
	}
	subs, err := r.next.FindActiveSubscribers(ctx, organizationID, event)
	if err != nil {
		return nil, err
	}
	r.subscribers.SetWithTTL(key, cloneAll(subs), int64(len(subs)+1), r.ttl)
	return subs, nil
}

func (r *Registry) Get(ctx context.Context, webhookID string) (webhooks.WebhookConfig, error) {
	if r.ttl <= 0 {
		return r.next.Get(ctx, webhookID)
	}
	if cached, ok := r.byID.Get(webhookID); ok {
		return clone(cached), nil
	}
	wh, err := r.next.Get(ctx, webhookID)
	if err != nil {
		return webhooks.WebhookConfig{}, err
	}
	r.byID.SetWithTTL(webhookID, clone(wh), 1, r.ttl)
	return wh, nil
}

func (r *Registry) CreateWebhook(ctx context.Context, wh webhooks.WebhookConfig) (webhooks.WebhookConfig, error) {
	created, err := r.next.CreateWebhook(ctx, wh)
	if err != nil {
		return webhooks.WebhookConfig{}, err
	}
	r.subscribers.Clear()
	return created, nil
}

func (r *Registry) ListWebhooks(ctx context.Context, organizationID string) ([]webhooks.WebhookConfig, error) {
	return r.next.ListWebhooks(ctx, organizationID)
}

func (r *Registry) SetWebhookActive(ctx context.Context, webhookID string, active bool) (webhooks.WebhookConfig, error) {
	updated, err := r.next.SetWebhookActive(ctx, webhookID, active)
	r.invalidate(webhookID)
	if err != nil {
		return webhooks.WebhookConfig{}, err
	}
	return updated, nil
}

func (r *Registry) DeleteWebhook(ctx context.Context, webhookID string) error {
	err := r.next.DeleteWebhook(ctx, webhookID)
	r.invalidate(webhookID)
	return err
}

func (r *Registry) invalidate(webhookID string) {
	r.byID.Del(webhookID)
	r.subscribers.Clear()
}

// Wait blocks until buffered writes are applied.
func (r *Registry) Wait() {
	r.byID.Wait()
	r.subscribers.Wait()
}

func (r *Registry) Close() {
	r.byID.Close()
	r.subscribers.Close()
}

func clone(wh webhooks.WebhookConfig) webhooks.WebhookConfig {
	wh.Events = append([]string(nil), wh.Events...)
	if wh.Headers != nil {
		headers := make(map[string]string, len(wh.Headers))
		for k, v := range wh.Headers {
			headers[k] = v
		}
		wh.Headers = headers
	}
	return wh
}

func cloneAll(in []webhooks.WebhookConfig) []webhooks.WebhookConfig {
	if in == nil {
		return nil
	}
	out := make([]webhooks.WebhookConfig, len(in))
	for i, wh := range in {
		out[i] = clone(wh)
	}
	return out
}
