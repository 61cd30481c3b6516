package webhooks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps webhooks and deliveries in process memory. It backs the
// "memory" store driver and the tests.
type MemoryStore struct {
	mu         sync.RWMutex
	webhooks   map[string]WebhookConfig
	deliveries map[string]WebhookDelivery
	order      []string // delivery ids in creation order
	now        func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		webhooks:   map[string]WebhookConfig{},
		deliveries: map[string]WebhookDelivery{},
		now:        time.Now,
	}
}

func (m *MemoryStore) CreateWebhook(_ context.Context, wh WebhookConfig) (WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if wh.ID == "" {
		wh.ID = uuid.NewString()
	}
	if _, exists := m.webhooks[wh.ID]; exists {
		return WebhookConfig{}, fmt.Errorf("webhook %s already exists", wh.ID)
	}
	now := m.now().UTC()
	if wh.CreatedAt.IsZero() {
		wh.CreatedAt = now
	}
	wh.UpdatedAt = now
	wh = copyWebhook(wh)
	m.webhooks[wh.ID] = wh
	return copyWebhook(wh), nil
}

func (m *MemoryStore) FindActiveSubscribers(_ context.Context, organizationID, event string) ([]WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []WebhookConfig
	for _, wh := range m.webhooks {
		if wh.OrganizationID == organizationID && wh.IsActive && wh.Subscribes(event) {
			out = append(out, copyWebhook(wh))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Get(_ context.Context, webhookID string) (WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wh, ok := m.webhooks[webhookID]
	if !ok {
		return WebhookConfig{}, ErrWebhookNotFound
	}
	return copyWebhook(wh), nil
}

func (m *MemoryStore) ListWebhooks(_ context.Context, organizationID string) ([]WebhookConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []WebhookConfig{}
	for _, wh := range m.webhooks {
		if wh.OrganizationID == organizationID {
			out = append(out, copyWebhook(wh))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) SetWebhookActive(_ context.Context, webhookID string, active bool) (WebhookConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wh, ok := m.webhooks[webhookID]
	if !ok {
		return WebhookConfig{}, ErrWebhookNotFound
	}
	wh.IsActive = active
	wh.UpdatedAt = m.now().UTC()
	m.webhooks[webhookID] = wh
	return copyWebhook(wh), nil
}

func (m *MemoryStore) DeleteWebhook(_ context.Context, webhookID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.webhooks[webhookID]; !ok {
		return ErrWebhookNotFound
	}
	delete(m.webhooks, webhookID)
	return nil
}

func (m *MemoryStore) Create(_ context.Context, d WebhookDelivery) (WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if _, exists := m.deliveries[d.ID]; exists {
		return WebhookDelivery{}, fmt.Errorf("webhook delivery %s already exists", d.ID)
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = m.now().UTC()
	}
	d = copyDelivery(d)
	m.deliveries[d.ID] = d
	m.order = append(m.order, d.ID)
	return copyDelivery(d), nil
}

func (m *MemoryStore) Update(_ context.Context, id string, patch DeliveryPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.deliveries[id]
	if !ok {
		return ErrDeliveryNotFound
	}
	m.deliveries[id] = copyDelivery(patch.Apply(d))
	return nil
}

func (m *MemoryStore) FindDue(_ context.Context, now time.Time, limit int) ([]WebhookDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []WebhookDelivery{}
	for _, id := range m.order {
		d := m.deliveries[id]
		if !d.Due(now) {
			continue
		}
		out = append(out, copyDelivery(d))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (WebhookDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deliveries[id]
	if !ok {
		return WebhookDelivery{}, ErrDeliveryNotFound
	}
	return copyDelivery(d), nil
}

func (m *MemoryStore) CountByStatus(_ context.Context, webhookID string) (map[DeliveryStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := map[DeliveryStatus]int{}
	for _, d := range m.deliveries {
		if d.WebhookID == webhookID {
			counts[d.Status]++
		}
	}
	return counts, nil
}

func (m *MemoryStore) ListByWebhook(_ context.Context, webhookID string, status DeliveryStatus, limit int) ([]WebhookDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []WebhookDelivery{}
	for i := len(m.order) - 1; i >= 0; i-- {
		d := m.deliveries[m.order[i]]
		if d.WebhookID != webhookID || (status != "" && d.Status != status) {
			continue
		}
		out = append(out, copyDelivery(d))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func copyWebhook(wh WebhookConfig) WebhookConfig {
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

func copyDelivery(d WebhookDelivery) WebhookDelivery {
	d.Payload = append([]byte(nil), d.Payload...)
	d.LastAttempt = copyTime(d.LastAttempt)
	d.NextRetry = copyTime(d.NextRetry)
	if d.Response != nil {
		resp := *d.Response
		if resp.Headers != nil {
			headers := make(map[string]string, len(resp.Headers))
			for k, v := range resp.Headers {
				headers[k] = v
			}
			resp.Headers = headers
		}
		d.Response = &resp
	}
	return d
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var (
	_ WebhookRepository = (*MemoryStore)(nil)
	_ DeliveryStore     = (*MemoryStore)(nil)
)
