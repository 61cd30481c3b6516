package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Service is the entry point used by the admin API: stats, test and
// redelivery, delivery history and webhook registration.
type Service struct {
	webhooks   WebhookRepository
	deliveries DeliveryStore
	sender     *Sender
	notifier   Notifier
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(webhooks WebhookRepository, deliveries DeliveryStore, sender *Sender, notifier Notifier, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		webhooks:   webhooks,
		deliveries: deliveries,
		sender:     sender,
		notifier:   notifier,
		logger:     logger,
		now:        time.Now,
	}
}

// Stats aggregates every delivery recorded for a webhook.
func (s *Service) Stats(ctx context.Context, webhookID string) (DeliveryStats, error) {
	counts, err := s.deliveries.CountByStatus(ctx, webhookID)
	if err != nil {
		return DeliveryStats{}, fmt.Errorf("count deliveries for webhook %s: %w", webhookID, err)
	}

	stats := DeliveryStats{
		WebhookID: webhookID,
		Pending:   counts[StatusPending],
		Retrying:  counts[StatusRetrying],
		Sent:      counts[StatusSent],
		Failed:    counts[StatusFailed],
	}
	stats.Total = stats.Pending + stats.Retrying + stats.Sent + stats.Failed
	stats.SuccessRate = successRate(stats.Sent, stats.Total)
	return stats, nil
}

func successRate(sent, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(sent)).DivRound(decimal.NewFromInt(int64(total)), 4)
}

// TestDelivery posts a synthetic "test" event once. It bypasses the store
// entirely: no delivery row, no retry, no effect on Stats.
func (s *Service) TestDelivery(ctx context.Context, webhookID string) (TestResult, error) {
	wh, err := s.webhooks.Get(ctx, webhookID)
	if err != nil {
		return TestResult{}, fmt.Errorf("load webhook %s: %w", webhookID, err)
	}

	payload, err := CanonicalJSON(map[string]any{
		"event":          TestEvent,
		"webhookId":      wh.ID,
		"organizationId": wh.OrganizationID,
		"timestamp":      s.now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"message": "This is a test webhook from Claimsflow",
		},
	})
	if err != nil {
		return TestResult{}, err
	}

	res := s.sender.send(ctx, wh, TestEvent, "test_"+uuid.NewString(), payload)
	result := TestResult{
		Success:    res.ok(),
		StatusCode: res.StatusCode,
		Response:   res.Response,
		Error:      res.errorMessage(),
		DurationMs: res.Elapsed.Milliseconds(),
	}

	s.logger.Info("test webhook sent",
		"webhook_id", wh.ID, "url", wh.URL, "success", result.Success, "status_code", result.StatusCode)
	return result, nil
}

// Redeliver queues a fresh copy of a terminal delivery. The original row is
// left untouched so its history stays intact.
func (s *Service) Redeliver(ctx context.Context, organizationID, deliveryID string) (WebhookDelivery, error) {
	original, _, err := s.GetDelivery(ctx, organizationID, deliveryID)
	if err != nil {
		return WebhookDelivery{}, err
	}
	if !original.Status.Terminal() {
		return WebhookDelivery{}, ErrDeliveryInFlight
	}

	copied, err := s.deliveries.Create(ctx, WebhookDelivery{
		ID:        uuid.NewString(),
		WebhookID: original.WebhookID,
		Event:     original.Event,
		Payload:   append([]byte(nil), original.Payload...),
		Status:    StatusPending,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return WebhookDelivery{}, fmt.Errorf("queue redelivery of %s: %w", deliveryID, err)
	}

	s.logger.Info("webhook delivery requeued", "original_id", deliveryID, "delivery_id", copied.ID)
	s.notifier.Notify(ctx)
	return copied, nil
}

// GetDelivery returns a delivery and its webhook, scoped to the organization.
func (s *Service) GetDelivery(ctx context.Context, organizationID, deliveryID string) (WebhookDelivery, WebhookConfig, error) {
	d, err := s.deliveries.FindByID(ctx, deliveryID)
	if err != nil {
		return WebhookDelivery{}, WebhookConfig{}, err
	}
	wh, err := s.GetWebhook(ctx, organizationID, d.WebhookID)
	if errors.Is(err, ErrWebhookNotFound) {
		// a delivery whose webhook belongs elsewhere is reported as missing
		return WebhookDelivery{}, WebhookConfig{}, ErrDeliveryNotFound
	}
	if err != nil {
		return WebhookDelivery{}, WebhookConfig{}, fmt.Errorf("load webhook %s for delivery %s: %w", d.WebhookID, deliveryID, err)
	}
	return d, wh, nil
}

// ListDeliveries returns a webhook's deliveries, newest first.
func (s *Service) ListDeliveries(ctx context.Context, webhookID string, status DeliveryStatus, limit int) ([]WebhookDelivery, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("unknown delivery status %q", status)
	}
	return s.deliveries.ListByWebhook(ctx, webhookID, status, limit)
}

// CreateWebhook registers an endpoint after checking its transform compiles.
func (s *Service) CreateWebhook(ctx context.Context, wh WebhookConfig) (WebhookConfig, error) {
	if wh.Transform != "" {
		if _, err := ParseTransform(wh.Transform); err != nil {
			return WebhookConfig{}, err
		}
	}
	if wh.RetryStrategy == "" {
		wh.RetryStrategy = RetryExponential
	}
	created, err := s.webhooks.CreateWebhook(ctx, wh)
	if err != nil {
		return WebhookConfig{}, fmt.Errorf("create webhook: %w", err)
	}
	s.logger.Info("webhook registered",
		"webhook_id", created.ID, "organization_id", created.OrganizationID, "url", created.URL, "events", created.Events)
	return created, nil
}

func (s *Service) ListWebhooks(ctx context.Context, organizationID string) ([]WebhookConfig, error) {
	return s.webhooks.ListWebhooks(ctx, organizationID)
}

// GetWebhook loads a webhook owned by organizationID.
func (s *Service) GetWebhook(ctx context.Context, organizationID, webhookID string) (WebhookConfig, error) {
	wh, err := s.webhooks.Get(ctx, webhookID)
	if err != nil {
		return WebhookConfig{}, err
	}
	if wh.OrganizationID != organizationID {
		return WebhookConfig{}, ErrWebhookNotFound
	}
	return wh, nil
}

func (s *Service) SetWebhookActive(ctx context.Context, organizationID, webhookID string, active bool) (WebhookConfig, error) {
	if _, err := s.GetWebhook(ctx, organizationID, webhookID); err != nil {
		return WebhookConfig{}, err
	}
	updated, err := s.webhooks.SetWebhookActive(ctx, webhookID, active)
	if err != nil {
		return WebhookConfig{}, err
	}
	return updated, nil
}

// DeleteWebhook removes the registration. Queued deliveries for it will be
// failed by the processor with "webhook removed".
func (s *Service) DeleteWebhook(ctx context.Context, organizationID, webhookID string) error {
	if _, err := s.GetWebhook(ctx, organizationID, webhookID); err != nil {
		return err
	}
	if err := s.webhooks.DeleteWebhook(ctx, webhookID); err != nil {
		return err
	}
	s.logger.Info("webhook deleted", "webhook_id", webhookID, "organization_id", organizationID)
	return nil
}
