package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCountsEveryStatus(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	ok := receiver(t, http.StatusOK)
	bad := receiver(t, http.StatusInternalServerError)

	wh := h.webhook(ok.URL)
	h.dispatch("claim.created", map[string]any{"n": 1})
	h.dispatch("claim.created", map[string]any{"n": 2})
	h.process()

	// point the same webhook at a failing endpoint for the next two
	h.store.mu.Lock()
	stored := h.store.webhooks[wh.ID]
	stored.URL = bad.URL
	stored.MaxRetries = 0
	h.store.webhooks[wh.ID] = stored
	h.store.mu.Unlock()

	h.dispatch("claim.created", map[string]any{"n": 3})
	h.dispatch("claim.created", map[string]any{"n": 4})
	h.process()

	stats, err := h.service.Stats(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Retrying)
	assert.True(t, decimal.RequireFromString("0.5").Equal(stats.SuccessRate), stats.SuccessRate.String())
}

func TestStatsEmptyAndInFlight(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	wh := h.webhook("http://unused.invalid")

	stats, err := h.service.Stats(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	assert.True(t, stats.SuccessRate.IsZero())

	h.dispatch("claim.created", map[string]any{"n": 1})
	h.dispatch("claim.created", map[string]any{"n": 2})
	h.dispatch("claim.created", map[string]any{"n": 3})

	stats, err = h.service.Stats(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Pending)
	assert.Equal(t, 3, stats.Total)
	assert.True(t, stats.SuccessRate.IsZero())
}

func TestSuccessRateRounding(t *testing.T) {
	assert.Equal(t, "0.3333", successRate(1, 3).String())
	assert.Equal(t, "1", successRate(5, 5).String())
	assert.Equal(t, "0", successRate(0, 0).String())
}

func TestTestDeliveryLeavesNoTrace(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	wh := h.webhook(rcv.URL, func(w *WebhookConfig) { w.Events = []string{"trade.assigned"} })

	result, err := h.service.TestDelivery(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Empty(t, result.Error)

	req := rcv.Requests()[0]
	assert.Equal(t, TestEvent, req.Header.Get(HeaderEvent))
	assert.True(t, VerifyBody(req.Body, req.Header.Get(HeaderSignature), testSecret))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.Body, &body))
	assert.Equal(t, "test", body["event"])
	assert.Equal(t, wh.ID, body["webhookId"])

	stats, err := h.service.Stats(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)

	list, err := h.service.ListDeliveries(context.Background(), wh.ID, "", 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestTestDeliveryReportsFailure(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusUnauthorized)
	wh := h.webhook(rcv.URL)

	result, err := h.service.TestDelivery(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusUnauthorized, result.StatusCode)
	assert.Equal(t, "HTTP 401", result.Error)
	assert.Equal(t, 1, rcv.Count(), "test deliveries are never retried")

	_, err = h.service.TestDelivery(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

func TestTestDeliveryAppliesTransform(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	wh := h.webhook(rcv.URL, func(w *WebhookConfig) {
		w.Transform = `[{"op":"select","fields":["event"]}]`
	})

	_, err := h.service.TestDelivery(context.Background(), wh.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"event":"test"}`, string(rcv.Requests()[0].Body))
}

func TestRedeliverCreatesNewRow(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusGone, http.StatusOK)
	wh := h.webhook(rcv.URL, func(w *WebhookConfig) { w.MaxRetries = 0 })

	original := h.dispatch("claim.created", map[string]any{"claimId": "c1"})[0]
	h.process()
	require.Equal(t, StatusFailed, h.delivery(original.ID).Status)

	copied, err := h.service.Redeliver(context.Background(), testOrg, original.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original.ID, copied.ID)
	assert.Equal(t, StatusPending, copied.Status)
	assert.Equal(t, 0, copied.Attempts)
	assert.Equal(t, wh.ID, copied.WebhookID)
	assert.JSONEq(t, string(original.Payload), string(copied.Payload))

	h.process()
	assert.Equal(t, StatusSent, h.delivery(copied.ID).Status)

	before := h.delivery(original.ID)
	assert.Equal(t, StatusFailed, before.Status)
	assert.Equal(t, 1, before.Attempts)
	assert.Equal(t, "HTTP 410", before.Error)
}

func TestRedeliverRejectsInFlightAndForeign(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	h.webhook("http://unused.invalid")

	pending := h.dispatch("claim.created", map[string]any{"a": 1})[0]

	_, err := h.service.Redeliver(context.Background(), testOrg, pending.ID)
	assert.ErrorIs(t, err, ErrDeliveryInFlight)

	_, err = h.service.Redeliver(context.Background(), "org_other", pending.ID)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)

	_, err = h.service.Redeliver(context.Background(), testOrg, "missing")
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestGetDeliveryScopedToOrganization(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	wh := h.webhook("http://unused.invalid")
	d := h.dispatch("claim.created", map[string]any{"a": 1})[0]

	got, gotWebhook, err := h.service.GetDelivery(context.Background(), testOrg, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, wh.ID, gotWebhook.ID)

	_, _, err = h.service.GetDelivery(context.Background(), "org_other", d.ID)
	assert.ErrorIs(t, err, ErrDeliveryNotFound)
}

func TestListDeliveriesNewestFirst(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	wh := h.webhook("http://unused.invalid")

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, h.dispatch("claim.created", map[string]any{"i": i})[0].ID)
		h.clock.Advance(time.Second)
	}

	list, err := h.service.ListDeliveries(context.Background(), wh.ID, "", 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, ids[2], list[0].ID)
	assert.Equal(t, ids[1], list[1].ID)

	list, err = h.service.ListDeliveries(context.Background(), wh.ID, StatusSent, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = h.service.ListDeliveries(context.Background(), wh.ID, "bogus", 0)
	assert.Error(t, err)
}

func TestWebhookLifecycleThroughService(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	ctx := context.Background()

	_, err := h.service.CreateWebhook(ctx, WebhookConfig{
		OrganizationID: testOrg,
		URL:            "https://example.com/hook",
		Events:         []string{"claim.created"},
		Secret:         testSecret,
		IsActive:       true,
		Transform:      `[{"op":"explode"}]`,
	})
	assert.ErrorIs(t, err, ErrInvalidTransform)

	wh, err := h.service.CreateWebhook(ctx, WebhookConfig{
		OrganizationID: testOrg,
		URL:            "https://example.com/hook",
		Events:         []string{"claim.created"},
		Secret:         testSecret,
		IsActive:       true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, wh.ID)
	assert.Equal(t, RetryExponential, wh.RetryStrategy)

	_, err = h.service.GetWebhook(ctx, "org_other", wh.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
	_, err = h.service.SetWebhookActive(ctx, "org_other", wh.ID, false)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
	assert.ErrorIs(t, h.service.DeleteWebhook(ctx, "org_other", wh.ID), ErrWebhookNotFound)

	updated, err := h.service.SetWebhookActive(ctx, testOrg, wh.ID, false)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)

	list, err := h.service.ListWebhooks(ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, h.service.DeleteWebhook(ctx, testOrg, wh.ID))
	_, err = h.service.GetWebhook(ctx, testOrg, wh.ID)
	assert.ErrorIs(t, err, ErrWebhookNotFound)
}

// unavailableRegistry fails every webhook lookup the way a lost database would.
type unavailableRegistry struct {
	*MemoryStore
}

func (unavailableRegistry) Get(context.Context, string) (WebhookConfig, error) {
	return WebhookConfig{}, errors.New("connection reset by peer")
}

func TestGetDeliveryStoreErrorIsNotNotFound(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	h.webhook("http://unused.invalid")
	d := h.dispatch("claim.created", map[string]any{"a": 1})[0]

	svc := NewService(unavailableRegistry{h.store}, h.store, h.sender, nil, nil)

	_, _, err := svc.GetDelivery(context.Background(), testOrg, d.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeliveryNotFound)
	assert.ErrorContains(t, err, "connection reset by peer")

	_, err = svc.Redeliver(context.Background(), testOrg, d.ID)
	assert.NotErrorIs(t, err, ErrDeliveryNotFound)
}
