package webhooks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessfulDelivery(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL)

	created := h.dispatch("claim.created", map[string]any{"claimId": "c1", "status": "open"})
	require.Len(t, created, 1)

	stats := h.process()
	assert.Equal(t, BatchStats{Due: 1, Sent: 1}, stats)

	d := h.delivery(created[0].ID)
	assert.Equal(t, StatusSent, d.Status)
	assert.Equal(t, 1, d.Attempts)
	require.NotNil(t, d.Response)
	assert.Equal(t, http.StatusOK, d.Response.StatusCode)
	assert.Equal(t, `{"ok":true}`, d.Response.Body)
	assert.Empty(t, d.Error)
	assert.Nil(t, d.NextRetry)
	require.NotNil(t, d.LastAttempt)
	assert.Equal(t, h.clock.Now(), *d.LastAttempt)

	reqs := rcv.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, `{"claimId":"c1","status":"open"}`, string(req.Body))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, UserAgent, req.Header.Get("User-Agent"))
	assert.Equal(t, "claim.created", req.Header.Get(HeaderEvent))
	assert.Equal(t, d.ID, req.Header.Get(HeaderDelivery))
	assert.True(t, VerifyBody(req.Body, req.Header.Get(HeaderSignature), testSecret))
	assert.True(t, Verify(map[string]any{"status": "open", "claimId": "c1"}, req.Header.Get(HeaderSignature), testSecret))

	// nothing left to do
	assert.Equal(t, BatchStats{}, h.process())
}

func TestRetriesExhausted(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusInternalServerError)
	h.webhook(rcv.URL, func(w *WebhookConfig) { w.MaxRetries = 2 })

	id := h.dispatch("claim.created", map[string]any{"claimId": "c1"})[0].ID

	h.process()
	d := h.delivery(id)
	assert.Equal(t, StatusRetrying, d.Status)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, "HTTP 500", d.Error)
	require.NotNil(t, d.NextRetry)
	assert.Equal(t, h.clock.Now().Add(120*time.Second), *d.NextRetry)

	// not due yet
	assert.Equal(t, 0, h.process().Due)

	h.clock.Advance(121 * time.Second)
	h.process()

	d = h.delivery(id)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, 2, d.Attempts)
	assert.Nil(t, d.NextRetry)
	assert.Equal(t, http.StatusInternalServerError, d.Response.StatusCode)
	assert.Equal(t, 2, rcv.Count())

	h.clock.Advance(24 * time.Hour)
	assert.Equal(t, 0, h.process().Due, "failed is terminal")
}

func TestRetryThenSuccessClearsError(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusBadGateway, http.StatusOK)
	h.webhook(rcv.URL, func(w *WebhookConfig) { w.RetryStrategy = RetryLinear })

	id := h.dispatch("claim.created", map[string]any{"claimId": "c1"})[0].ID

	h.process()
	d := h.delivery(id)
	require.Equal(t, StatusRetrying, d.Status)
	assert.Equal(t, h.clock.Now().Add(300*time.Second), *d.NextRetry)

	h.clock.Advance(300 * time.Second)
	h.process()

	d = h.delivery(id)
	assert.Equal(t, StatusSent, d.Status)
	assert.Equal(t, 2, d.Attempts)
	assert.Empty(t, d.Error)
	assert.Nil(t, d.NextRetry)

	reqs := rcv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, reqs[0].Body, reqs[1].Body)
	assert.Equal(t, reqs[0].Header.Get(HeaderSignature), reqs[1].Header.Get(HeaderSignature))
	assert.Equal(t, reqs[0].Header.Get(HeaderDelivery), reqs[1].Header.Get(HeaderDelivery))
}

func TestZeroMaxRetriesMeansSingleAttempt(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusServiceUnavailable)
	h.webhook(rcv.URL, func(w *WebhookConfig) { w.MaxRetries = 0 })

	id := h.dispatch("claim.created", map[string]any{})[0].ID
	h.process()

	d := h.delivery(id)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, 1, d.Attempts)
}

func TestTransformFailureFallsBackToOriginal(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	// claimId is a string, so writing below it fails for every payload used here
	h.webhook(rcv.URL, func(w *WebhookConfig) {
		w.Transform = `[{"op":"set","path":"claimId.nested","value":1}]`
	})

	id := h.dispatch("claim.created", map[string]any{"claimId": "c1", "amount": 10})[0].ID
	h.process()

	d := h.delivery(id)
	assert.Equal(t, StatusSent, d.Status)

	req := rcv.Requests()[0]
	original := `{"amount":10,"claimId":"c1"}`
	assert.Equal(t, original, string(req.Body))
	assert.Equal(t, SignBytes([]byte(original), testSecret), req.Header.Get(HeaderSignature))
}

func TestTransformAppliedBeforeSigning(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL, func(w *WebhookConfig) {
		w.Transform = `[{"op":"select","fields":["claimId"]},{"op":"wrap","key":"claim"}]`
	})

	id := h.dispatch("claim.created", map[string]any{"claimId": "c1", "secretField": "x"})[0].ID
	h.process()

	req := rcv.Requests()[0]
	assert.Equal(t, `{"claim":{"claimId":"c1"}}`, string(req.Body))
	assert.True(t, VerifyBody(req.Body, req.Header.Get(HeaderSignature), testSecret))

	// the stored snapshot is never rewritten
	assert.JSONEq(t, `{"claimId":"c1","secretField":"x"}`, string(h.delivery(id).Payload))
}

func TestWebhookHeadersCannotOverrideSignature(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL, func(w *WebhookConfig) {
		w.Headers = map[string]string{"X-Api-Key": "abc", HeaderSignature: "forged"}
	})

	h.dispatch("claim.created", map[string]any{"a": 1})
	h.process()

	req := rcv.Requests()[0]
	assert.Equal(t, "abc", req.Header.Get("X-Api-Key"))
	assert.True(t, VerifyBody(req.Body, req.Header.Get(HeaderSignature), testSecret))
}

func TestTransportErrorSchedulesRetry(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	dead := httptest.NewServer(http.NotFoundHandler())
	url := dead.URL
	dead.Close()
	h.webhook(url)

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	h.process()

	d := h.delivery(id)
	assert.Equal(t, StatusRetrying, d.Status)
	assert.NotEmpty(t, d.Error)
	assert.Nil(t, d.Response)
}

func TestTimeoutIsRetried(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	rcv.SetDelay(2 * time.Second)
	h.webhook(rcv.URL, func(w *WebhookConfig) { w.TimeoutMs = 50 })

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	h.process()

	d := h.delivery(id)
	assert.Equal(t, StatusRetrying, d.Status)
	assert.Contains(t, d.Error, "timed out")
}

func TestNonRetryableStatusFailsImmediately(t *testing.T) {
	h := newHarness(t, SenderConfig{NonRetryableStatuses: []int{http.StatusGone}})
	rcv := receiver(t, http.StatusGone)
	h.webhook(rcv.URL)

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	h.process()

	d := h.delivery(id)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, 1, d.Attempts)
	assert.Equal(t, "HTTP 410", d.Error)
}

func TestResponseBodyIsCapped(t *testing.T) {
	h := newHarness(t, SenderConfig{MaxResponseBytes: 8})
	rcv := receiver(t, http.StatusOK)
	rcv.SetBody(strings.Repeat("x", 100))
	h.webhook(rcv.URL)

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	h.process()

	assert.Equal(t, "xxxxxxxx", h.delivery(id).Response.Body)
}

func TestDeletedWebhookFailsDelivery(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	wh := h.webhook(rcv.URL)

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	require.NoError(t, h.store.DeleteWebhook(context.Background(), wh.ID))

	stats := h.process()
	assert.Equal(t, 1, stats.Failed)

	d := h.delivery(id)
	assert.Equal(t, StatusFailed, d.Status)
	assert.Equal(t, ErrWebhookGone, d.Error)
	assert.Equal(t, 0, d.Attempts)
	assert.Equal(t, 0, rcv.Count())
}

func TestDeactivatedWebhookStillReceivesQueuedDeliveries(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	wh := h.webhook(rcv.URL)

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	_, err := h.store.SetWebhookActive(context.Background(), wh.ID, false)
	require.NoError(t, err)

	h.process()
	assert.Equal(t, StatusSent, h.delivery(id).Status)
	assert.Empty(t, h.dispatch("claim.created", map[string]any{"a": 2}), "no new fanout once inactive")
}

func TestLeaseHeldElsewhereSkipsDelivery(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL)

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID
	_, ok, err := h.locker.Acquire(context.Background(), leaseKey(id), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	stats := h.process()
	assert.Equal(t, BatchStats{Due: 1, Skipped: 1}, stats)
	assert.Equal(t, 0, rcv.Count())
	assert.Equal(t, StatusPending, h.delivery(id).Status)

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.process().Sent)
}

func TestConcurrentProcessorsSendEachDeliveryOnce(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL)

	const n = 30
	for i := 0; i < n; i++ {
		h.dispatch("claim.created", map[string]any{"i": i})
	}

	other := NewProcessor(h.store, h.store, h.sender, h.locker, ProcessorConfig{Workers: 3}, nil)
	other.now = h.clock.Now

	var wg sync.WaitGroup
	for _, p := range []*Processor{h.processor, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.ProcessDue(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, rcv.Count())
	seen := map[string]bool{}
	for _, req := range rcv.Requests() {
		id := req.Header.Get(HeaderDelivery)
		assert.False(t, seen[id], "delivery %s sent twice", id)
		seen[id] = true
	}
}

func TestStartDrainsOnNotify(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL)

	h.processor.cfg.PollInterval = time.Hour
	h.dispatcher.notifier = h.processor

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.processor.Start(ctx)
		close(done)
	}()

	h.dispatch("claim.created", map[string]any{"a": 1})

	assert.Eventually(t, func() bool { return rcv.Count() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

func TestDispatchSnapshotsPayload(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	h.webhook("http://unused.invalid")
	h.webhook("http://unused.invalid/2")

	payload := map[string]any{"status": "open", "tags": []any{"a"}}
	created := h.dispatch("claim.created", payload)
	require.Len(t, created, 2)
	assert.NotEqual(t, created[0].ID, created[1].ID)

	payload["status"] = "closed"
	payload["tags"].([]any)[0] = "mutated"

	for _, c := range created {
		d := h.delivery(c.ID)
		assert.Equal(t, StatusPending, d.Status)
		assert.Equal(t, 0, d.Attempts)
		assert.Equal(t, `{"status":"open","tags":["a"]}`, string(d.Payload))
	}
}

func TestDispatchWithoutSubscribers(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	h.webhook("http://unused.invalid", func(w *WebhookConfig) { w.Events = []string{"trade.assigned"} })
	h.webhook("http://unused.invalid", func(w *WebhookConfig) { w.OrganizationID = "org_other" })

	assert.Empty(t, h.dispatch("claim.created", map[string]any{"a": 1}))

	due, err := h.store.FindDue(context.Background(), h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatchRejectsUnencodablePayload(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	h.webhook("http://unused.invalid")

	_, err := h.dispatcher.Dispatch(context.Background(), testOrg, "claim.created", map[string]any{"f": func() {}})
	assert.Error(t, err)
	_, err = h.dispatcher.Dispatch(context.Background(), testOrg, "claim.created", json.RawMessage(`{bad`))
	assert.Error(t, err)
}

func TestCancelledPassLeavesDeliveriesDue(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	h.webhook(rcv.URL, func(w *WebhookConfig) { w.MaxRetries = 1 })

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := h.processor.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, BatchStats{Due: 1, Skipped: 1}, stats)

	d := h.delivery(id)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, 0, d.Attempts)
	assert.Empty(t, d.Error)
	assert.Equal(t, 0, rcv.Count())

	assert.Equal(t, 1, h.process().Sent)
	assert.Equal(t, StatusSent, h.delivery(id).Status)
}

func TestShutdownDuringAttemptDoesNotSpendIt(t *testing.T) {
	h := newHarness(t, SenderConfig{})
	rcv := receiver(t, http.StatusOK)
	rcv.SetDelay(5 * time.Second)
	h.webhook(rcv.URL, func(w *WebhookConfig) { w.MaxRetries = 1 })

	id := h.dispatch("claim.created", map[string]any{"a": 1})[0].ID

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		assert.Eventually(t, func() bool { return rcv.Count() == 1 }, 5*time.Second, 5*time.Millisecond)
		cancel()
	}()
	stats, err := h.processor.ProcessDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)

	d := h.delivery(id)
	assert.Equal(t, StatusPending, d.Status)
	assert.Equal(t, 0, d.Attempts)
	assert.Nil(t, d.LastAttempt)

	// the lease was released on the way out
	_, ok, err := h.locker.Acquire(context.Background(), leaseKey(id), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}
