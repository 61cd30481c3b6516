package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	testutil "github.com/temmyjay001/claimsflow-webhooks/internal/testUtil"
)

const (
	testOrg    = "org_1"
	testSecret = "whsec_test_secret_123"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// harness wires the full pipeline over a MemoryStore and a fake clock.
type harness struct {
	t          *testing.T
	clock      *fakeClock
	store      *MemoryStore
	locker     *MemoryLocker
	sender     *Sender
	processor  *Processor
	dispatcher *Dispatcher
	service    *Service
}

func newHarness(t *testing.T, cfg SenderConfig) *harness {
	t.Helper()
	clock := newFakeClock()

	store := NewMemoryStore()
	store.now = clock.Now

	locker := NewMemoryLocker()
	locker.now = clock.Now

	sender := NewSender(store, nil, cfg, nil)
	sender.now = clock.Now

	processor := NewProcessor(store, store, sender, locker, ProcessorConfig{Workers: 4}, nil)
	processor.now = clock.Now

	dispatcher := NewDispatcher(store, store, nil, nil)
	dispatcher.now = clock.Now

	service := NewService(store, store, sender, nil, nil)
	service.now = clock.Now

	return &harness{
		t:          t,
		clock:      clock,
		store:      store,
		locker:     locker,
		sender:     sender,
		processor:  processor,
		dispatcher: dispatcher,
		service:    service,
	}
}

func (h *harness) webhook(url string, mutate ...func(*WebhookConfig)) WebhookConfig {
	h.t.Helper()
	wh := WebhookConfig{
		OrganizationID: testOrg,
		URL:            url,
		Events:         []string{"claim.created"},
		Secret:         testSecret,
		IsActive:       true,
		RetryStrategy:  RetryExponential,
		MaxRetries:     3,
	}
	for _, m := range mutate {
		m(&wh)
	}
	created, err := h.store.CreateWebhook(context.Background(), wh)
	require.NoError(h.t, err)
	return created
}

func (h *harness) dispatch(event string, payload any) []WebhookDelivery {
	h.t.Helper()
	created, err := h.dispatcher.Dispatch(context.Background(), testOrg, event, payload)
	require.NoError(h.t, err)
	return created
}

func (h *harness) process() BatchStats {
	h.t.Helper()
	stats, err := h.processor.ProcessDue(context.Background())
	require.NoError(h.t, err)
	return stats
}

func (h *harness) delivery(id string) WebhookDelivery {
	h.t.Helper()
	d, err := h.store.FindByID(context.Background(), id)
	require.NoError(h.t, err)
	return d
}

func receiver(t *testing.T, statuses ...int) *testutil.Receiver {
	return testutil.NewReceiver(t, statuses...)
}
