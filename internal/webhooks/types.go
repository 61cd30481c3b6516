// internal/webhooks/types.go
package webhooks

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// DeliveryStatus is the lifecycle state of a webhook delivery.
//
//	pending  --2xx-->            sent
//	pending  --failure-->        retrying | failed
//	retrying --2xx-->            sent
//	retrying --failure-->        retrying | failed
//
// sent and failed are terminal.
type DeliveryStatus string

const (
	StatusPending  DeliveryStatus = "pending"
	StatusRetrying DeliveryStatus = "retrying"
	StatusSent     DeliveryStatus = "sent"
	StatusFailed   DeliveryStatus = "failed"
)

// Terminal reports whether no further transitions can happen.
func (s DeliveryStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusRetrying, StatusSent, StatusFailed:
		return true
	}
	return false
}

// RetryStrategy selects the backoff applied between failed attempts.
type RetryStrategy string

const (
	RetryExponential RetryStrategy = "exponential"
	RetryLinear      RetryStrategy = "linear"
	RetryFixed       RetryStrategy = "fixed"
)

// WebhookConfig is a tenant-registered endpoint.
type WebhookConfig struct {
	ID             string            `json:"id"`
	OrganizationID string            `json:"organizationId"`
	URL            string            `json:"url"`
	Events         []string          `json:"events"`
	Secret         string            `json:"-"`
	IsActive       bool              `json:"isActive"`
	RetryStrategy  RetryStrategy     `json:"retryStrategy"`
	MaxRetries     int               `json:"maxRetries"`
	TimeoutMs      int               `json:"timeout"`
	Headers        map[string]string `json:"headers,omitempty"`
	Transform      string            `json:"transform,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Subscribes reports whether the webhook listens for event.
func (w WebhookConfig) Subscribes(event string) bool {
	for _, e := range w.Events {
		if e == event {
			return true
		}
	}
	return false
}

// ResponseSnapshot is what we keep of the receiver's most recent answer.
type ResponseSnapshot struct {
	StatusCode int               `json:"statusCode"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// WebhookDelivery is one (webhook, event occurrence) pair. Payload holds the
// canonical JSON captured at dispatch time.
type WebhookDelivery struct {
	ID          string            `json:"id"`
	WebhookID   string            `json:"webhookId"`
	Event       string            `json:"event"`
	Payload     json.RawMessage   `json:"payload"`
	Status      DeliveryStatus    `json:"status"`
	Attempts    int               `json:"attempts"`
	LastAttempt *time.Time        `json:"lastAttempt,omitempty"`
	NextRetry   *time.Time        `json:"nextRetry,omitempty"`
	Response    *ResponseSnapshot `json:"response,omitempty"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// Due reports whether the delivery is eligible for an attempt at now.
func (d WebhookDelivery) Due(now time.Time) bool {
	if d.Status != StatusPending && d.Status != StatusRetrying {
		return false
	}
	return d.NextRetry == nil || !d.NextRetry.After(now)
}

// DeliveryPatch carries every field the sender is allowed to mutate.
type DeliveryPatch struct {
	Status      DeliveryStatus
	Attempts    int
	LastAttempt *time.Time
	NextRetry   *time.Time
	Response    *ResponseSnapshot
	Error       string
}

// Apply returns d with the patch applied.
func (p DeliveryPatch) Apply(d WebhookDelivery) WebhookDelivery {
	d.Status = p.Status
	d.Attempts = p.Attempts
	d.LastAttempt = p.LastAttempt
	d.NextRetry = p.NextRetry
	d.Response = p.Response
	d.Error = p.Error
	return d
}

// DeliveryStats aggregates a webhook's delivery history.
type DeliveryStats struct {
	WebhookID   string          `json:"webhookId"`
	Total       int             `json:"total"`
	Pending     int             `json:"pending"`
	Retrying    int             `json:"retrying"`
	Sent        int             `json:"sent"`
	Failed      int             `json:"failed"`
	SuccessRate decimal.Decimal `json:"successRate"`
}

// TestResult is the synchronous outcome of a test delivery.
type TestResult struct {
	Success    bool              `json:"success"`
	StatusCode int               `json:"statusCode,omitempty"`
	Response   *ResponseSnapshot `json:"response,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

// BatchStats summarizes one processor pass.
type BatchStats struct {
	Due      int `json:"due"`
	Sent     int `json:"sent"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

const (
	TestEvent        = "test"
	UserAgent        = "Claimsflow-Webhooks/2.0"
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDelivery   = "X-Webhook-Delivery"
	ErrWebhookGone   = "webhook removed"
	DefaultBatchSize = 100
)

var (
	ErrWebhookNotFound  = errors.New("webhook not found")
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrDeliveryInFlight = errors.New("webhook delivery has not reached a terminal state")
	ErrInvalidTransform = errors.New("invalid webhook transform")
)
