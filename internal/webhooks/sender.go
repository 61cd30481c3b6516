package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/temmyjay001/claimsflow-webhooks/internal/metrics"
)

var tracer = otel.Tracer("github.com/temmyjay001/claimsflow-webhooks/internal/webhooks")

// SenderConfig tunes outbound delivery.
type SenderConfig struct {
	// DefaultTimeout applies when a webhook has no timeout of its own.
	DefaultTimeout time.Duration
	// MaxResponseBytes caps how much of the receiver's body is kept.
	MaxResponseBytes int64
	// NonRetryableStatuses fail a delivery immediately. Empty means every
	// non-2xx status is retried.
	NonRetryableStatuses []int
	UserAgent            string
	// Limiter throttles all outbound requests. Nil disables throttling.
	Limiter *rate.Limiter
}

func DefaultSenderConfig() SenderConfig {
	return SenderConfig{
		DefaultTimeout:   30 * time.Second,
		MaxResponseBytes: 64 << 10,
		UserAgent:        UserAgent,
	}
}

// NewHTTPClient returns the traced client used for deliveries. Timeouts are
// applied per request from the webhook configuration.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// Sender performs single delivery attempts.
type Sender struct {
	store        DeliveryStore
	client       *http.Client
	cfg          SenderConfig
	nonRetryable map[int]struct{}
	logger       *slog.Logger
	now          func() time.Time
}

func NewSender(store DeliveryStore, client *http.Client, cfg SenderConfig, logger *slog.Logger) *Sender {
	defaults := DefaultSenderConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaults.MaxResponseBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if client == nil {
		client = NewHTTPClient()
	}
	if logger == nil {
		logger = slog.Default()
	}
	nonRetryable := make(map[int]struct{}, len(cfg.NonRetryableStatuses))
	for _, code := range cfg.NonRetryableStatuses {
		nonRetryable[code] = struct{}{}
	}
	return &Sender{
		store:        store,
		client:       client,
		cfg:          cfg,
		nonRetryable: nonRetryable,
		logger:       logger,
		now:          time.Now,
	}
}

// sendResult is the raw outcome of one HTTP POST.
type sendResult struct {
	StatusCode int
	Response   *ResponseSnapshot
	Err        error
	Elapsed    time.Duration
}

func (r sendResult) ok() bool {
	return r.Err == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r sendResult) errorMessage() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	if !r.ok() {
		return fmt.Sprintf("HTTP %d", r.StatusCode)
	}
	return ""
}

// Attempt sends d once and persists the resulting state. It never fails:
// every outcome, including store errors, ends in a logged mutation. If ctx
// is cancelled before a response arrives nothing is written and d is
// returned unchanged, still due.
func (s *Sender) Attempt(ctx context.Context, d WebhookDelivery, wh WebhookConfig) WebhookDelivery {
	ctx, span := tracer.Start(ctx, "webhooks.attempt", trace.WithAttributes(
		attribute.String("webhook.id", wh.ID),
		attribute.String("webhook.delivery_id", d.ID),
		attribute.String("webhook.event", d.Event),
		attribute.Int("webhook.attempt", d.Attempts+1),
	))
	defer span.End()

	res := s.send(ctx, wh, d.Event, d.ID, d.Payload)

	// cancelled before the receiver answered: the attempt never happened
	if res.Response == nil && ctx.Err() != nil {
		span.SetStatus(codes.Error, "interrupted")
		s.logger.Info("webhook delivery attempt interrupted, left due",
			"delivery_id", d.ID, "webhook_id", wh.ID, "error", res.Err)
		return d
	}

	now := s.now().UTC()
	patch := DeliveryPatch{
		Attempts:    d.Attempts + 1,
		LastAttempt: &now,
		Response:    res.Response,
		Error:       res.errorMessage(),
	}

	switch {
	case res.ok():
		patch.Status = StatusSent
	case s.permanent(res):
		patch.Status = StatusFailed
	default:
		if next := NextRetryAt(patch.Attempts, wh.RetryStrategy, wh.MaxRetries, now); next != nil {
			patch.Status = StatusRetrying
			patch.NextRetry = next
		} else {
			patch.Status = StatusFailed
		}
	}

	if patch.Status != StatusSent {
		span.SetStatus(codes.Error, patch.Error)
	}
	span.SetAttributes(attribute.String("webhook.status", string(patch.Status)))
	metrics.ObserveAttempt(d.Event, string(patch.Status), res.Elapsed)

	// the row must be written even if the poller is shutting down
	if err := s.store.Update(context.WithoutCancel(ctx), d.ID, patch); err != nil {
		s.logger.Error("failed to persist webhook delivery attempt",
			"delivery_id", d.ID, "webhook_id", wh.ID, "status", patch.Status, "error", err)
	}

	s.logger.Info("webhook delivery attempt",
		"delivery_id", d.ID,
		"webhook_id", wh.ID,
		"event", d.Event,
		"attempt", patch.Attempts,
		"status", patch.Status,
		"status_code", res.StatusCode,
		"duration_ms", res.Elapsed.Milliseconds(),
	)
	return patch.Apply(d)
}

func (s *Sender) permanent(res sendResult) bool {
	if res.Err != nil {
		return false
	}
	_, ok := s.nonRetryable[res.StatusCode]
	return ok
}

// send transforms, signs and posts payload. It is shared by Attempt and
// test deliveries.
func (s *Sender) send(ctx context.Context, wh WebhookConfig, event, deliveryID string, payload []byte) sendResult {
	body := s.prepareBody(wh, deliveryID, payload)

	if s.cfg.Limiter != nil {
		if err := s.cfg.Limiter.Wait(ctx); err != nil {
			return sendResult{Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	timeout := s.cfg.DefaultTimeout
	if wh.TimeoutMs > 0 {
		timeout = time.Duration(wh.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return sendResult{Err: fmt.Errorf("build request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	for k, v := range wh.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set(HeaderSignature, SignBytes(body, wh.Secret))
	req.Header.Set(HeaderEvent, event)
	req.Header.Set(HeaderDelivery, deliveryID)

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		elapsed := time.Since(start)
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("request timed out after %s: %w", timeout, err)
		}
		return sendResult{Err: err, Elapsed: elapsed}
	}
	defer resp.Body.Close()

	data, readErr := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxResponseBytes))
	if readErr != nil {
		s.logger.Warn("failed to read webhook response body", "delivery_id", deliveryID, "error", readErr)
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return sendResult{
		StatusCode: resp.StatusCode,
		Response: &ResponseSnapshot{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Headers:    headers,
		},
		Elapsed: time.Since(start),
	}
}

// prepareBody returns the canonical body to post. A failing transform is
// logged and the original payload is sent instead.
func (s *Sender) prepareBody(wh WebhookConfig, deliveryID string, payload []byte) []byte {
	body, err := Canonicalize(payload)
	if err != nil {
		s.logger.Warn("webhook payload is not canonical JSON, sending as stored", "delivery_id", deliveryID, "error", err)
		body = payload
	}
	if strings.TrimSpace(wh.Transform) == "" {
		return body
	}

	t, err := ParseTransform(wh.Transform)
	if err == nil {
		var out []byte
		if out, err = t.Apply(body); err == nil {
			return out
		}
	}
	metrics.TransformFailures.Inc()
	s.logger.Warn("webhook transform failed, sending original payload",
		"webhook_id", wh.ID, "delivery_id", deliveryID, "error", err)
	return body
}
