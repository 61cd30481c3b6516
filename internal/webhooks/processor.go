package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/temmyjay001/claimsflow-webhooks/internal/metrics"
)

type ProcessorConfig struct {
	BatchSize    int
	Workers      int
	PollInterval time.Duration
	LeaseTTL     time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		BatchSize:    DefaultBatchSize,
		Workers:      8,
		PollInterval: 10 * time.Second,
		LeaseTTL:     2 * time.Minute,
	}
}

// Processor picks up due deliveries and drives the Sender for each one.
type Processor struct {
	store    DeliveryStore
	registry Registry
	sender   *Sender
	locker   Locker
	cfg      ProcessorConfig
	logger   *slog.Logger
	wake     chan struct{}
	now      func() time.Time
}

func NewProcessor(store DeliveryStore, registry Registry, sender *Sender, locker Locker, cfg ProcessorConfig, logger *slog.Logger) *Processor {
	defaults := DefaultProcessorConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if locker == nil {
		locker = NewMemoryLocker()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		store:    store,
		registry: registry,
		sender:   sender,
		locker:   locker,
		cfg:      cfg,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		now:      time.Now,
	}
}

// Notify wakes the worker loop without waiting for the next tick.
func (p *Processor) Notify(context.Context) {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// ProcessDue runs one pass over at most BatchSize due deliveries. Attempts
// run on a bounded pool; each goroutine owns a single delivery row.
func (p *Processor) ProcessDue(ctx context.Context) (BatchStats, error) {
	due, err := p.store.FindDue(ctx, p.now().UTC(), p.cfg.BatchSize)
	if err != nil {
		return BatchStats{}, fmt.Errorf("find due deliveries: %w", err)
	}
	metrics.BatchDue.Observe(float64(len(due)))

	stats := BatchStats{Due: len(due)}
	if len(due) == 0 {
		return stats, nil
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(p.cfg.Workers)

	for _, d := range due {
		g.Go(func() error {
			status, err := p.processOne(ctx, d)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			switch status {
			case StatusSent:
				stats.Sent++
			case StatusRetrying:
				stats.Retrying++
			case StatusFailed:
				stats.Failed++
			default:
				stats.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	return stats, errors.Join(errs...)
}

// processOne returns the delivery's new status, or "" when it was skipped.
func (p *Processor) processOne(ctx context.Context, d WebhookDelivery) (DeliveryStatus, error) {
	if ctx.Err() != nil {
		return "", nil
	}
	key := leaseKey(d.ID)
	token, ok, err := p.locker.Acquire(ctx, key, p.cfg.LeaseTTL)
	if err != nil {
		return "", fmt.Errorf("acquire lease for delivery %s: %w", d.ID, err)
	}
	if !ok {
		metrics.LeaseContention.Inc()
		return "", nil
	}
	defer func() {
		if err := p.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			p.logger.Warn("failed to release delivery lease", "delivery_id", d.ID, "error", err)
		}
	}()

	// another poller may have finished it between FindDue and the lease
	current, err := p.store.FindByID(ctx, d.ID)
	if err != nil {
		return "", fmt.Errorf("reload delivery %s: %w", d.ID, err)
	}
	if !current.Due(p.now().UTC()) {
		return "", nil
	}

	wh, err := p.registry.Get(ctx, current.WebhookID)
	if errors.Is(err, ErrWebhookNotFound) {
		return p.markRemoved(ctx, current)
	}
	if err != nil {
		return "", fmt.Errorf("load webhook %s for delivery %s: %w", current.WebhookID, d.ID, err)
	}

	updated := p.sender.Attempt(ctx, current, wh)
	return updated.Status, nil
}

func (p *Processor) markRemoved(ctx context.Context, d WebhookDelivery) (DeliveryStatus, error) {
	patch := DeliveryPatch{
		Status:      StatusFailed,
		Attempts:    d.Attempts,
		LastAttempt: d.LastAttempt,
		Response:    d.Response,
		Error:       ErrWebhookGone,
	}
	if err := p.store.Update(context.WithoutCancel(ctx), d.ID, patch); err != nil {
		return "", fmt.Errorf("mark delivery %s failed: %w", d.ID, err)
	}
	p.logger.Warn("webhook removed, delivery failed", "delivery_id", d.ID, "webhook_id", d.WebhookID)
	return StatusFailed, nil
}
