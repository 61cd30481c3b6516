package webhooks

import (
	"context"
	"time"
)

// Start polls until ctx is cancelled. It runs a pass immediately, on every
// tick, and whenever Notify is called.
func (p *Processor) Start(ctx context.Context) {
	p.logger.Info("starting webhook delivery worker",
		"batch_size", p.cfg.BatchSize, "workers", p.cfg.Workers, "poll_interval", p.cfg.PollInterval.String())

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("webhook delivery worker shutting down")
			return
		case <-ticker.C:
			p.drain(ctx)
		case <-p.wake:
			p.drain(ctx)
		}
	}
}

// drain keeps processing full batches while they make progress.
func (p *Processor) drain(ctx context.Context) {
	for ctx.Err() == nil {
		stats, err := p.ProcessDue(ctx)
		if err != nil {
			p.logger.Error("error processing webhook deliveries", "error", err)
		}
		if stats.Due > 0 {
			p.logger.Debug("processed webhook deliveries",
				"due", stats.Due, "sent", stats.Sent, "retrying", stats.Retrying,
				"failed", stats.Failed, "skipped", stats.Skipped)
		}
		progressed := stats.Sent + stats.Retrying + stats.Failed
		if stats.Due < p.cfg.BatchSize || progressed == 0 {
			return
		}
	}
}
