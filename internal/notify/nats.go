// Package notify carries "new deliveries queued" wake-ups between instances
// over NATS core pub/sub. Messages are hints only: processors still poll, so
// a lost message delays a delivery by at most one poll interval.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/temmyjay001/claimsflow-webhooks/internal/webhooks"
)

const DefaultSubject = "webhooks.deliveries.created"

// NATSNotifier publishes a wake-up for every Notify call.
type NATSNotifier struct {
	nc      *nats.Conn
	subject string
	logger  *slog.Logger
}

var _ webhooks.Notifier = (*NATSNotifier)(nil)

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("claimsflow-webhooks"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	logger.Info("nats connected", "url", url)
	return nc, nil
}

func NewNATSNotifier(nc *nats.Conn, subject string, logger *slog.Logger) *NATSNotifier {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSNotifier{nc: nc, subject: subject, logger: logger}
}

func (n *NATSNotifier) Notify(context.Context) {
	if err := n.nc.Publish(n.subject, nil); err != nil {
		n.logger.Warn("failed to publish delivery wake-up", "subject", n.subject, "error", err)
	}
}

// Subscribe forwards every wake-up on subject to target, usually the local
// processor. The returned func unsubscribes.
func Subscribe(nc *nats.Conn, subject string, target webhooks.Notifier) (func(), error) {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := nc.Subscribe(subject, func(*nats.Msg) {
		target.Notify(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
