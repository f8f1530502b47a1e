// Package events publishes entitlement changes to downstream consumers
// (notification senders, analytics) over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// SubjectEntitlementChanged is the subject every applied transition is published on.
const SubjectEntitlementChanged = "entitlement.changed"

// Conn is the subset of *nats.Conn the publisher needs.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// NATSPublisher implements domain.EventPublisher on a NATS connection.
type NATSPublisher struct {
	conn    Conn
	subject string
	logger  *slog.Logger
}

var _ domain.EventPublisher = (*NATSPublisher)(nil)

// Connect dials NATS with reconnects enabled and returns a publisher.
func Connect(url string, logger *slog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("oraculo-entitlements"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return NewNATSPublisher(nc, logger), nil
}

// NewNATSPublisher wraps an existing connection.
func NewNATSPublisher(conn Conn, logger *slog.Logger) *NATSPublisher {
	return &NATSPublisher{
		conn:    conn,
		subject: SubjectEntitlementChanged,
		logger:  logger,
	}
}

// PublishEntitlementChanged encodes the event as JSON and publishes it.
func (p *NATSPublisher) PublishEntitlementChanged(ctx context.Context, event domain.EntitlementChanged) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode entitlement event: %w", err)
	}

	if err := p.conn.Publish(p.subject, data); err != nil {
		telemetry.Business.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish %s: %w", p.subject, err)
	}

	telemetry.Business.EventsPublished.WithLabelValues("success").Inc()
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// NoopPublisher drops every event. Used when NATS_URL is not configured.
type NoopPublisher struct{}

var _ domain.EventPublisher = NoopPublisher{}

func (NoopPublisher) PublishEntitlementChanged(ctx context.Context, event domain.EntitlementChanged) error {
	return nil
}
