package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculocultural/oraculo/internal/domain"
)

type fakeConn struct {
	subjects []string
	payloads [][]byte
	err      error
	drained  bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func (c *fakeConn) Drain() error {
	c.drained = true
	return nil
}

func TestNATSPublisher_PublishEntitlementChanged(t *testing.T) {
	conn := &fakeConn{}
	p := NewNATSPublisher(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))

	expires := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	event := domain.EntitlementChanged{
		UserID:           "u1",
		SubscriptionID:   "sub-1",
		PreviousStatus:   domain.StatusAuthorized,
		Status:           domain.StatusCancelled,
		Action:           domain.ActionStatusUpdate,
		IsPremium:        true,
		PremiumExpiresAt: &expires,
		OccurredAt:       expires.AddDate(0, 0, -20),
	}

	require.NoError(t, p.PublishEntitlementChanged(context.Background(), event))
	require.Len(t, conn.subjects, 1)
	assert.Equal(t, SubjectEntitlementChanged, conn.subjects[0])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(conn.payloads[0], &decoded))
	assert.Equal(t, "u1", decoded["userId"])
	assert.Equal(t, "cancelled", decoded["status"])
	assert.Equal(t, "authorized", decoded["previousStatus"])
	assert.Equal(t, true, decoded["isPremium"])

	require.NoError(t, p.Close())
	assert.True(t, conn.drained)
}

func TestNATSPublisher_PublishError(t *testing.T) {
	conn := &fakeConn{err: errors.New("nats: connection closed")}
	p := NewNATSPublisher(conn, slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.PublishEntitlementChanged(context.Background(), domain.EntitlementChanged{UserID: "u1"})
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	assert.NoError(t, NoopPublisher{}.PublishEntitlementChanged(context.Background(), domain.EntitlementChanged{}))
}
