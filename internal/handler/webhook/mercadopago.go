package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/gateway"
	"github.com/oraculocultural/oraculo/internal/handler"
	"github.com/oraculocultural/oraculo/internal/jobs"
	"github.com/oraculocultural/oraculo/internal/middleware"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// MercadoPagoHandler receives Mercado Pago notifications
type MercadoPagoHandler struct {
	dispatcher domain.WebhookDispatcher
	queue      domain.JobQueue
	config     MercadoPagoWebhookConfig
	logger     *slog.Logger
}

// MercadoPagoWebhookConfig contains configuration for Mercado Pago webhook handling
type MercadoPagoWebhookConfig struct {
	// WebhookSecret is the signing secret from the Mercado Pago dashboard.
	// Signatures are not checked when empty.
	WebhookSecret string

	// RedispatchMaxRetries bounds retries of dead-lettered notifications.
	RedispatchMaxRetries int
}

// NewMercadoPagoHandler creates a new Mercado Pago webhook handler
func NewMercadoPagoHandler(dispatcher domain.WebhookDispatcher, queue domain.JobQueue, config MercadoPagoWebhookConfig, logger *slog.Logger) *MercadoPagoHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MercadoPagoHandler{
		dispatcher: dispatcher,
		queue:      queue,
		config:     config,
		logger:     logger,
	}
}

// notificationPayload is the JSON body Mercado Pago posts. Ids arrive as
// either strings or numbers depending on the notification version.
type notificationPayload struct {
	ID          flexString `json:"id"`
	Type        string     `json:"type"`
	Topic       string     `json:"topic"`
	Action      string     `json:"action"`
	DateCreated string     `json:"date_created"`
	Data        struct {
		ID flexString `json:"id"`
	} `json:"data"`
}

type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// HandleWebhook processes an incoming notification.
//
// The gateway retries any non-2xx response for days, so every request is
// acknowledged with 200 {"received": true}. Failures worth retrying are
// queued for redispatch instead; the rest are logged and dropped.
//
//	curl -X POST localhost:3000/webhooks/mercadopago \
//	  -d '{"type":"payment","action":"payment.created","data":{"id":"123"}}'
func (h *MercadoPagoHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	logger := middleware.GetLogger(r.Context(), h.logger)

	n, err := h.parse(r)
	if err != nil {
		logger.Warn("malformed webhook dropped", "error", err)
		telemetry.Business.WebhookRejected.WithLabelValues("malformed").Inc()
		h.acknowledge(w)
		return
	}

	eventType := n.Type
	if eventType == "" {
		eventType = "unknown"
	}
	telemetry.Business.WebhookReceived.WithLabelValues(eventType).Inc()
	logger = logger.With("event_type", eventType, "action", n.Action, "data_id", n.DataID)

	if h.config.WebhookSecret != "" {
		err := gateway.VerifySignature(h.config.WebhookSecret, r.Header.Get(gateway.SignatureHeader), r.Header.Get(gateway.RequestIDHeader), n.DataID)
		if err != nil {
			logger.Warn("webhook signature verification failed", "error", err)
			telemetry.Business.WebhookRejected.WithLabelValues("signature").Inc()
			h.acknowledge(w)
			return
		}
	}

	err = h.dispatcher.Dispatch(r.Context(), n)
	telemetry.Business.WebhookLatency.WithLabelValues(eventType).Observe(time.Since(startTime).Seconds())

	if err == nil {
		telemetry.Business.WebhookProcessed.WithLabelValues(eventType).Inc()
		logger.Info("webhook processed", "duration", time.Since(startTime))
		h.acknowledge(w)
		return
	}

	reason := jobs.FailureReason(err)
	telemetry.Business.WebhookFailed.WithLabelValues(eventType, reason).Inc()

	if !jobs.ShouldRedispatch(err) {
		if errors.Is(err, domain.ErrUnresolvedUser) {
			logger.Warn("webhook does not resolve to a user, dropped", "error", err)
		} else {
			logger.Error("webhook dropped", "error", err, "error_type", reason)
		}
		h.acknowledge(w)
		return
	}

	job, qerr := jobs.EnqueueWebhookRedispatch(r.Context(), h.queue, n, err, h.config.RedispatchMaxRetries)
	if qerr != nil {
		// Nothing left to fall back on; the gateway's own retry is the last chance.
		logger.Error("failed to queue webhook for redispatch", "error", qerr, "dispatch_error", err)
		telemetry.CaptureErrorFromContext(r.Context(), qerr, map[string]interface{}{
			"event_type": eventType,
			"data_id":    n.DataID,
		})
		h.acknowledge(w)
		return
	}

	logger.Warn("webhook queued for redispatch", "error", err, "error_type", reason, "job_id", job.ID)
	h.acknowledge(w)
}

// parse reads the notification from the body, falling back to the query
// string that older notification versions use (?type=payment&data.id=123).
func (h *MercadoPagoHandler) parse(r *http.Request) (domain.Notification, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, middleware.WebhookMaxBodySize))
	if err != nil {
		return domain.Notification{}, err
	}

	var payload notificationPayload
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			return domain.Notification{}, err
		}
	}

	q := r.URL.Query()
	n := domain.Notification{
		ID:        string(payload.ID),
		Type:      firstNonEmpty(payload.Type, payload.Topic, q.Get("type"), q.Get("topic")),
		Action:    payload.Action,
		DataID:    firstNonEmpty(q.Get("data.id"), string(payload.Data.ID), q.Get("id")),
		RequestID: firstNonEmpty(r.Header.Get(gateway.RequestIDHeader), middleware.GetRequestID(r.Context())),
	}
	if payload.DateCreated != "" {
		if t, err := time.Parse(time.RFC3339, payload.DateCreated); err == nil {
			n.DateCreated = t.UTC()
		}
	}

	if n.DataID == "" {
		return n, domain.Invalid("webhook.parse", "notification has no data id")
	}
	return n, nil
}

func (h *MercadoPagoHandler) acknowledge(w http.ResponseWriter) {
	handler.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
