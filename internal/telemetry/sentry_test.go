package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInitSentry_Disabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  SentryConfig
	}{
		{"disabled", SentryConfig{Enabled: false, DSN: "https://key@sentry.example/1"}},
		{"enabled without dsn", SentryConfig{Enabled: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanup, err := InitSentry(tt.cfg, discardLogger())
			require.NoError(t, err)
			require.NotNil(t, cleanup)
			cleanup()

			assert.False(t, IsEnabled())

			// Safe to call while disabled
			CaptureError(errors.New("boom"), map[string]interface{}{"k": "v"})
			CaptureErrorWithUser(errors.New("boom"), "u1", nil)
			CaptureErrorFromContext(context.Background(), errors.New("boom"), nil)
			AddBreadcrumb("sweep", "started", nil)
		})
	}
}

func TestSentryMiddleware_PassThroughWhenDisabled(t *testing.T) {
	_, err := InitSentry(SentryConfig{}, discardLogger())
	require.NoError(t, err)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	})

	h := SentryContextMiddleware(func(ctx context.Context) string { return "req-1" })(SentryMiddleware()(next))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestHTTPTransport_PassThrough(t *testing.T) {
	_, err := InitSentry(SentryConfig{}, discardLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client := &http.Client{Transport: &HTTPTransport{Transport: http.DefaultTransport}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestNewBusinessMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBusinessMetrics("test", reg)

	m.WebhookReceived.WithLabelValues("payment").Inc()
	m.ReconciliationsApplied.WithLabelValues("authorized", "status_update").Inc()
	m.SweepExpired.Add(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.WebhookReceived.WithLabelValues("payment")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SweepExpired))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "test_premium_webhook_received_total")
	assert.Contains(t, names, "test_premium_sweep_expired_total")
}

func TestScrubEvent(t *testing.T) {
	event := &sentry.Event{
		User: sentry.User{ID: "u1", Email: "payer@example.com", IPAddress: "203.0.113.7"},
		Request: &sentry.Request{Headers: map[string]string{
			"Authorization": "Bearer APP_USR-secret",
			"X-Signature":   "ts=1,v1=abc",
			"Accept":        "application/json",
		}},
	}

	got := scrubEvent(event, nil)

	assert.Equal(t, "u1", got.User.ID)
	assert.Empty(t, got.User.Email)
	assert.Empty(t, got.User.IPAddress)
	assert.Equal(t, map[string]string{"Accept": "application/json"}, got.Request.Headers)
}
