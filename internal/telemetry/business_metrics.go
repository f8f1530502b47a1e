package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// BusinessMetrics holds Prometheus metrics for entitlement reconciliation.
type BusinessMetrics struct {
	// Webhooks
	WebhookReceived     *prometheus.CounterVec
	WebhookProcessed    *prometheus.CounterVec
	WebhookFailed       *prometheus.CounterVec
	WebhookDeadLettered *prometheus.CounterVec
	WebhookRejected     *prometheus.CounterVec
	WebhookLatency      *prometheus.HistogramVec

	// Reconciliation
	ReconciliationsApplied *prometheus.CounterVec
	ReconciliationsSkipped *prometheus.CounterVec
	VersionConflicts       *prometheus.CounterVec
	PendingPayments        *prometheus.CounterVec

	// Expiry sweep
	SweepRuns     *prometheus.CounterVec
	SweepExpired  prometheus.Counter
	SweepDuration prometheus.Histogram

	// Manual activation
	ManualActivations *prometheus.CounterVec

	// Background jobs
	JobsEnqueued  *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// Downstream events
	EventsPublished *prometheus.CounterVec

	// External API performance
	GatewayAPILatency *prometheus.HistogramVec
}

// NewBusinessMetrics creates the metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewBusinessMetrics(namespace string, reg prometheus.Registerer) *BusinessMetrics {
	if namespace == "" {
		namespace = "oraculo"
	}

	subsystem := "premium"
	factory := promauto.With(reg)

	m := &BusinessMetrics{
		// =======================================================================
		// Webhooks (Mercado Pago)
		// =======================================================================
		WebhookReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_received_total",
				Help:      "Total webhooks received",
			},
			[]string{"event_type"},
		),
		WebhookProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processed_total",
				Help:      "Total webhooks successfully processed",
			},
			[]string{"event_type"},
		),
		WebhookFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_failed_total",
				Help:      "Total webhook processing failures",
			},
			[]string{"event_type", "error_type"}, // error_type: gateway_lookup, unresolved_user, persistence
		),
		WebhookDeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_dead_lettered_total",
				Help:      "Total webhooks queued for redispatch after a retryable failure",
			},
			[]string{"event_type"},
		),
		WebhookRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_rejected_total",
				Help:      "Total webhooks dropped before dispatch",
			},
			[]string{"reason"}, // reason: signature, malformed
		),
		WebhookLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "webhook_processing_seconds",
				Help:      "Webhook processing duration",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"event_type"},
		),

		// =======================================================================
		// Reconciliation
		// =======================================================================
		ReconciliationsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconciliations_applied_total",
				Help:      "Total entitlement transitions written",
			},
			[]string{"status", "action"},
		),
		ReconciliationsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "reconciliations_skipped_total",
				Help:      "Total events not applied",
			},
			[]string{"reason"}, // reason: duplicate, stale
		),
		VersionConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "version_conflicts_total",
				Help:      "Total compare-and-swap conflicts on entitlement writes",
			},
			[]string{"action"},
		),
		PendingPayments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "pending_payments_total",
				Help:      "Total payments recorded without a resolvable user",
			},
			[]string{"status"},
		),

		// =======================================================================
		// Expiry Sweep
		// =======================================================================
		SweepRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_runs_total",
				Help:      "Total expiry sweeper runs",
			},
			[]string{"outcome"}, // outcome: success, error
		),
		SweepExpired: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_expired_total",
				Help:      "Total entitlements demoted by the sweeper",
			},
		),
		SweepDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "sweep_duration_seconds",
				Help:      "Expiry sweeper run duration",
				Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 300},
			},
		),

		// =======================================================================
		// Manual Activation
		// =======================================================================
		ManualActivations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "manual_activations_total",
				Help:      "Total manual activation attempts",
			},
			[]string{"outcome"}, // outcome: success, not_found, already_processed, not_approved, error
		),

		// =======================================================================
		// Background Jobs
		// =======================================================================
		JobsEnqueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_enqueued_total",
				Help:      "Total background jobs enqueued",
			},
			[]string{"job_type"},
		),
		JobsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total background jobs successfully processed",
			},
			[]string{"job_type"},
		),
		JobsFailed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_failed_total",
				Help:      "Total background job failures",
			},
			[]string{"job_type", "error_type"},
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_duration_seconds",
				Help:      "Background job execution duration",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"job_type"},
		),

		// =======================================================================
		// Downstream Events
		// =======================================================================
		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "events_published_total",
				Help:      "Total entitlement change events published",
			},
			[]string{"outcome"},
		),

		// =======================================================================
		// External API Performance
		// =======================================================================
		GatewayAPILatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "gateway_api_duration_seconds",
				Help:      "Mercado Pago API call duration including retries",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation", "outcome"}, // operation: preapproval, payment
		),
	}

	return m
}

// Business is the global instance used by services and handlers. It starts
// unregistered so packages can record metrics in tests without setup.
var Business = NewBusinessMetrics("", nil)

// InitBusinessMetrics replaces the global instance with one registered on
// the default Prometheus registry.
func InitBusinessMetrics(namespace string) *BusinessMetrics {
	Business = NewBusinessMetrics(namespace, prometheus.DefaultRegisterer)
	return Business
}
