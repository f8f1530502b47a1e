// Package jobs defines the background job types, their payloads and the
// functions that enqueue and process them.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// Job type constants for webhook jobs
const (
	JobTypeWebhookRedispatch = "webhook:redispatch"
)

// QueueWebhooks holds dead-lettered webhook notifications.
const QueueWebhooks = "webhooks"

// DefaultRedispatchMaxRetries is how many times a dead-lettered notification
// is retried before the job is left failed for manual follow-up.
const DefaultRedispatchMaxRetries = 8

// WebhookRedispatchPayload represents the payload for a webhook redispatch job
type WebhookRedispatchPayload struct {
	Notification domain.Notification `json:"notification"`

	// Reason is the failure class that dead-lettered the notification.
	Reason string `json:"reason"`

	// Cause is the original error text, kept for operators.
	Cause string `json:"cause,omitempty"`
}

// ShouldRedispatch reports whether a dispatch failure is worth retrying.
// Unresolved users and invalid notifications fail the same way every time.
func ShouldRedispatch(err error) bool {
	return errors.Is(err, domain.ErrGatewayLookup) || errors.Is(err, domain.ErrPersistence)
}

// FailureReason names the failure class of a dispatch error for metrics and
// job payloads.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrGatewayLookup):
		return "gateway_lookup"
	case errors.Is(err, domain.ErrPersistence):
		return "persistence"
	case errors.Is(err, domain.ErrUnresolvedUser):
		return "unresolved_user"
	case domain.IsCode(err, domain.EINVALID):
		return "invalid"
	default:
		return "unknown"
	}
}

// EnqueueWebhookRedispatch enqueues a failed notification for retry
func EnqueueWebhookRedispatch(ctx context.Context, q domain.JobQueue, n domain.Notification, cause error, maxRetries int) (*domain.Job, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultRedispatchMaxRetries
	}

	payload := WebhookRedispatchPayload{
		Notification: n,
		Reason:       FailureReason(cause),
	}
	if cause != nil {
		payload.Cause = cause.Error()
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job, err := q.EnqueueJob(ctx, domain.EnqueueJobParams{
		JobType:        JobTypeWebhookRedispatch,
		Queue:          QueueWebhooks,
		Payload:        payloadJSON,
		MaxRetries:     maxRetries,
		TimeoutSeconds: 30,
	})
	if err != nil {
		return nil, err
	}

	telemetry.Business.JobsEnqueued.WithLabelValues(JobTypeWebhookRedispatch).Inc()
	telemetry.Business.WebhookDeadLettered.WithLabelValues(n.Type).Inc()
	return job, nil
}

// ProcessWebhookRedispatch dispatches a dead-lettered notification again.
// Failures that cannot succeed on retry are reported as permanent so the
// worker does not reschedule them.
func ProcessWebhookRedispatch(ctx context.Context, job *domain.Job, dispatcher domain.WebhookDispatcher) error {
	var payload WebhookRedispatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return Permanent(fmt.Errorf("failed to unmarshal payload: %w", err))
	}

	err := dispatcher.Dispatch(ctx, payload.Notification)
	switch {
	case err == nil:
		return nil
	case ShouldRedispatch(err):
		return err
	default:
		return Permanent(err)
	}
}

// IsWebhookJob checks if a job type is a webhook job
func IsWebhookJob(jobType string) bool {
	return strings.HasPrefix(jobType, "webhook:")
}

// PermanentError marks a job failure that retrying will not fix.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a PermanentError.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err is marked permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
