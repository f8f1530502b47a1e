package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/jobs"
	"github.com/oraculocultural/oraculo/internal/middleware"
)

// withJobContext returns a context carrying a job-scoped logger. Redispatched
// webhooks also carry the request id of the delivery that failed, so retries
// can be correlated with the original request in logs.
func withJobContext(ctx context.Context, job *domain.Job, base *slog.Logger) context.Context {
	logger := base.With(
		slog.String("job_id", job.ID),
		slog.String("job_type", job.JobType),
	)

	if job.JobType == jobs.JobTypeWebhookRedispatch {
		var payload jobs.WebhookRedispatchPayload
		if err := json.Unmarshal(job.Payload, &payload); err == nil && payload.Notification.RequestID != "" {
			ctx = middleware.WithRequestID(ctx, payload.Notification.RequestID)
			logger = logger.With(slog.String("request_id", payload.Notification.RequestID))
		}
	}

	return middleware.WithLogger(ctx, logger)
}
