package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/service"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// Job type constants for maintenance jobs
const (
	JobTypeSweepEntitlements = "maintenance:sweep_entitlements"
)

// QueueMaintenance holds scheduled maintenance jobs.
const QueueMaintenance = "maintenance"

// SweepEntitlementsPayload represents the payload for an expiry sweep job
type SweepEntitlementsPayload struct {
	// ScheduledFor is the tick that produced the job. The sweep expires
	// records relative to the time it runs, not this value.
	ScheduledFor time.Time `json:"scheduled_for"`
}

// EnqueueSweepEntitlements enqueues an expiry sweep.
// The scheduler calls this on every tick; running the sweep through the job
// queue means only one server instance performs each sweep.
func EnqueueSweepEntitlements(ctx context.Context, q domain.JobQueue, scheduledFor time.Time) (*domain.Job, error) {
	payloadJSON, err := json.Marshal(SweepEntitlementsPayload{ScheduledFor: scheduledFor})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	job, err := q.EnqueueJob(ctx, domain.EnqueueJobParams{
		JobType:        JobTypeSweepEntitlements,
		Queue:          QueueMaintenance,
		Payload:        payloadJSON,
		MaxRetries:     1, // the next tick sweeps again anyway
		ScheduledAt:    scheduledFor,
		TimeoutSeconds: 300,
	})
	if err != nil {
		return nil, err
	}

	telemetry.Business.JobsEnqueued.WithLabelValues(JobTypeSweepEntitlements).Inc()
	return job, nil
}

// Sweeper runs one expiry sweep.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (service.SweepResult, error)
}

// ProcessSweepJob runs the sweep for a maintenance job
func ProcessSweepJob(ctx context.Context, job *domain.Job, sweeper Sweeper, now time.Time) (*service.SweepResult, error) {
	switch job.JobType {
	case JobTypeSweepEntitlements:
		result, err := sweeper.Sweep(ctx, now)
		if err != nil {
			return nil, fmt.Errorf("sweep failed: %w", err)
		}
		return &result, nil
	default:
		return nil, Permanent(fmt.Errorf("unknown maintenance job type: %s", job.JobType))
	}
}

// IsMaintenanceJob checks if a job type is a maintenance job
func IsMaintenanceJob(jobType string) bool {
	switch jobType {
	case JobTypeSweepEntitlements:
		return true
	}
	return false
}
