// Package worker processes background jobs from the job queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/jobs"
	"github.com/oraculocultural/oraculo/internal/middleware"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// PollInterval is how often to check for new jobs
	PollInterval time.Duration

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// Queue name to process (empty string = all queues)
	Queue string

	// RetryBaseDelay is the delay before the first retry of a failed job.
	// Later retries back off exponentially up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// ShutdownTimeout bounds how long Start waits for in-flight jobs.
	ShutdownTimeout time.Duration
}

// Worker processes background jobs
type Worker struct {
	config     Config
	queue      domain.JobQueue
	dispatcher domain.WebhookDispatcher
	sweeper    jobs.Sweeper
	logger     *slog.Logger
	now        func() time.Time
}

// NewWorker creates a new background job worker
func NewWorker(
	queue domain.JobQueue,
	dispatcher domain.WebhookDispatcher,
	sweeper jobs.Sweeper,
	config Config,
	logger *slog.Logger,
) *Worker {
	// Set defaults
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.PollInterval == 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.RetryBaseDelay <= 0 {
		config.RetryBaseDelay = 30 * time.Second
	}
	if config.RetryMaxDelay <= 0 {
		config.RetryMaxDelay = 6 * time.Hour
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config:     config,
		queue:      queue,
		dispatcher: dispatcher,
		sweeper:    sweeper,
		logger:     logger.With("component", "worker", "worker_id", config.WorkerID),
		now:        time.Now,
	}
}

// Start begins processing jobs until the context is cancelled. In-flight jobs
// get ShutdownTimeout to finish on their own context after cancellation.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"queue", w.config.Queue,
		"poll_interval", w.config.PollInterval,
		"max_concurrency", w.config.MaxConcurrency,
	)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	// Job contexts outlive ctx so cancellation does not abort a job midway.
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	// Semaphore for concurrency control
	sem := make(chan struct{}, w.config.MaxConcurrency)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down")
			if !w.wait(&wg) {
				w.logger.Warn("in-flight jobs did not finish before shutdown timeout")
				cancelJobs()
			}
			return ctx.Err()

		case <-ticker.C:
			select {
			case sem <- struct{}{}:
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer func() { <-sem }()
					w.claimAndProcess(jobCtx)
				}()
			default:
				// At max concurrency, skip this poll
			}
		}
	}
}

func (w *Worker) wait(wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(w.config.ShutdownTimeout):
		return false
	}
}

// RunOnce claims and processes at most one job. It reports whether a job was
// claimed.
func (w *Worker) RunOnce(ctx context.Context) bool {
	return w.claimAndProcess(ctx)
}

// claimAndProcess claims and processes a single job
func (w *Worker) claimAndProcess(ctx context.Context) bool {
	job, err := w.queue.ClaimNextJob(ctx, w.config.WorkerID, w.config.Queue, w.now())
	if errors.Is(err, domain.ErrNoJobAvailable) {
		return false
	}
	if err != nil {
		w.logger.Error("failed to claim job", "error", err)
		return false
	}

	ctx = withJobContext(ctx, job, w.logger)
	logger := middleware.GetLogger(ctx)
	logger.Info("processing job", "attempt", job.Attempts)

	start := time.Now()
	err = w.processJob(ctx, job)
	telemetry.Business.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())

	if err != nil {
		w.fail(ctx, job, err)
		return true
	}

	if err := w.queue.CompleteJob(ctx, job.ID); err != nil {
		logger.Error("failed to mark job completed", "error", err)
		return true
	}
	telemetry.Business.JobsProcessed.WithLabelValues(job.JobType).Inc()
	logger.Info("job completed", "duration", time.Since(start))
	return true
}

// processJob processes a single job
func (w *Worker) processJob(ctx context.Context, job *domain.Job) (err error) {
	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			telemetry.CaptureError(err, map[string]interface{}{"job_id": job.ID, "job_type": job.JobType})
		}
	}()

	switch {
	case jobs.IsWebhookJob(job.JobType):
		if job.JobType != jobs.JobTypeWebhookRedispatch {
			return jobs.Permanent(fmt.Errorf("unknown webhook job type: %s", job.JobType))
		}
		return jobs.ProcessWebhookRedispatch(ctx, job, w.dispatcher)

	case jobs.IsMaintenanceJob(job.JobType):
		result, err := jobs.ProcessSweepJob(ctx, job, w.sweeper, w.now())
		if err != nil {
			return err
		}
		middleware.GetLogger(ctx).Info("sweep job finished", "processed", result.Processed, "failed", result.Failed)
		return nil
	}

	return jobs.Permanent(fmt.Errorf("unknown job type: %s", job.JobType))
}

// fail records the failure, rescheduling with backoff unless the error is
// permanent or the job ran out of retries.
func (w *Worker) fail(ctx context.Context, job *domain.Job, jobErr error) {
	logger := middleware.GetLogger(ctx)

	var retryAt time.Time
	if !jobs.IsPermanent(jobErr) {
		retryAt = w.now().Add(w.retryDelay(job.Attempts))
	}

	updated, err := w.queue.FailJob(ctx, job.ID, jobErr.Error(), retryAt)
	if err != nil {
		logger.Error("failed to record job failure", "error", err, "job_error", jobErr)
		return
	}

	telemetry.Business.JobsFailed.WithLabelValues(job.JobType, jobs.FailureReason(jobErr)).Inc()

	if updated.Status == domain.JobStatusFailed {
		logger.Error("job failed permanently",
			"error", jobErr,
			"attempts", updated.Attempts,
			"max_retries", updated.MaxRetries,
		)
		telemetry.CaptureError(jobErr, map[string]interface{}{
			"job_id":   job.ID,
			"job_type": job.JobType,
			"attempts": updated.Attempts,
		})
		return
	}

	logger.Warn("job failed, retry scheduled",
		"error", jobErr,
		"attempts", updated.Attempts,
		"retry_at", updated.ScheduledAt,
	)
}

// retryDelay returns the backoff before retry number attempt (1-based).
func (w *Worker) retryDelay(attempt int) time.Duration {
	b := retry.WithCappedDuration(w.config.RetryMaxDelay, retry.NewExponential(w.config.RetryBaseDelay))

	delay := w.config.RetryBaseDelay
	for i := 0; i < attempt; i++ {
		next, stop := b.Next()
		if stop {
			break
		}
		delay = next
	}
	return delay
}
