package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oraculocultural/oraculo/internal/domain"
)

// DefaultSweepSchedule runs the expiry sweep once a day.
const DefaultSweepSchedule = "@every 24h"

// ValidateSchedule checks that spec is a cron expression or descriptor the
// scheduler accepts.
func ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Scheduler enqueues maintenance jobs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	queue  domain.JobQueue
	logger *slog.Logger
}

// NewScheduler creates a Scheduler that enqueues an expiry sweep on every
// tick of sweepSpec.
func NewScheduler(queue domain.JobQueue, sweepSpec string, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		queue:  queue,
		logger: logger,
	}

	if sweepSpec == "" {
		sweepSpec = DefaultSweepSchedule
	}
	if _, err := s.cron.AddFunc(sweepSpec, s.enqueueSweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", sweepSpec, err)
	}

	return s, nil
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
	for _, e := range s.cron.Entries() {
		s.logger.Info("Scheduled job registered", "next_run", e.Next)
	}
}

// Stop stops scheduling and waits for a running tick to finish or ctx to
// expire.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

func (s *Scheduler) enqueueSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	job, err := EnqueueSweepEntitlements(ctx, s.queue, time.Now())
	if err != nil {
		s.logger.Error("failed to enqueue sweep", "error", err)
		return
	}
	s.logger.Info("sweep enqueued", "job_id", job.ID)
}

// cronLogger routes cron output through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
