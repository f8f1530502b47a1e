package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/oraculocultural/oraculo/internal/domain"
)

const jobColumns = `id::text, job_type, queue, payload, status, attempts, max_retries,
	timeout_seconds, scheduled_at, worker_id, last_error, created_at, updated_at`

func (s *Store) EnqueueJob(ctx context.Context, params domain.EnqueueJobParams) (*domain.Job, error) {
	scheduledAt := params.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now()
	}
	payload := params.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	queue := params.Queue
	if queue == "" {
		queue = "default"
	}
	timeout := params.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO jobs (id, job_type, queue, payload, max_retries, timeout_seconds, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+jobColumns,
		uuid.NewString(), params.JobType, queue, payload, params.MaxRetries, timeout, scheduledAt)

	job, err := scanJob(row)
	if err != nil {
		return nil, domain.Internal(err, "postgres.enqueue_job", "failed to enqueue job")
	}
	return job, nil
}

// ClaimNextJob uses SKIP LOCKED so concurrent workers never claim the same job.
func (s *Store) ClaimNextJob(ctx context.Context, workerID, queue string, now time.Time) (*domain.Job, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = 'running',
			worker_id = $1,
			attempts = attempts + 1,
			updated_at = $3
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			  AND scheduled_at <= $3
			  AND ($2 = '' OR queue = $2)
			ORDER BY scheduled_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns, workerID, queue, now)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNoJobAvailable
	}
	if err != nil {
		return nil, domain.Internal(err, "postgres.claim_job", "failed to claim job")
	}
	return job, nil
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return domain.Internal(err, "postgres.complete_job", "failed to complete job")
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) FailJob(ctx context.Context, id, message string, retryAt time.Time) (*domain.Job, error) {
	var next *time.Time
	if !retryAt.IsZero() {
		next = &retryAt
	}

	row := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			last_error = $2,
			worker_id = '',
			updated_at = NOW(),
			status = CASE WHEN $3::timestamptz IS NOT NULL AND attempts <= max_retries THEN 'pending' ELSE 'failed' END,
			scheduled_at = COALESCE(CASE WHEN attempts <= max_retries THEN $3::timestamptz END, scheduled_at)
		WHERE id = $1
		RETURNING `+jobColumns, id, message, next)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, domain.Internal(err, "postgres.fail_job", "failed to record job failure")
	}
	return job, nil
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		j       domain.Job
		payload []byte
	)
	if err := row.Scan(
		&j.ID, &j.JobType, &j.Queue, &payload, &j.Status, &j.Attempts, &j.MaxRetries,
		&j.TimeoutSeconds, &j.ScheduledAt, &j.WorkerID, &j.LastError, &j.CreatedAt, &j.UpdatedAt,
	); err != nil {
		return nil, err
	}
	j.Payload = payload
	return &j, nil
}
