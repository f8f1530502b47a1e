package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

// DefaultSweepBatchSize is the page size used when listing expired records.
const DefaultSweepBatchSize = 500

// SweepResult reports what one sweep did.
type SweepResult struct {
	// Processed counts records demoted by this sweep.
	Processed int

	// Failed counts records that could not be demoted. They stay expired and
	// are picked up again by the next sweep.
	Failed int
}

// Sweeper demotes entitlements whose premium window has passed.
type Sweeper struct {
	repo       domain.EntitlementRepository
	reconciler *Reconciler
	logger     *slog.Logger
	batchSize  int
}

// NewSweeper creates a Sweeper.
func NewSweeper(repo domain.EntitlementRepository, reconciler *Reconciler, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		repo:       repo,
		reconciler: reconciler,
		logger:     logger.With("service", "sweeper"),
		batchSize:  DefaultSweepBatchSize,
	}
}

// Sweep reconciles every premium record with an expiry at or before now to
// expired. A failure on one record is logged and does not stop the sweep; the
// returned error is non-nil only when listing fails.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	var result SweepResult

	defer func() {
		telemetry.Business.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	// Keyset paging moves past records that are skipped or fail, so they
	// cannot hold back the rest of the listing.
	var cursor domain.ExpiryCursor
	for {
		if err := ctx.Err(); err != nil {
			telemetry.Business.SweepRuns.WithLabelValues("cancelled").Inc()
			return result, err
		}

		batch, err := s.repo.ListExpiredEntitlements(ctx, now, cursor, s.batchSize)
		if err != nil {
			telemetry.Business.SweepRuns.WithLabelValues("error").Inc()
			return result, persistenceError(err)
		}

		for _, e := range batch {
			cursor = domain.CursorOf(e)
			res, err := s.reconciler.Reconcile(ctx, Event{
				UserID:         e.UserID,
				SubscriptionID: e.SubscriptionID,
				Status:         domain.StatusExpired,
				Action:         domain.ActionAutoExpire,
				EventID:        fmt.Sprintf("auto_expire:%s:%d", e.UserID, now.Unix()),
				OccurredAt:     now,
				EvaluatedAt:    now,
			})
			if err != nil {
				result.Failed++
				s.logger.Error("failed to expire entitlement", "user_id", e.UserID, "error", err)
				telemetry.CaptureErrorWithUser(err, e.UserID, map[string]any{"operation": "sweep"})
				continue
			}
			if res.Applied {
				result.Processed++
				telemetry.Business.SweepExpired.Inc()
			}
		}

		if len(batch) < s.batchSize {
			break
		}
	}

	telemetry.Business.SweepRuns.WithLabelValues("success").Inc()
	telemetry.AddBreadcrumb("sweep", fmt.Sprintf("expired %d entitlements", result.Processed), map[string]any{
		"processed": result.Processed,
		"failed":    result.Failed,
	})
	s.logger.Info("sweep completed",
		"processed", result.Processed,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	return result, nil
}
