package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/memstore"
	"github.com/oraculocultural/oraculo/internal/postgres"
)

// OpenStore connects the configured backend. For Postgres it applies pending
// migrations first. The returned func releases the backend.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (domain.Store, func(), error) {
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("Using in-memory store; state is lost on restart")
		return memstore.New(), func() {}, nil
	}

	logger.Info("Running database migrations...")
	if err := RunMigrations(ctx, cfg.DatabaseUrl, logger); err != nil {
		return nil, nil, fmt.Errorf("migration failed: %w", err)
	}

	logger.Info("Connecting to database...")
	pool, err := postgres.Connect(ctx, cfg.DatabaseUrl, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	logger.Info("Database connection established")

	return postgres.NewStore(pool), pool.Close, nil
}
