// Command sweep runs one expiry sweep and exits. It is meant for external
// schedulers (Kubernetes CronJob, systemd timers) when the server's own
// cron schedule is not used.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oraculocultural/oraculo/internal"
	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/events"
	"github.com/oraculocultural/oraculo/internal/service"
	"github.com/oraculocultural/oraculo/internal/telemetry"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, cfg.ProjectID).With("command", "sweep")

	flushSentry, err := telemetry.InitSentry(telemetry.SentryConfig{
		DSN:              cfg.Sentry.DSN,
		Enabled:          cfg.Sentry.Enabled && cfg.Sentry.DSN != "",
		Environment:      cfg.Sentry.Environment,
		Release:          cfg.Sentry.Release,
		SampleRate:       cfg.Sentry.SampleRate,
		TracesSampleRate: cfg.Sentry.TracesSampleRate,
		Debug:            cfg.Sentry.Debug,
	}, logger)
	if err != nil {
		return fmt.Errorf("sentry initialization failed: %w", err)
	}
	defer flushSentry()
	defer telemetry.RecoverWithSentry()

	store, closeStore, err := internal.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	var publisher domain.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		nats, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nats.Close()
		publisher = nats
	}

	reconciler := service.NewReconciler(store, publisher, logger)
	sweeper := service.NewSweeper(store, reconciler, logger)

	start := time.Now()
	result, err := sweeper.Sweep(ctx, start)
	if err != nil {
		telemetry.CaptureError(err, map[string]interface{}{"command": "sweep"})
		return fmt.Errorf("sweep failed: %w", err)
	}

	logger.Info("Sweep complete",
		"processed", result.Processed,
		"failed", result.Failed,
		"duration", time.Since(start),
	)
	if result.Failed > 0 {
		return fmt.Errorf("%d entitlements could not be expired", result.Failed)
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
