package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oraculocultural/oraculo/internal"
	"github.com/oraculocultural/oraculo/internal/domain"
	"github.com/oraculocultural/oraculo/internal/events"
	"github.com/oraculocultural/oraculo/internal/gateway"
	"github.com/oraculocultural/oraculo/internal/handler"
	"github.com/oraculocultural/oraculo/internal/handler/api"
	"github.com/oraculocultural/oraculo/internal/handler/webhook"
	"github.com/oraculocultural/oraculo/internal/jobs"
	"github.com/oraculocultural/oraculo/internal/middleware"
	"github.com/oraculocultural/oraculo/internal/router"
	"github.com/oraculocultural/oraculo/internal/routes"
	"github.com/oraculocultural/oraculo/internal/service"
	"github.com/oraculocultural/oraculo/internal/telemetry"
	"github.com/oraculocultural/oraculo/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel, cfg.ProjectID)
	slog.SetDefault(logger)

	// Initialize Sentry
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

	telemetry.InitBusinessMetrics("oraculo")

	// Initialize store
	store, closeStore, err := internal.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize event publisher
	var publisher domain.EventPublisher = events.NoopPublisher{}
	if cfg.NATS.URL != "" {
		nats, err := events.Connect(cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nats.Close()
		publisher = nats
		logger.Info("Publishing entitlement events to NATS", "subject", events.SubjectEntitlementChanged)
	} else {
		logger.Info("NATS_URL not set, entitlement events are not published")
	}

	// Initialize gateway provider
	provider, err := newGatewayProvider(cfg, logger)
	if err != nil {
		return err
	}

	// Initialize services
	reconciler := service.NewReconciler(store, publisher, logger)
	dispatcher := service.NewDispatcher(provider, store, store, reconciler, logger)
	sweeper := service.NewSweeper(store, reconciler, logger)
	activationService := service.NewActivationService(store, reconciler, logger)
	entitlementService := service.NewEntitlementService(store)

	// ==========================================================================
	// Background work
	// ==========================================================================

	scheduler, err := jobs.NewScheduler(store, cfg.SweepSchedule, logger)
	if err != nil {
		return err
	}
	scheduler.Start()

	w := worker.NewWorker(store, dispatcher, sweeper, worker.Config{
		PollInterval:   cfg.Worker.PollInterval,
		MaxConcurrency: int(cfg.Worker.MaxConcurrency),
	}, logger)
	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Start(ctx) }()

	// ==========================================================================
	// HTTP
	// ==========================================================================

	metrics := middleware.NewMetrics("oraculo", prometheus.DefaultRegisterer)

	r := router.New(
		router.Recovery(logger),
		middleware.RequestID,
		telemetry.SentryMiddleware(),
		telemetry.SentryContextMiddleware(middleware.GetRequestID),
		metrics.Middleware,
		middleware.WithRequestLogger(logger),
		router.Logger(logger),
	)

	routes.RegisterWebhookRoutes(r, routes.WebhookDeps{
		MercadoPagoHandler: webhook.NewMercadoPagoHandler(dispatcher, store, webhook.MercadoPagoWebhookConfig{
			WebhookSecret:        cfg.MercadoPago.WebhookSecret,
			RedispatchMaxRetries: int(cfg.Worker.RedispatchMaxRetries),
		}, logger),
	})
	routes.RegisterAPIRoutes(r, routes.APIDeps{
		ActivationHandler:  api.NewActivationHandler(activationService, logger),
		EntitlementHandler: api.NewEntitlementHandler(entitlementService),
		AllowedOrigins:     cfg.AllowedOrigins,
	})
	routes.RegisterOpsRoutes(r, routes.OpsDeps{
		HealthHandler:  handler.Health(store),
		MetricsHandler: metrics.Handler(),
	})

	if cfg.MercadoPago.WebhookSecret == "" {
		logger.Warn("MERCADOPAGO_WEBHOOK_SECRET not set, webhook signatures are not verified")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Starting server", "address", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	scheduler.Stop(shutdownCtx)
	stop()
	<-workerDone

	logger.Info("Shutdown complete")
	return nil
}

// newGatewayProvider builds the Mercado Pago client. Outside prod a missing
// access token falls back to the mock provider so the server can run locally.
func newGatewayProvider(cfg *internal.Config, logger *slog.Logger) (gateway.Provider, error) {
	if cfg.MercadoPago.AccessToken == "" && cfg.Env != "prod" {
		logger.Warn("MERCADOPAGO_ACCESS_TOKEN not set, using mock gateway")
		return gateway.NewMockProvider(), nil
	}

	mpConfig := gateway.MercadoPagoConfig{
		AccessToken: cfg.MercadoPago.AccessToken,
		BaseURL:     cfg.MercadoPago.BaseURL,
		MaxRetries:  uint64(cfg.MercadoPago.MaxRetries),
		HTTPClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: &telemetry.HTTPTransport{Transport: http.DefaultTransport},
		},
	}
	provider, err := gateway.NewMercadoPagoProvider(mpConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Mercado Pago provider: %w", err)
	}
	logger.Info("Mercado Pago provider initialized", "test_mode", mpConfig.IsTestMode())
	return provider, nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
