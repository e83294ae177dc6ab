package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sms-dispatch/internal/api"
	"sms-dispatch/internal/audit"
	"sms-dispatch/internal/auth"
	"sms-dispatch/internal/config"
	"sms-dispatch/internal/dispatch"
	"sms-dispatch/internal/observability"
	"sms-dispatch/internal/rate"
	"sms-dispatch/internal/scheduler"
	"sms-dispatch/internal/store"
	"sms-dispatch/internal/transmit"
	"sms-dispatch/internal/tunnel"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("starting sms dispatch gateway", zap.String("port", cfg.Port))

	otelShutdown, err := observability.SetupOpenTelemetry("sms-dispatch", logger)
	if err != nil {
		logger.Fatal("failed to initialize OpenTelemetry", zap.Error(err))
	}
	defer otelShutdown()

	metrics := observability.NewMetrics()

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.DatabasePath, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}

	if err := st.RunMigrations(cfg.MigrationsPath); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	recorder := audit.NewRecorder(st, logger, cfg.AuditQueueSize)
	recorder.Start()

	authService := auth.NewService(st, logger)

	limiter := rate.NewLimiter(st, authService, recorder, logger, map[store.Scope]rate.ScopeLimits{
		store.ScopeRequest: {Limit: cfg.RequestLimit, Window: cfg.RequestWindow},
		store.ScopeAuth:    {Limit: cfg.AuthLimit, Window: cfg.AuthWindow},
		store.ScopeAdmin:   {Limit: cfg.AdminLimit, Window: cfg.AdminWindow},
	})

	transmitter := transmit.NewBreaker(
		transmit.NewMock(logger, cfg.MockSuccessRate, cfg.MockTempFailRate, cfg.MockLatency),
		logger)

	dispatcher := dispatch.New(st, transmitter, recorder, metrics, logger, cfg.Workers, cfg.SendTimeout)
	dispatcher.Start(ctx)

	sched := scheduler.New(st, dispatcher, recorder, metrics, logger, cfg.TickPeriod, cfg.ClaimBatch)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}

	retentionStop := startRetention(ctx, cfg, st, recorder, logger)

	tun := tunnel.NewNoop(logger)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		ErrorHandler: api.ErrorHandler(logger),
	})

	api.SetupMiddleware(app, logger, metrics, recorder)
	handlers := api.NewHandlers(logger, st, sched, dispatcher, transmitter, tun, authService, recorder, metrics, cfg.RetentionDays)
	api.SetupRoutes(app, handlers, authService, limiter, cfg.MetricsEnabled)

	var g errgroup.Group
	g.Go(func() error {
		return app.Listen(":" + cfg.Port)
	})
	logger.Info("gateway listening", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	// Shutdown order: stop admitting, stop claiming, drain workers, flush
	// audit, close the store. Anything left mid-flight is repaired by boot
	// recovery on the next start.
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("failed to shutdown listener gracefully", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("listener exited with error", zap.Error(err))
	}

	retentionStop()
	sched.Stop()
	if err := dispatcher.Stop(cfg.ShutdownGrace); err != nil {
		logger.Warn("dispatcher drain incomplete", zap.Error(err))
	}
	recorder.Close()
	if err := st.Close(); err != nil {
		logger.Error("failed to close store", zap.Error(err))
	}

	logger.Info("gateway stopped")
}

// startRetention runs the periodic purge of settled messages and expired
// tokens. The returned func stops the ticker.
func startRetention(ctx context.Context, cfg *config.Config, st *store.Store, recorder *audit.Recorder, logger *zap.Logger) func() {
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(cfg.RetentionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				now := time.Now()
				cutoff := now.AddDate(0, 0, -cfg.RetentionDays)

				purged, err := st.PurgeExpired(ctx, cutoff)
				if err != nil {
					logger.Error("retention purge failed", zap.Error(err))
					continue
				}
				tokens, err := st.CleanupExpiredTokens(ctx, now)
				if err != nil {
					logger.Error("token cleanup failed", zap.Error(err))
				}
				recorder.Record(&store.AuditEvent{
					Type:     audit.EventRetentionSweep,
					Severity: store.AuditInfo,
					Payload: map[string]any{
						"purgedMessages": purged,
						"purgedTokens":   tokens,
						"cutoff":         cutoff.UTC(),
						"trigger":        "schedule",
					},
				})
			}
		}
	}()

	return func() {
		close(stop)
		<-done
	}
}
