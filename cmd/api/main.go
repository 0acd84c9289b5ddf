package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/optoutly/removal-engine/internal/brokerdir"
	"github.com/optoutly/removal-engine/internal/config"
	"github.com/optoutly/removal-engine/internal/domain"
	"github.com/optoutly/removal-engine/internal/handler"
	"github.com/optoutly/removal-engine/internal/infra/postgresql"
	"github.com/optoutly/removal-engine/internal/infra/postgresql/migrations"
	infraredis "github.com/optoutly/removal-engine/internal/infra/redis"
	"github.com/optoutly/removal-engine/internal/intelligence"
	"github.com/optoutly/removal-engine/internal/mailgate"
	"github.com/optoutly/removal-engine/internal/observability"
	"github.com/optoutly/removal-engine/internal/provider"
	"github.com/optoutly/removal-engine/internal/queue"
	"github.com/optoutly/removal-engine/internal/repository"
	"github.com/optoutly/removal-engine/internal/service"
	"github.com/optoutly/removal-engine/internal/transport"
)

const (
	consumerPrefetch = 8
	shutdownTimeout  = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatal("failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	rabbit, err := queue.NewRabbitMQ(cfg.RabbitMQURL)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer rabbit.Close()

	metrics := observability.NewMetrics()

	// Repositories.
	removals := repository.NewGormRemovalRepo(db)
	attempts := repository.NewGormAttemptRepo(db)
	suppressions := repository.NewGormSuppressionRepo(db)
	runs := repository.NewGormRunLogRepo(db)
	milestones := repository.NewGormMilestoneRepo(db)

	// Infrastructure services.
	limiter, err := infraredis.NewBrokerRateLimiter(rdb, cfg.BrokerDailyCap, cfg.BrokerMinSpacing())
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}
	locker, err := infraredis.NewJobLocker(rdb)
	if err != nil {
		logger.Fatal("job locker initialization failed", zap.Error(err))
	}

	directory, err := brokerdir.NewStaticDirectory(brokerdir.SeedBrokers())
	if err != nil {
		logger.Fatal("broker directory initialization failed", zap.Error(err))
	}

	emailRelay, err := provider.NewEmailSubmitter(cfg.MailRelayURL)
	if err != nil {
		logger.Fatal("email submitter initialization failed", zap.Error(err))
	}
	emailSubmitter, err := provider.NewBreakerSubmitter(emailRelay, logger)
	if err != nil {
		logger.Fatal("email submitter initialization failed", zap.Error(err))
	}

	formWorker, err := provider.NewFormSubmitter(cfg.FormWorkerURL)
	if err != nil {
		logger.Fatal("form submitter initialization failed", zap.Error(err))
	}
	formSubmitter, err := provider.NewBreakerSubmitter(formWorker, logger)
	if err != nil {
		logger.Fatal("form submitter initialization failed", zap.Error(err))
	}

	gate, err := mailgate.NewGate(suppressions, cfg.SoftBounceThreshold, logger)
	if err != nil {
		logger.Fatal("suppression gate initialization failed", zap.Error(err))
	}

	intel, err := intelligence.NewService(attempts, intelligence.Options{
		WindowDays:           cfg.IntelligenceWindowDays,
		LowSuccessThreshold:  cfg.LowSuccessThreshold,
		HighSuccessThreshold: cfg.HighSuccessThreshold,
		ZScoreThreshold:      cfg.AnomalyZScoreThreshold,
		MinSamples:           cfg.AnomalyMinSamples,
	}, logger)
	if err != nil {
		logger.Fatal("intelligence service initialization failed", zap.Error(err))
	}

	publisher := queue.NewRabbitMQPublisher(rabbit)
	defer publisher.Close()

	removalService, err := service.NewRemovalService(removals, milestones, publisher, logger)
	if err != nil {
		logger.Fatal("removal service initialization failed", zap.Error(err))
	}

	processor, err := service.NewBatchProcessor(
		removals, attempts, directory,
		emailSubmitter, formSubmitter,
		gate, limiter, intel, publisher,
		service.ProcessorOptions{
			BatchSize:          cfg.BatchSize,
			PerBrokerPick:      cfg.BrokerDailyCap,
			MaxSendAttempts:    cfg.MaxSendAttempts,
			VerifyBaseWaitDays: cfg.VerifyBaseWaitDays,
			RetryBackoff:       cfg.RetryBackoff,
		},
		metrics, logger,
	)
	if err != nil {
		logger.Fatal("batch processor initialization failed", zap.Error(err))
	}

	retryEngine, err := service.NewRetryEngine(removals, cfg.BatchSize, cfg.MaxSendAttempts, logger)
	if err != nil {
		logger.Fatal("retry engine initialization failed", zap.Error(err))
	}

	runner, err := service.NewJobRunner(locker, runs, cfg.JobLease(), cfg.RunDeadline, metrics, logger)
	if err != nil {
		logger.Fatal("job runner initialization failed", zap.Error(err))
	}

	jobs := map[string]service.JobFunc{
		service.JobProcessPending: func(ctx context.Context, deadline time.Time) (service.RunResult, error) {
			summary, err := processor.ProcessPending(ctx, deadline)
			return batchRunResult(summary, err), err
		},
		service.JobRetryFailed: func(ctx context.Context, deadline time.Time) (service.RunResult, error) {
			summary, err := retryEngine.Run(ctx, deadline)
			return retryRunResult(summary, err), err
		},
	}

	// The verification sweep needs the external scan probe; without it,
	// submitted removals are confirmed manually.
	if cfg.ScanProbeURL != "" {
		verifier, err := provider.NewScanProbeVerifier(cfg.ScanProbeURL)
		if err != nil {
			logger.Fatal("scan probe verifier initialization failed", zap.Error(err))
		}

		verifyEngine, err := service.NewVerifyEngine(
			removals, removalService, directory, verifier, intel,
			cfg.BatchSize, cfg.VerifyRecheckDays, cfg.VerifyHighRiskFactor,
			logger,
		)
		if err != nil {
			logger.Fatal("verify engine initialization failed", zap.Error(err))
		}

		jobs[service.JobVerifyRemovals] = func(ctx context.Context, deadline time.Time) (service.RunResult, error) {
			summary, err := verifyEngine.Run(ctx, deadline)
			return verifyRunResult(summary, err), err
		}
	} else {
		logger.Warn("SCAN_PROBE_URL not set, verification sweep disabled")
	}

	consumer := queue.NewRabbitMQConsumer(rabbit, consumerPrefetch, logger)
	defer consumer.Close()

	ingestor, err := mailgate.NewIngestor(consumer, gate, logger)
	if err != nil {
		logger.Fatal("bounce ingestor initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          transport.ErrorHandler(logger),
		DisableStartupMessage: true,
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, sqlDB, rdb, rabbit)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if err := handler.RegisterRemovalRoutes(app, removalService, attempts, intel, gate); err != nil {
		logger.Fatal("removal routes registration failed", zap.Error(err))
	}
	if err := handler.RegisterTriggerRoutes(app, cfg.SchedulerSecret, runner, jobs, runs); err != nil {
		logger.Fatal("trigger routes registration failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("removal-engine api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("bounce ingestor started", zap.String("queue", queue.BounceQueue))
		return ingestor.Run(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("api terminated", zap.Error(err))
	}
	logger.Info("removal-engine api stopped")
}

func batchRunResult(summary service.BatchSummary, err error) service.RunResult {
	result := service.RunResult{
		Message:  fmt.Sprintf("picked %d, sent %d, failed %d", summary.Picked, summary.Sent, summary.Failed),
		Metadata: summary,
	}
	if err == nil && (summary.Failed > 0 || summary.DeadlineHit) {
		result.Status = domain.RunPartial
	}
	return result
}

func retryRunResult(summary service.RetrySummary, err error) service.RunResult {
	result := service.RunResult{
		Message:  fmt.Sprintf("due %d, requeued %d, manual %d", summary.Due, summary.Requeued, summary.Manual),
		Metadata: summary,
	}
	if err == nil && (summary.Errors > 0 || summary.DeadlineHit) {
		result.Status = domain.RunPartial
	}
	return result
}

func verifyRunResult(summary service.VerifySummary, err error) service.RunResult {
	result := service.RunResult{
		Message:  fmt.Sprintf("due %d, confirmed %d, still listed %d", summary.Due, summary.Confirmed, summary.StillListed),
		Metadata: summary,
	}
	if err == nil && (summary.Errors > 0 || summary.DeadlineHit) {
		result.Status = domain.RunPartial
	}
	return result
}
