package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/odyssey-reception/internal/app"
	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
	"github.com/odyssey-erp/odyssey-reception/internal/catalog/reference"
	"github.com/odyssey-erp/odyssey-reception/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-reception/internal/jobs"
	"github.com/odyssey-erp/odyssey-reception/internal/platform/db"
	"github.com/odyssey-erp/odyssey-reception/internal/procurement"
	"github.com/odyssey-erp/odyssey-reception/internal/reception"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/columns"
	"github.com/odyssey-erp/odyssey-reception/internal/shared"
	"github.com/odyssey-erp/odyssey-reception/internal/tenant"
	"github.com/odyssey-erp/odyssey-reception/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "reception-worker"})
	if err != nil {
		return err
	}
	defer pool.Close()

	var global catalog.GlobalStore
	if cfg.ReferenceCatalogPath != "" {
		ref, err := reference.Open(cfg.ReferenceCatalogPath)
		if err != nil {
			return err
		}
		defer ref.Close()
		global = ref
	}

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	catalogRepo := catalog.NewRepository(pool)
	resolver := catalog.NewResolver(catalogRepo, global, catalog.ResolverConfig{
		ChunkSize: cfg.CatalogChunkSize,
		Fanout:    cfg.CatalogFanout,
	})
	onboarder := catalog.NewOnboarder(resolver, catalogRepo, logger)

	// The worker only re-runs the order status step; it never enqueues.
	service := reception.NewService(reception.Dependencies{
		Repository:  reception.NewRepository(pool),
		Settings:    tenant.NewService(tenant.NewRepository(pool), nil),
		Mappings:    columns.NewRepository(pool),
		Catalog:     resolver,
		Categories:  catalogRepo,
		Onboarding:  onboarder,
		Orders:      procurement.NewService(procurement.NewRepository(pool), auditLogger),
		Stock:       inventory.NewService(inventory.NewRepository(pool), auditLogger),
		Idempotency: idempotencyStore,
		Logger:      logger,
	})

	orderStatusJob := jobs.NewOrderStatusJob(service, logger, metrics)
	onboardJob := jobs.NewOnboardJob(onboarder, logger, metrics)
	cleanupJob := jobs.NewCleanupJob(idempotencyStore, logger, metrics)

	cleanupTask, err := jobs.NewCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		return err
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskReceptionOrderStatus, Handler: orderStatusJob.Handle},
			{Type: jobs.TaskCatalogOnboard, Handler: onboardJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		return err
	}
	logger.Info("worker started", slog.Int("concurrency", cfg.WorkerConcurrency))
	return worker.Run(ctx)
}
