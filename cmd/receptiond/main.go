package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-reception/cmd/receptiond/cli"
	"github.com/odyssey-erp/odyssey-reception/internal/app"
	"github.com/odyssey-erp/odyssey-reception/internal/catalog"
	"github.com/odyssey-erp/odyssey-reception/internal/catalog/reference"
	"github.com/odyssey-erp/odyssey-reception/internal/inventory"
	"github.com/odyssey-erp/odyssey-reception/internal/observability"
	"github.com/odyssey-erp/odyssey-reception/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-reception/internal/platform/db"
	"github.com/odyssey-erp/odyssey-reception/internal/procurement"
	"github.com/odyssey-erp/odyssey-reception/internal/reception"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/columns"
	"github.com/odyssey-erp/odyssey-reception/internal/reception/sheet"
	"github.com/odyssey-erp/odyssey-reception/internal/shared"
	"github.com/odyssey-erp/odyssey-reception/internal/tenant"
	"github.com/odyssey-erp/odyssey-reception/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 || args[0] == "serve" {
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}
	os.Exit(runCommand(ctx, cfg, args))
}

func runCommand(ctx context.Context, cfg *app.Config, args []string) int {
	switch {
	case len(args) >= 2 && args[0] == "reference" && args[1] == "import":
		fs := flag.NewFlagSet("reference import", flag.ContinueOnError)
		path := fs.String("path", cfg.ReferenceCatalogPath, "SQLite file of the reference catalog")
		asJSON := fs.Bool("json", false, "print a JSON summary")
		if err := fs.Parse(args[2:]); err != nil || fs.NArg() != 1 || *path == "" {
			fmt.Fprintln(os.Stderr, "usage: receptiond reference import [-path catalog.db] [-json] <file.csv|file.xlsx>")
			return 2
		}
		store, err := reference.Open(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer store.Close()
		refCLI, err := cli.NewReferenceCLI(store)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		return refCLI.ImportCommand(ctx, cli.ReferenceImportOptions{Path: fs.Arg(0), JSONOutput: *asJSON})

	case len(args) >= 2 && args[0] == "jobs" && args[1] == "trigger":
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		tenantID := fs.Int64("tenant", 0, "tenant id")
		receptionID := fs.Int64("reception", 0, "reception id")
		retention := fs.Duration("retention", cfg.IdempotencyRetention, "idempotency key retention")
		if err := fs.Parse(args[2:]); err != nil || fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: receptiond jobs trigger [-tenant N -reception N] [-retention 720h] <task>")
			return 2
		}
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		info, err := jobsCLI.Trigger(ctx, fs.Arg(0), cli.TriggerArgs{TenantID: *tenantID, ReceptionID: *receptionID, Retention: *retention})
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		fmt.Printf("enqueued %s on %s as %s\n", info.Type, info.Queue, info.ID)
		return 0

	case len(args) >= 2 && args[0] == "jobs" && args[1] == "stats":
		jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
		defer jobsCLI.Close()
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		for _, s := range stats {
			fmt.Printf("%-9s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
				s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
		}
		return 0
	}
	fmt.Fprintln(os.Stderr, "usage: receptiond [serve | reference import | jobs trigger | jobs stats]")
	return 2
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{ApplicationName: "receptiond"})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, tenant settings served from postgres", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	var tenantCache *tenant.Cache
	if err == nil {
		tenantCache = tenant.NewCache(redisClient, cfg.TenantCacheTTL)
	}

	metrics := observability.NewMetrics()
	pipeline := observability.NewPipeline(metrics.Registerer())

	var global catalog.GlobalStore
	if cfg.ReferenceCatalogPath != "" {
		ref, err := reference.Open(cfg.ReferenceCatalogPath)
		if err != nil {
			return err
		}
		defer ref.Close()
		if err := ref.Migrate(); err != nil {
			return err
		}
		global = ref
	} else {
		logger.Info("reference catalog disabled, onboarding creates minimal products only")
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool)
	resolver := catalog.NewResolver(catalogRepo, global, catalog.ResolverConfig{
		ChunkSize: cfg.CatalogChunkSize,
		Fanout:    cfg.CatalogFanout,
		Observer:  pipeline,
	})
	onboarder := catalog.NewOnboarder(resolver, catalogRepo, logger)

	inventoryService := inventory.NewService(inventory.NewRepository(pool), auditLogger)
	procurementService := procurement.NewService(procurement.NewRepository(pool), auditLogger)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer jobClient.Close()

	service := reception.NewService(reception.Dependencies{
		Repository:  reception.NewRepository(pool),
		Settings:    tenant.NewService(tenant.NewRepository(pool), tenantCache),
		Mappings:    columns.NewRepository(pool),
		Catalog:     resolver,
		Categories:  catalogRepo,
		Onboarding:  onboarder,
		Orders:      procurementService,
		Stock:       inventoryService,
		Idempotency: idempotencyStore,
		Queue:       jobClient,
		Observer:    pipeline,
		Parser:      sheet.NewParser(int(cfg.ReceptionMaxUploadBytes)),
		Logger:      logger,
	})
	receptionHandler := reception.NewHandler(logger, service, cfg.ReceptionMaxUploadBytes).
		LimitUploads(cfg.UploadRatePerMinute)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		ReceptionHandler: receptionHandler,
		JobHandler:       jobs.NewHandler(inspector, logger),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
