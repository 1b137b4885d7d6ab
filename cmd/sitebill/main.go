package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sitebill/sitebill/internal/app"
	"github.com/sitebill/sitebill/internal/billing"
	"github.com/sitebill/sitebill/internal/boq"
	"github.com/sitebill/sitebill/internal/dashboard"
	"github.com/sitebill/sitebill/internal/masterdata"
	"github.com/sitebill/sitebill/internal/notify"
	"github.com/sitebill/sitebill/internal/observability"
	"github.com/sitebill/sitebill/internal/platform/cache"
	"github.com/sitebill/sitebill/internal/platform/db"
	"github.com/sitebill/sitebill/internal/shared"
	"github.com/sitebill/sitebill/internal/storage"
	s3store "github.com/sitebill/sitebill/internal/storage/s3"
	"github.com/sitebill/sitebill/jobs"
	"github.com/sitebill/sitebill/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Redis is optional at startup: invoice generation falls back to row locks
	// and the dashboard computes uncached until it comes back.
	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable at startup", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() { _ = inspector.Close() }()

	pdfClient := report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout)
	invoiceRenderer, err := report.NewInvoiceRenderer(pdfClient, cfg.Currency)
	if err != nil {
		logger.Error("init invoice renderer", slog.Any("error", err))
		os.Exit(1)
	}

	dashboardCache := cache.NewJSONCache(redisClient, "sitebill:dashboard", cfg.DashboardCacheTTL)

	masterDataService := masterdata.NewService(masterdata.NewRepository(pool))
	boqService := boq.NewService(boq.NewRepository(pool), auditLogger, logger)

	billingOpts := billing.Options{
		Locker:    shared.NewLocker(redisClient, cfg.InvoiceLockTTL),
		Sequencer: billing.NewSequencer(cfg.InvoicePrefix),
		Audit:     auditLogger,
		Notifier:  notify.Multi{notify.LogSink{Logger: logger}, queue},
		Renderer:  invoiceRenderer,
		Cache:     dashboardCache,
		Metrics:   billing.NewMetrics(metrics.Registerer()),
		Logger:    logger,
	}
	if cfg.ArchiveEnabled() {
		billingOpts.Archive = queue
	}
	billingService := billing.NewService(billing.NewRepository(pool), billingOpts)
	reportHandler := report.NewHandler(pdfClient, billingService, invoiceRenderer, logger)
	if cfg.ArchiveEnabled() {
		objectStore, err := s3store.NewClient(ctx, s3store.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			logger.Error("init object storage", slog.Any("error", err))
			os.Exit(1)
		}
		reportHandler.WithArchive(storage.NewArchiver(objectStore, cfg.S3LinkTTL))
	}

	dashboardService := dashboard.NewService(dashboard.NewRepository(pool), dashboardCache, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		MasterDataHandler: masterdata.NewHandler(logger, masterDataService),
		BOQHandler:        boq.NewHandler(logger, boqService),
		BillingHandler:    billing.NewHandler(logger, billingService),
		DashboardHandler:  dashboard.NewHandler(logger, dashboardService),
		ReportHandler:     reportHandler,
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
		HealthChecks: []app.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }, Optional: true},
			{Name: "gotenberg", Check: pdfClient.Ping, Optional: true},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
