package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sitebill/sitebill/internal/app"
	"github.com/sitebill/sitebill/internal/billing"
	jobmetrics "github.com/sitebill/sitebill/internal/jobs"
	"github.com/sitebill/sitebill/internal/notify"
	"github.com/sitebill/sitebill/internal/platform/db"
	"github.com/sitebill/sitebill/internal/shared"
	"github.com/sitebill/sitebill/internal/storage"
	s3store "github.com/sitebill/sitebill/internal/storage/s3"
	"github.com/sitebill/sitebill/jobs"
	"github.com/sitebill/sitebill/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(prometheus.DefaultRegisterer)

	notificationJob := &jobs.NotificationJob{Store: notify.NewStore(pool), Logger: logger, Metrics: metrics}
	cleanupJob := &jobs.CleanupJob{Keys: shared.NewIdempotencyStore(pool), Logger: logger, Metrics: metrics}
	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskNotificationDeliver, Handler: notificationJob.Handle},
		{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
	}

	if cfg.ArchiveEnabled() {
		renderer, err := report.NewInvoiceRenderer(report.NewClient(cfg.GotenbergURL, cfg.GotenbergTimeout), cfg.Currency)
		if err != nil {
			logger.Error("init invoice renderer", slog.Any("error", err))
			os.Exit(1)
		}
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
		invoices := billing.NewService(billing.NewRepository(pool), billing.Options{Renderer: renderer, Logger: logger})
		archiveJob := &jobs.ArchiveJob{
			Invoices: invoices,
			Archive:  storage.NewArchiver(objectStore, cfg.S3LinkTTL),
			Logger:   logger,
			Metrics:  metrics,
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskInvoiceArchive, Handler: archiveJob.Handle})
	} else {
		logger.Info("S3_BUCKET not set, invoice archiving disabled")
	}

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Concurrency: cfg.WorkerConcurrency,
		Logger:      logger,
		Handlers:    handlers,
		Cron: []jobs.CronRegistration{
			{Spec: cfg.IdempotencyCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
