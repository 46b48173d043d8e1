package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/quote-approvals/internal/app"
	"github.com/odyssey-erp/quote-approvals/internal/approval"
	"github.com/odyssey-erp/quote-approvals/internal/export"
	jobmetrics "github.com/odyssey-erp/quote-approvals/internal/jobs"
	"github.com/odyssey-erp/quote-approvals/internal/platform/db"
	"github.com/odyssey-erp/quote-approvals/internal/shared"
	"github.com/odyssey-erp/quote-approvals/jobs"
)

func main() {
	if app.SkipStartup("worker") {
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("starting worker metrics server", slog.String("addr", cfg.WorkerMetricsAddr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() {
			_ = metricsServer.Close()
		}()
	}
	idempotency := shared.NewIdempotencyStore(pool)
	exportClient := export.NewClient(cfg.ExportWebhookURL, cfg.ExportTimeout)
	if !exportClient.Enabled() {
		logger.Warn("EXPORT_WEBHOOK_URL not set; approved quotes will not be exported")
	}

	exportJob := jobs.NewQuoteExportJob(idempotency, exportClient, logger, metrics)
	ledgerJob := jobs.NewLedgerCheckJob(approval.NewRepository(pool), logger, metrics)
	cleanupJob := &jobs.IdempotencyCleanupJob{Pruner: idempotency, Logger: logger, Metrics: metrics}

	ledgerTask, err := jobs.NewLedgerCheckTask(jobs.LedgerCheckPayload{Trigger: "cron"})
	if err != nil {
		logger.Error("build ledger check task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(jobs.IdempotencyCleanupPayload{})
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskQuoteExport, Handler: exportJob.Handle},
			{Type: jobs.TaskLedgerCheck, Handler: ledgerJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LedgerCheckCron, Task: ledgerTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
