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

	"github.com/odyssey-erp/quote-approvals/internal/app"
	"github.com/odyssey-erp/quote-approvals/internal/approval"
	"github.com/odyssey-erp/quote-approvals/internal/identity"
	"github.com/odyssey-erp/quote-approvals/internal/observability"
	"github.com/odyssey-erp/quote-approvals/internal/platform/cache"
	"github.com/odyssey-erp/quote-approvals/internal/platform/db"
	"github.com/odyssey-erp/quote-approvals/internal/shared"
	"github.com/odyssey-erp/quote-approvals/jobs"
)

func main() {
	if app.SkipStartup("server") {
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := identity.NewSessionManager(redisClient, "qa_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := identity.NewCSRFManager(cfg.CSRFSecret)
	identityService := identity.NewService(identity.NewRepository(dbpool))
	authHandler := identity.NewHandler(logger, identityService, sessionManager, csrfManager)

	metrics := observability.NewMetrics()
	approvalMetrics := observability.NewApprovalMetrics(metrics.Registerer())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	approvalRepo := approval.NewRepository(dbpool)
	limitProvider := approval.NewLimitProvider(approvalRepo, redisClient, cfg.LimitsCacheTTL, cfg.Threshold(), logger)
	approvalService := approval.NewService(
		approvalRepo,
		limitProvider,
		approval.NewPendingQuery(dbpool),
		jobClient,
		shared.NewAuditLogger(dbpool),
		approvalMetrics,
		approval.Options{RecentActions: cfg.PendingRecentActions, Logger: logger},
	)
	approvalHandler := approval.NewHandler(logger, approvalService)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		CSRFManager:     csrfManager,
		Principals:      identityService,
		AuthHandler:     authHandler,
		ApprovalHandler: approvalHandler,
		JobHandler:      jobs.NewHandler(inspector, logger),
		Metrics:         metrics,
		Readiness: map[string]app.ReadinessCheck{
			"postgres": dbpool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
