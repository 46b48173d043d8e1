package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/quote-approvals/internal/export"
	jobmetrics "github.com/odyssey-erp/quote-approvals/internal/jobs"
	"github.com/odyssey-erp/quote-approvals/internal/shared"
)

// ExportModule scopes export idempotency keys.
const ExportModule = "approvals.export"

// IdempotencyGuard claims and releases processed keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// DocumentSender delivers export documents.
type DocumentSender interface {
	Enabled() bool
	Send(ctx context.Context, idempotencyKey string, doc any) error
}

// QuoteExportJob posts approved quotes to the export webhook at most once
// per approval request.
type QuoteExportJob struct {
	Guard   IdempotencyGuard
	Sender  DocumentSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewQuoteExportJob wires dependencies for the export handler.
func NewQuoteExportJob(guard IdempotencyGuard, sender DocumentSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *QuoteExportJob {
	return &QuoteExportJob{Guard: guard, Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle processes TaskQuoteExport tasks.
func (j *QuoteExportJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("quote export: handler not configured")
	}
	var payload QuoteExportPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.RequestID == 0 {
		return fmt.Errorf("quote export: invalid payload: %w", asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskQuoteExport)
	return tracker.End(j.run(ctx, payload))
}

func (j *QuoteExportJob) run(ctx context.Context, payload QuoteExportPayload) error {
	logger := j.logger().With(
		slog.Int64("request_id", payload.RequestID),
		slog.Int64("quote_id", payload.QuoteID),
	)
	if j.Sender == nil || !j.Sender.Enabled() {
		j.metrics().ObserveExport(jobmetrics.ExportSkipped)
		logger.Info("export webhook not configured; skipping quote export")
		return nil
	}

	key := ExportKey(payload.RequestID)
	if err := j.Guard.CheckAndInsert(ctx, key, ExportModule); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			j.metrics().ObserveExport(jobmetrics.ExportDuplicate)
			logger.Info("quote already exported")
			return nil
		}
		return fmt.Errorf("quote export: claim key: %w", err)
	}

	if err := j.Sender.Send(ctx, key, payload); err != nil {
		j.metrics().ObserveExport(jobmetrics.ExportFailed)
		logger.Error("quote export failed", slog.Any("error", err))
		if delErr := j.Guard.Delete(ctx, key); delErr != nil {
			// Retries would see the claimed key as a duplicate.
			logger.Error("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
			return fmt.Errorf("quote export: %w; release key %s: %w: %w", err, key, delErr, asynq.SkipRetry)
		}
		var statusErr *export.StatusError
		if errors.As(err, &statusErr) && !statusErr.Retryable() {
			return fmt.Errorf("quote export: %w: %w", err, asynq.SkipRetry)
		}
		return err
	}
	j.metrics().ObserveExport(jobmetrics.ExportSent)
	logger.Info("quote exported", slog.String("quote_number", payload.QuoteNumber))
	return nil
}

func (j *QuoteExportJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *QuoteExportJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
