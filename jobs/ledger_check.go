package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
	jobmetrics "github.com/odyssey-erp/quote-approvals/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// MismatchFinder lists requests whose approver counter disagrees with the ledger.
type MismatchFinder interface {
	FindLedgerMismatches(ctx context.Context) ([]approval.LedgerMismatch, error)
}

// LedgerCheckJob verifies current_approvers against APPROVED ledger rows.
// It reports drift and never repairs it.
type LedgerCheckJob struct {
	Finder  MismatchFinder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerCheckJob wires dependencies for the ledger check handler.
func NewLedgerCheckJob(finder MismatchFinder, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerCheckJob {
	return &LedgerCheckJob{Finder: finder, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLedgerCheck tasks.
func (j *LedgerCheckJob) Handle(ctx context.Context, t *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run executes the check and returns the mismatches found.
func (j *LedgerCheckJob) Run(ctx context.Context) ([]approval.LedgerMismatch, error) {
	if j == nil || j.Finder == nil {
		return nil, errors.New("ledger check: handler not configured")
	}
	tracker := j.metrics().Track(TaskLedgerCheck)
	mismatches, err := j.Finder.FindLedgerMismatches(ctx)
	if err != nil {
		j.logger().Error("ledger check failed", slog.Any("error", err))
		return nil, tracker.End(fmt.Errorf("ledger check: %w", err))
	}
	for _, m := range mismatches {
		j.logger().Error("approval ledger mismatch",
			slog.Int64("request_id", m.RequestID),
			slog.Int64("quote_id", m.QuoteID),
			slog.Int("current_approvers", m.CurrentApprovers),
			slog.Int("approved_actions", m.ApprovedActions))
	}
	j.metrics().AddLedgerMismatches(len(mismatches))
	j.logger().Info("ledger check executed", slog.String("job", TaskLedgerCheck), slog.Int("mismatches", len(mismatches)))
	return mismatches, tracker.End(nil)
}

func (j *LedgerCheckJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *LedgerCheckJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
