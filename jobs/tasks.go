package jobs

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskQuoteExport hands an approved quote to the order system.
	TaskQuoteExport = "quote:export"
	// TaskLedgerCheck compares approver counters against the action ledger.
	TaskLedgerCheck = "approvals:ledger-check"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "approvals:idempotency-cleanup"
)

// QuoteExportPayload describes an approved quote awaiting export.
type QuoteExportPayload struct {
	RequestID   int64          `json:"request_id"`
	QuoteID     int64          `json:"quote_id"`
	QuoteNumber string         `json:"quote_number"`
	TotalValue  approval.Money `json:"total_value"`
	Level       string         `json:"approval_level"`
	ApproverIDs []int64        `json:"approver_ids"`
	ApprovedAt  time.Time      `json:"approved_at"`
}

// ExportPayloadFromEvent converts an approval event into a task payload.
func ExportPayloadFromEvent(evt approval.ExportEvent) QuoteExportPayload {
	return QuoteExportPayload{
		RequestID:   evt.RequestID,
		QuoteID:     evt.QuoteID,
		QuoteNumber: evt.QuoteNumber,
		TotalValue:  evt.TotalValue,
		Level:       string(evt.Level),
		ApproverIDs: evt.ApproverIDs,
		ApprovedAt:  evt.ApprovedAt,
	}
}

// ExportKey is both the asynq task id and the idempotency key for a request.
func ExportKey(requestID int64) string {
	return "quote-export:" + strconv.FormatInt(requestID, 10)
}

// NewQuoteExportTask constructs an Asynq task.
func NewQuoteExportTask(payload QuoteExportPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskQuoteExport, data), nil
}

// LedgerCheckPayload carries optional bounds for a ledger check run.
type LedgerCheckPayload struct {
	Trigger string `json:"trigger,omitempty"`
}

// NewLedgerCheckTask constructs an Asynq task.
func NewLedgerCheckTask(payload LedgerCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerCheck, data), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
