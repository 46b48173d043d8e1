package approval

import (
	"context"
	"time"
)

// ExportEvent is emitted once a request reaches APPROVED.
type ExportEvent struct {
	RequestID   int64     `json:"request_id"`
	QuoteID     int64     `json:"quote_id"`
	QuoteNumber string    `json:"quote_number"`
	TotalValue  Money     `json:"total_value"`
	Level       RoleName  `json:"approval_level"`
	ApproverIDs []int64   `json:"approver_ids"`
	ApprovedAt  time.Time `json:"approved_at"`
}

// ExportHook hands an approved quote to downstream export. Implementations
// must not block on the export itself.
type ExportHook interface {
	QuoteApproved(ctx context.Context, evt ExportEvent) error
}

type noopExportHook struct{}

func (noopExportHook) QuoteApproved(context.Context, ExportEvent) error { return nil }

// Metrics receives engine outcome counts.
type Metrics interface {
	ObserveSubmission(outcome string)
	ObserveDecision(action ActionKind)
	ObserveFinalized()
	ObserveExportFailure()
}

// Submission outcomes reported to Metrics.
const (
	OutcomeAutoApproved = "auto_approved"
	OutcomeQueued       = "queued"
	OutcomeResubmitted  = "resubmitted"
)

type noopMetrics struct{}

func (noopMetrics) ObserveSubmission(string)   {}
func (noopMetrics) ObserveDecision(ActionKind) {}
func (noopMetrics) ObserveFinalized()          {}
func (noopMetrics) ObserveExportFailure()      {}
