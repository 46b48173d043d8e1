package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
)

// ApprovalMetrics counts approval engine outcomes.
type ApprovalMetrics struct {
	submissions    *prometheus.CounterVec
	decisions      *prometheus.CounterVec
	finalized      prometheus.Counter
	exportFailures prometheus.Counter
}

// NewApprovalMetrics registers the approval counters on registerer.
func NewApprovalMetrics(registerer prometheus.Registerer) *ApprovalMetrics {
	m := &ApprovalMetrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_submissions_total",
			Help: "Quote submissions by outcome.",
		}, []string{"outcome"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "approvals_decisions_total",
			Help: "Approver decisions recorded in the ledger by action.",
		}, []string{"action"}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvals_finalized_total",
			Help: "Approval requests that reached APPROVED.",
		}),
		exportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "approvals_export_failures_total",
			Help: "Approved quotes whose export hand-off could not be enqueued.",
		}),
	}
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	registerer.MustRegister(m.submissions, m.decisions, m.finalized, m.exportFailures)
	return m
}

func (m *ApprovalMetrics) ObserveSubmission(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *ApprovalMetrics) ObserveDecision(action approval.ActionKind) {
	m.decisions.WithLabelValues(string(action)).Inc()
}

func (m *ApprovalMetrics) ObserveFinalized() {
	m.finalized.Inc()
}

func (m *ApprovalMetrics) ObserveExportFailure() {
	m.exportFailures.Inc()
}

var _ approval.Metrics = (*ApprovalMetrics)(nil)
