package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("ledger_check").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("ledger_check").End(boom), boom)

	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_check", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.runs.WithLabelValues("ledger_check", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("ledger_check")))
	require.Greater(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("ledger_check")), 0.0)
}

func TestFailedRunLeavesLastSuccessUnset(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	_ = m.Track("cleanup").End(errors.New("boom"))
	require.Zero(t, testutil.ToFloat64(m.lastSuccess.WithLabelValues("cleanup")))
}

func TestCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddLedgerMismatches(0)
	m.AddLedgerMismatches(3)
	require.Equal(t, 3.0, testutil.ToFloat64(m.mismatches))

	m.ObserveExport(ExportSent)
	m.ObserveExport(ExportSent)
	m.ObserveExport(ExportDuplicate)
	require.Equal(t, 2.0, testutil.ToFloat64(m.exports.WithLabelValues(ExportSent)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.exports.WithLabelValues(ExportDuplicate)))

	var nilMetrics *Metrics
	nilMetrics.AddLedgerMismatches(2)
	nilMetrics.ObserveExport(ExportFailed)
	require.NoError(t, nilMetrics.Track("x").End(nil))
}
