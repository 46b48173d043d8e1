package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
	"github.com/odyssey-erp/quote-approvals/jobs"
)

type stubLoader struct {
	rows []approval.RoleLimit
	err  error
}

func (s stubLoader) ActiveLimits(ctx context.Context) ([]approval.RoleLimit, error) {
	return s.rows, s.err
}

func TestLimitsCheckValidLadder(t *testing.T) {
	c, err := NewLimitsCLI(stubLoader{rows: approval.DefaultLadder()}, approval.DefaultDualControlThreshold)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	code := c.CheckCommand(context.Background(), LimitsCheckOptions{JSONOutput: true, Stdout: stdout, Stderr: stderr})
	require.Zero(t, code)
	require.Empty(t, stderr.String())

	var summary LimitsCheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.True(t, summary.OK)
	require.Len(t, summary.Tiers, 5)
	require.Equal(t, "CSR", summary.Tiers[0].Role)
	require.Nil(t, summary.Tiers[4].Max)
	require.Empty(t, summary.Problems)
}

func TestLimitsCheckReportsProblems(t *testing.T) {
	ladder := approval.DefaultLadder()
	gap := approval.Units(30000)
	ladder[1].MinAmount = gap
	c, err := NewLimitsCLI(stubLoader{rows: ladder}, approval.DefaultDualControlThreshold)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	code := c.CheckCommand(context.Background(), LimitsCheckOptions{JSONOutput: true, Stdout: stdout, Stderr: new(bytes.Buffer)})
	require.Equal(t, 10, code)

	var summary LimitsCheckSummary
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &summary))
	require.False(t, summary.OK)
	require.Len(t, summary.Problems, 1)
	require.Contains(t, summary.Problems[0], "gap between CSR and MANAGER")
}

func TestLimitsCheckHumanOutput(t *testing.T) {
	c, err := NewLimitsCLI(stubLoader{rows: approval.DefaultLadder()}, approval.DefaultDualControlThreshold)
	require.NoError(t, err)

	stdout := new(bytes.Buffer)
	require.Zero(t, c.CheckCommand(context.Background(), LimitsCheckOptions{Stdout: stdout, Stderr: new(bytes.Buffer)}))
	require.Contains(t, stdout.String(), "dual control above 500,000.00")
	require.Contains(t, stdout.String(), "PRESIDENT")
	require.Contains(t, stdout.String(), "unbounded")
	require.Contains(t, stdout.String(), "Table is valid.")
}

func TestLimitsCheckLoadFailure(t *testing.T) {
	c, err := NewLimitsCLI(stubLoader{err: errors.New("connection refused")}, 0)
	require.NoError(t, err)

	stderr := new(bytes.Buffer)
	require.Equal(t, 1, c.CheckCommand(context.Background(), LimitsCheckOptions{Stdout: new(bytes.Buffer), Stderr: stderr}))
	require.Contains(t, stderr.String(), "connection refused")

	_, err = NewLimitsCLI(nil, 0)
	require.Error(t, err)
}

type recordingEnqueuer struct {
	tasks []*asynq.Task
}

func (r *recordingEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: "t1", Type: task.Type(), Queue: jobs.QueueDefault}, nil
}

type stubInspector struct{}

func (stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return &asynq.QueueInfo{Queue: queue, Pending: 2, Archived: 1}, nil
}

func TestJobsTrigger(t *testing.T) {
	enq := &recordingEnqueuer{}
	c := NewJobsCLI(enq, stubInspector{})

	info, err := c.Trigger(context.Background(), "ledger-check")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerCheck, info.Type)

	_, err = c.Trigger(context.Background(), "idempotency-cleanup")
	require.NoError(t, err)
	require.Equal(t, jobs.TaskIdempotencyCleanup, enq.tasks[1].Type())

	_, err = c.Trigger(context.Background(), "warmup")
	require.Error(t, err)
	require.Equal(t, []string{"idempotency-cleanup", "ledger-check"}, TriggerableJobs())
}

func TestJobsInspectQueue(t *testing.T) {
	stats, err := NewJobsCLI(nil, stubInspector{}).InspectQueue()
	require.NoError(t, err)
	require.Equal(t, 2, stats.Pending)
	require.Equal(t, 1, stats.Archived)

	_, err = NewJobsCLI(nil, nil).InspectQueue()
	require.Error(t, err)
}
