package approval

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

// recentJSON is the shape json_agg(json_build_object(...)) emits for the
// recent column: timestamptz with a +00:00 offset and COALESCEd strings.
const recentJSON = `[{"id" : 12, "approval_request_id" : 4, "quote_id" : 9, "approver_id" : 31, "approver_name" : "", "approver_role" : "PRESIDENT", "action" : "APPROVED", "comments" : "", "decided_at" : "2024-05-01T10:00:00.123456+00:00"},
 {"id" : 11, "approval_request_id" : 4, "quote_id" : 9, "approver_id" : 30, "approver_name" : "Rina", "approver_role" : "PRESIDENT", "action" : "APPROVED", "comments" : "ok", "decided_at" : "2024-05-01T17:00:00+07:00"}]`

func TestDecodeRecentActions(t *testing.T) {
	actions, err := decodeRecentActions([]byte(recentJSON))
	require.NoError(t, err)
	require.Len(t, actions, 2)

	first := actions[0]
	require.Equal(t, int64(12), first.ID)
	require.Equal(t, int64(4), first.ApprovalRequestID)
	require.Equal(t, RolePresident, first.ApproverRole)
	require.Equal(t, ActionApproved, first.Action)
	require.Empty(t, first.ApproverName)
	require.Empty(t, first.Comments)
	require.True(t, first.DecidedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC)))

	require.Equal(t, "Rina", actions[1].ApproverName)
	require.True(t, actions[1].DecidedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	for _, raw := range []string{"[]", "null", ""} {
		actions, err := decodeRecentActions([]byte(raw))
		require.NoError(t, err, raw)
		require.NotNil(t, actions, raw)
		require.Empty(t, actions, raw)
	}

	_, err = decodeRecentActions([]byte(`[{"decided_at" : "yesterday"}]`))
	require.Error(t, err)
}

type capturedQuery struct {
	sql  string
	args []any
}

type fakePendingDB struct {
	got  capturedQuery
	rows [][]any
	err  error
}

func (d *fakePendingDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("not supported")
}

func (d *fakePendingDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.got = capturedQuery{sql: sql, args: args}
	if d.err != nil {
		return nil, d.err
	}
	return &fakeRows{rows: d.rows, idx: -1}, nil
}

func (d *fakePendingDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return nil
}

// fakeRows assigns each column value to the matching Scan destination.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close() {}
func (r *fakeRows) Err() error { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte { return nil }
func (r *fakeRows) Conn() *pgx.Conn { return nil }

func (r *fakeRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.idx], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func pendingRow(requestID int64, recent string) []any {
	return []any{
		requestID, int64(9), "Q-00009", "Acme", int64(10), "Sam",
		int64(60_000_000), "PRESIDENT", 2, 1, time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		[]byte(recent),
	}
}

func TestPendingQueryForUser(t *testing.T) {
	db := &fakePendingDB{rows: [][]any{pendingRow(4, recentJSON), pendingRow(5, "[]")}}
	q := NewPendingQuery(db)

	got, err := q.ForUser(context.Background(), *principal(30, "MANAGER", "PRESIDENT"), 0)
	require.NoError(t, err)
	require.Equal(t, pendingSQL, db.got.sql)
	require.Equal(t, []any{false, 5, []string{"MANAGER", "PRESIDENT"}, defaultRecentActions}, db.got.args)

	require.Len(t, got, 2)
	require.Equal(t, int64(4), got[0].RequestID)
	require.Equal(t, Units(600000), got[0].TotalValue)
	require.Equal(t, RolePresident, got[0].ApprovalLevel)
	require.Equal(t, 2, got[0].RequiredApprovers)
	require.Equal(t, 1, got[0].CurrentApprovers)
	require.Len(t, got[0].RecentActions, 2)
	require.NotNil(t, got[1].RecentActions)
	require.Empty(t, got[1].RecentActions)

	_, err = q.ForUser(context.Background(), *principal(1, "ADMIN"), 3)
	require.NoError(t, err)
	require.Equal(t, true, db.got.args[0])
	require.Equal(t, 3, db.got.args[3])
}

func TestPendingQueryForUserErrors(t *testing.T) {
	db := &fakePendingDB{err: errors.New("connection reset")}
	_, err := NewPendingQuery(db).ForUser(context.Background(), *principal(30, "DIRECTOR"), 5)
	require.ErrorContains(t, err, "pending query")

	db = &fakePendingDB{rows: [][]any{pendingRow(4, `{"not":"a list"}`)}}
	_, err = NewPendingQuery(db).ForUser(context.Background(), *principal(30, "DIRECTOR"), 5)
	require.ErrorContains(t, err, "decode recent actions")
}
