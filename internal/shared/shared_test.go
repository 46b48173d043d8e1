package shared

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeExecer struct {
	sql  []string
	args [][]any
	err  error
	rows int64
}

func (f *fakeExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.args = append(f.args, args)
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	return pgconn.NewCommandTag("DELETE " + strconv.FormatInt(f.rows, 10)), nil
}

func TestAuditLoggerRecord(t *testing.T) {
	db := &fakeExecer{}
	logger := NewAuditLogger(db)

	err := logger.Record(context.Background(), AuditLog{ActorID: 7, Action: "QUOTE_AUTO_APPROVED", Entity: "quote", EntityID: "12", Meta: map[string]any{"total_value": "15000.00"}})
	require.NoError(t, err)
	require.Len(t, db.sql, 1)
	require.Contains(t, db.sql[0], "INSERT INTO audit_logs")

	var meta map[string]any
	require.NoError(t, json.Unmarshal(db.args[0][4].([]byte), &meta))
	require.Equal(t, "15000.00", meta["total_value"])
	require.Nil(t, db.args[0][5].(*time.Time))

	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "X"}))
	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "X", Entity: "quote", EntityID: "1"}))
}

func TestIdempotencyStoreConflict(t *testing.T) {
	ctx := context.Background()
	db := &fakeExecer{}
	store := NewIdempotencyStore(db)

	require.NoError(t, store.CheckAndInsert(ctx, "quote-export:1", "approvals.export"))

	db.err = &pgconn.PgError{Code: "23505"}
	require.ErrorIs(t, store.CheckAndInsert(ctx, "quote-export:1", "approvals.export"), ErrIdempotencyConflict)

	db.err = errors.New("connection reset")
	err := store.CheckAndInsert(ctx, "quote-export:2", "approvals.export")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIdempotencyConflict)

	require.Error(t, store.CheckAndInsert(ctx, "", "approvals.export"))
	require.Error(t, store.CheckAndInsert(ctx, "k", ""))
}

func TestIdempotencyStoreCleanup(t *testing.T) {
	db := &fakeExecer{rows: 3}
	store := NewIdempotencyStore(db)
	fixed := time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	n, err := store.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.Equal(t, fixed.Add(-24*time.Hour), db.args[0][0])

	require.NoError(t, store.Delete(context.Background(), "k"))
	require.Error(t, store.Delete(context.Background(), ""))
}
