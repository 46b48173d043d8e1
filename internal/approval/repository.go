package approval

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/quote-approvals/internal/platform/db"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, queries: queries{db: pool}}
}

type txRepo struct {
	queries
}

// WithTx runs fn in a READ COMMITTED transaction. Row locks taken with
// FOR UPDATE serialise competing decisions on the same quote.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{queries: queries{db: tx}})
	})
}

type queries struct {
	db dbtx
}

const quoteColumns = `q.id, q.quote_number, q.customer_id, ROUND(q.total_value * 100)::bigint, q.quote_status, q.created_by`

const requestColumns = `id, quote_id, approval_level, required_approvers, current_approvers, status,
	requested_by, COALESCE(submit_note, ''), created_at, resolved_at`

const actionColumns = `a.id, a.approval_request_id, a.quote_id, a.approver_id, COALESCE(u.name, ''),
	a.approver_role, a.action, COALESCE(a.comments, ''), a.decided_at`

func scanQuote(row pgx.Row) (Quote, error) {
	var q Quote
	var cents int64
	var status string
	if err := row.Scan(&q.ID, &q.Number, &q.CustomerID, &cents, &status, &q.CreatedBy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Quote{}, ErrNotFound
		}
		return Quote{}, err
	}
	q.TotalValue = Money(cents)
	q.Status = QuoteStatus(status)
	return q, nil
}

func scanRequest(row pgx.Row) (ApprovalRequest, error) {
	var r ApprovalRequest
	var level, status string
	if err := row.Scan(&r.ID, &r.QuoteID, &level, &r.RequiredApprovers, &r.CurrentApprovers, &status,
		&r.RequestedBy, &r.SubmitNote, &r.CreatedAt, &r.ResolvedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ApprovalRequest{}, ErrNotFound
		}
		return ApprovalRequest{}, err
	}
	r.ApprovalLevel = RoleName(level)
	r.Status = RequestStatus(status)
	return r, nil
}

func scanActions(rows pgx.Rows) ([]ApprovalAction, error) {
	defer rows.Close()
	var out []ApprovalAction
	for rows.Next() {
		var a ApprovalAction
		var role, action string
		if err := rows.Scan(&a.ID, &a.ApprovalRequestID, &a.QuoteID, &a.ApproverID, &a.ApproverName,
			&role, &action, &a.Comments, &a.DecidedAt); err != nil {
			return nil, err
		}
		a.ApproverRole = RoleName(role)
		a.Action = ActionKind(action)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetQuote loads the approval-relevant quote fields.
func (q queries) GetQuote(ctx context.Context, id int64) (Quote, error) {
	return scanQuote(q.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes q WHERE q.id = $1`, id))
}

// LockQuote loads the quote and holds its row lock until the transaction ends.
func (q queries) LockQuote(ctx context.Context, id int64) (Quote, error) {
	return scanQuote(q.db.QueryRow(ctx, `SELECT `+quoteColumns+` FROM quotes q WHERE q.id = $1 FOR UPDATE`, id))
}

// FindPendingRequest returns the pending request for the quote.
func (q queries) FindPendingRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+`
FROM approval_requests WHERE quote_id = $1 AND status = 'PENDING'`, quoteID))
}

// LockPendingRequest returns the pending request and locks it.
func (q queries) LockPendingRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+`
FROM approval_requests WHERE quote_id = $1 AND status = 'PENDING' FOR UPDATE`, quoteID))
}

// LatestRequest returns the newest request for the quote in any status.
func (q queries) LatestRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error) {
	return scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+`
FROM approval_requests WHERE quote_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, quoteID))
}

// InsertRequest creates a pending request. A concurrent insert for the same
// quote trips the partial unique index and yields ErrConflict.
func (q queries) InsertRequest(ctx context.Context, req ApprovalRequest) (ApprovalRequest, error) {
	created, err := scanRequest(q.db.QueryRow(ctx, `INSERT INTO approval_requests
	(quote_id, approval_level, required_approvers, current_approvers, status, requested_by, submit_note, created_at)
VALUES ($1, $2, $3, 0, 'PENDING', $4, NULLIF($5, ''), $6)
RETURNING `+requestColumns,
		req.QuoteID, string(req.ApprovalLevel), req.RequiredApprovers, req.RequestedBy, req.SubmitNote, req.CreatedAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ApprovalRequest{}, ErrConflict
		}
		return ApprovalRequest{}, fmt.Errorf("approval: insert request: %w", err)
	}
	return created, nil
}

// HasApproved reports whether approverID already approved the request.
func (q queries) HasApproved(ctx context.Context, requestID, approverID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM approval_actions WHERE approval_request_id = $1 AND approver_id = $2 AND action = 'APPROVED'
)`, requestID, approverID).Scan(&exists)
	return exists, err
}

// AppendAction inserts a ledger row.
func (q queries) AppendAction(ctx context.Context, a ApprovalAction) (ApprovalAction, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO approval_actions
	(approval_request_id, quote_id, approver_id, approver_role, action, comments, decided_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
RETURNING id, decided_at`,
		a.ApprovalRequestID, a.QuoteID, a.ApproverID, string(a.ApproverRole), string(a.Action), a.Comments, a.DecidedAt,
	).Scan(&a.ID, &a.DecidedAt)
	if err != nil {
		return ApprovalAction{}, fmt.Errorf("approval: append action: %w", err)
	}
	return a, nil
}

// IncrementApprovers bumps current_approvers at the database and flips the
// request to APPROVED when the required count is reached.
func (q queries) IncrementApprovers(ctx context.Context, requestID int64) (ApprovalRequest, error) {
	req, err := scanRequest(q.db.QueryRow(ctx, `UPDATE approval_requests
SET current_approvers = current_approvers + 1,
	status = CASE WHEN current_approvers + 1 >= required_approvers THEN 'APPROVED' ELSE status END,
	resolved_at = CASE WHEN current_approvers + 1 >= required_approvers THEN NOW() ELSE resolved_at END
WHERE id = $1 AND status = 'PENDING'
RETURNING `+requestColumns, requestID))
	if errors.Is(err, ErrNotFound) {
		return ApprovalRequest{}, fmt.Errorf("%w: request %d", ErrAlreadyResolved, requestID)
	}
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("approval: increment approvers: %w", err)
	}
	return req, nil
}

// ResolveRequest moves a pending request to a terminal status.
func (q queries) ResolveRequest(ctx context.Context, requestID int64, status RequestStatus) (ApprovalRequest, error) {
	req, err := scanRequest(q.db.QueryRow(ctx, `UPDATE approval_requests
SET status = $2, resolved_at = NOW()
WHERE id = $1 AND status = 'PENDING'
RETURNING `+requestColumns, requestID, string(status)))
	if errors.Is(err, ErrNotFound) {
		return ApprovalRequest{}, fmt.Errorf("%w: request %d", ErrAlreadyResolved, requestID)
	}
	if err != nil {
		return ApprovalRequest{}, fmt.Errorf("approval: resolve request: %w", err)
	}
	return req, nil
}

// UpdateQuoteStatus writes quote_status, the only quote column the engine owns.
func (q queries) UpdateQuoteStatus(ctx context.Context, quoteID int64, status QuoteStatus) error {
	tag, err := q.db.Exec(ctx, `UPDATE quotes SET quote_status = $2, updated_at = NOW() WHERE id = $1`, quoteID, string(status))
	if err != nil {
		return fmt.Errorf("approval: update quote status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListActions returns the ledger for a request, oldest first.
func (q queries) ListActions(ctx context.Context, requestID int64) ([]ApprovalAction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+actionColumns+`
FROM approval_actions a LEFT JOIN users u ON u.id = a.approver_id
WHERE a.approval_request_id = $1 ORDER BY a.decided_at, a.id`, requestID)
	if err != nil {
		return nil, fmt.Errorf("approval: list actions: %w", err)
	}
	return scanActions(rows)
}

// ListActionsByQuote returns the ledger across every request of the quote.
func (q queries) ListActionsByQuote(ctx context.Context, quoteID int64) ([]ApprovalAction, error) {
	rows, err := q.db.Query(ctx, `SELECT `+actionColumns+`
FROM approval_actions a LEFT JOIN users u ON u.id = a.approver_id
WHERE a.quote_id = $1 ORDER BY a.decided_at, a.id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("approval: list quote actions: %w", err)
	}
	return scanActions(rows)
}

// CountApproved counts APPROVED ledger rows for a request.
func (q queries) CountApproved(ctx context.Context, requestID int64) (int, error) {
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM approval_actions WHERE approval_request_id = $1 AND action = 'APPROVED'`, requestID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("approval: count approvals: %w", err)
	}
	return n, nil
}

// FindLedgerMismatches returns requests whose current_approvers disagrees
// with the ledger.
func (q queries) FindLedgerMismatches(ctx context.Context) ([]LedgerMismatch, error) {
	rows, err := q.db.Query(ctx, `SELECT r.id, r.quote_id, r.current_approvers, COUNT(a.id) FILTER (WHERE a.action = 'APPROVED')
FROM approval_requests r
LEFT JOIN approval_actions a ON a.approval_request_id = r.id
GROUP BY r.id, r.quote_id, r.current_approvers
HAVING r.current_approvers <> COUNT(a.id) FILTER (WHERE a.action = 'APPROVED')
ORDER BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("approval: ledger mismatches: %w", err)
	}
	defer rows.Close()
	var out []LedgerMismatch
	for rows.Next() {
		var m LedgerMismatch
		if err := rows.Scan(&m.RequestID, &m.QuoteID, &m.CurrentApprovers, &m.ApprovedActions); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ActiveLimits reads role_limits WHERE is_active.
func (q queries) ActiveLimits(ctx context.Context) ([]RoleLimit, error) {
	rows, err := q.db.Query(ctx, `SELECT role, ROUND(min_amount * 100)::bigint, ROUND(max_amount * 100)::bigint
FROM role_limits WHERE is_active ORDER BY min_amount, role`)
	if err != nil {
		return nil, fmt.Errorf("approval: load role limits: %w", err)
	}
	defer rows.Close()
	var out []RoleLimit
	for rows.Next() {
		var role string
		var minCents int64
		var maxCents *int64
		if err := rows.Scan(&role, &minCents, &maxCents); err != nil {
			return nil, err
		}
		limit := RoleLimit{Role: RoleName(role), MinAmount: Money(minCents)}
		if maxCents != nil {
			ceiling := Money(*maxCents)
			limit.MaxAmount = &ceiling
		}
		out = append(out, limit)
	}
	return out, rows.Err()
}
