package approval

import (
	"context"
	"encoding/json"
	"fmt"
)

// PendingQuery is the aggregated read behind the approval inbox.
type PendingQuery struct {
	db dbtx
}

// NewPendingQuery constructs the query over a pool or transaction.
func NewPendingQuery(db dbtx) *PendingQuery {
	return &PendingQuery{db: db}
}

// pendingSQL returns every pending request the caller may decide, joined with
// quote, customer and requester, plus the most recent $4 ledger rows as JSON.
//
// $1 admin flag, $2 highest ladder rank held, $3 roles held.
const pendingSQL = `
SELECT r.id, r.quote_id, q.quote_number, COALESCE(c.name, ''), r.requested_by, COALESCE(ru.name, ''),
	ROUND(q.total_value * 100)::bigint, r.approval_level, r.required_approvers, r.current_approvers, r.created_at,
	COALESCE(recent.actions, '[]'::json)
FROM approval_requests r
JOIN quotes q ON q.id = r.quote_id
LEFT JOIN customers c ON c.id = q.customer_id
LEFT JOIN users ru ON ru.id = r.requested_by
LEFT JOIN LATERAL (
	SELECT json_agg(json_build_object(
		'id', x.id,
		'approval_request_id', x.approval_request_id,
		'quote_id', x.quote_id,
		'approver_id', x.approver_id,
		'approver_name', COALESCE(x.name, ''),
		'approver_role', x.approver_role,
		'action', x.action,
		'comments', COALESCE(x.comments, ''),
		'decided_at', x.decided_at
	) ORDER BY x.decided_at DESC, x.id DESC) AS actions
	FROM (
		SELECT a.*, au.name
		FROM approval_actions a
		LEFT JOIN users au ON au.id = a.approver_id
		WHERE a.approval_request_id = r.id
		ORDER BY a.decided_at DESC, a.id DESC
		LIMIT $4
	) x
) recent ON TRUE
WHERE r.status = 'PENDING'
  AND (
	$1::boolean
	OR (
		CASE r.approval_level
			WHEN 'CSR' THEN 1 WHEN 'MANAGER' THEN 2 WHEN 'DIRECTOR' THEN 3
			WHEN 'VP' THEN 4 WHEN 'PRESIDENT' THEN 5 ELSE 99
		END
	) <= $2::int
	OR EXISTS (
		SELECT 1 FROM role_limits rl
		WHERE rl.is_active
		  AND rl.role = ANY($3::text[])
		  AND q.total_value >= rl.min_amount
		  AND (rl.max_amount IS NULL OR q.total_value <= rl.max_amount)
	)
  )
ORDER BY r.created_at ASC, r.id ASC`

// ForUser runs the inbox query for p.
func (q *PendingQuery) ForUser(ctx context.Context, p Principal, recentActions int) ([]PendingApprovalSummary, error) {
	if recentActions <= 0 {
		recentActions = defaultRecentActions
	}
	rows, err := q.db.Query(ctx, pendingSQL, p.Roles.Has(RoleAdmin), p.Roles.HighestRank(), p.Roles.Strings(), recentActions)
	if err != nil {
		return nil, fmt.Errorf("approval: pending query: %w", err)
	}
	defer rows.Close()

	var out []PendingApprovalSummary
	for rows.Next() {
		var (
			s      PendingApprovalSummary
			cents  int64
			level  string
			recent []byte
		)
		if err := rows.Scan(&s.RequestID, &s.QuoteID, &s.QuoteNumber, &s.CustomerName, &s.RequestedBy, &s.RequesterName,
			&cents, &level, &s.RequiredApprovers, &s.CurrentApprovers, &s.SubmittedAt, &recent); err != nil {
			return nil, fmt.Errorf("approval: scan pending row: %w", err)
		}
		s.TotalValue = Money(cents)
		s.ApprovalLevel = RoleName(level)
		if s.RecentActions, err = decodeRecentActions(recent); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// decodeRecentActions reads the json_agg column. An empty aggregate decodes
// to a non-nil empty slice so the inbox always renders a list.
func decodeRecentActions(raw []byte) ([]ApprovalAction, error) {
	actions := []ApprovalAction{}
	if len(raw) == 0 {
		return actions, nil
	}
	if err := json.Unmarshal(raw, &actions); err != nil {
		return nil, fmt.Errorf("approval: decode recent actions: %w", err)
	}
	if actions == nil {
		actions = []ApprovalAction{}
	}
	return actions, nil
}
