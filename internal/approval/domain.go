package approval

import (
	"errors"
	"strings"
	"time"
)

// RoleName identifies an organisational capability tier.
type RoleName string

const (
	RoleCSR       RoleName = "CSR"
	RoleManager   RoleName = "MANAGER"
	RoleDirector  RoleName = "DIRECTOR"
	RoleVP        RoleName = "VP"
	RolePresident RoleName = "PRESIDENT"
	// RoleAdmin is outside the monetary ladder. Holders may approve any quote
	// at any value without a range lookup, so a stray Admin grant bypasses
	// every monetary control in the engine.
	RoleAdmin RoleName = "ADMIN"
)

// ladder lists the monetary tiers in ascending order of authority.
var ladder = []RoleName{RoleCSR, RoleManager, RoleDirector, RoleVP, RolePresident}

// ParseRole normalises a role string. Unknown roles return false.
func ParseRole(raw string) (RoleName, bool) {
	role := RoleName(strings.ToUpper(strings.TrimSpace(raw)))
	if role == RoleAdmin {
		return role, true
	}
	for _, r := range ladder {
		if r == role {
			return role, true
		}
	}
	return "", false
}

// Rank returns the ladder position starting at 1, or 0 for Admin and unknown roles.
func (r RoleName) Rank() int {
	for i, l := range ladder {
		if l == r {
			return i + 1
		}
	}
	return 0
}

// RoleSet is the set of roles assigned to a principal.
type RoleSet map[RoleName]struct{}

// NewRoleSet builds a RoleSet, dropping unknown role strings.
func NewRoleSet(raw ...string) RoleSet {
	set := make(RoleSet, len(raw))
	for _, r := range raw {
		if role, ok := ParseRole(r); ok {
			set[role] = struct{}{}
		}
	}
	return set
}

// Has reports whether the role is held.
func (s RoleSet) Has(role RoleName) bool {
	_, ok := s[role]
	return ok
}

// HighestRank returns the highest ladder rank held, 0 when none.
func (s RoleSet) HighestRank() int {
	best := 0
	for role := range s {
		if rank := role.Rank(); rank > best {
			best = rank
		}
	}
	return best
}

// Strings returns the roles sorted by ladder rank, Admin last.
func (s RoleSet) Strings() []string {
	out := make([]string, 0, len(s))
	for _, l := range ladder {
		if s.Has(l) {
			out = append(out, string(l))
		}
	}
	if s.Has(RoleAdmin) {
		out = append(out, string(RoleAdmin))
	}
	return out
}

// Principal is the authenticated caller supplied by the identity provider.
type Principal struct {
	UserID int64
	Name   string
	Roles  RoleSet
}

// QuoteStatus is the slice of the quote lifecycle owned by the engine.
type QuoteStatus string

const (
	QuoteStatusDraft           QuoteStatus = "DRAFT"
	QuoteStatusPendingApproval QuoteStatus = "PENDING_APPROVAL"
	QuoteStatusApproved        QuoteStatus = "APPROVED"
)

// Quote carries the fields the engine reads. Only Status is ever written.
type Quote struct {
	ID         int64
	Number     string
	CustomerID int64
	TotalValue Money
	Status     QuoteStatus
	CreatedBy  int64
}

// RequestStatus tracks an ApprovalRequest.
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "PENDING"
	RequestStatusApproved  RequestStatus = "APPROVED"
	RequestStatusRejected  RequestStatus = "REJECTED"
	RequestStatusWithdrawn RequestStatus = "WITHDRAWN"
)

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected || s == RequestStatusWithdrawn
}

// ApprovalRequest is the queued approval for a quote. RequiredApprovers is
// frozen at creation.
type ApprovalRequest struct {
	ID                int64         `json:"id"`
	QuoteID           int64         `json:"quote_id"`
	ApprovalLevel     RoleName      `json:"approval_level"`
	RequiredApprovers int           `json:"required_approvers"`
	CurrentApprovers  int           `json:"current_approvers"`
	Status            RequestStatus `json:"status"`
	RequestedBy       int64         `json:"requested_by"`
	SubmitNote        string        `json:"submit_note,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	ResolvedAt        *time.Time    `json:"resolved_at,omitempty"`
}

// ActionKind is the decision recorded in the ledger.
type ActionKind string

const (
	ActionApproved ActionKind = "APPROVED"
	ActionRejected ActionKind = "REJECTED"
)

// ApprovalAction is an immutable ledger row.
type ApprovalAction struct {
	ID                int64      `json:"id"`
	ApprovalRequestID int64      `json:"approval_request_id"`
	QuoteID           int64      `json:"quote_id"`
	ApproverID        int64      `json:"approver_id"`
	ApproverName      string     `json:"approver_name,omitempty"`
	ApproverRole      RoleName   `json:"approver_role"`
	Action            ActionKind `json:"action"`
	Comments          string     `json:"comments,omitempty"`
	DecidedAt         time.Time  `json:"decided_at"`
}

// RoleLimit maps a ladder role to the inclusive range it may approve.
// A nil MaxAmount is unbounded.
type RoleLimit struct {
	Role      RoleName `json:"role"`
	MinAmount Money    `json:"min_amount"`
	MaxAmount *Money   `json:"max_amount,omitempty"`
}

// Contains reports whether v falls inside the limit.
func (l RoleLimit) Contains(v Money) bool {
	if v < l.MinAmount {
		return false
	}
	return l.MaxAmount == nil || v <= *l.MaxAmount
}

// Requirement is the resolved tier and sign-off count for a value.
type Requirement struct {
	Level             RoleName `json:"level"`
	RequiredApprovers int      `json:"required_approvers"`
}

// SubmitResult is returned by Service.Submit.
type SubmitResult struct {
	AutoApproved bool             `json:"auto_approved"`
	Created      bool             `json:"created"`
	Request      *ApprovalRequest `json:"request,omitempty"`
}

// ApproveResult is returned by Service.Approve.
type ApproveResult struct {
	Action      ApprovalAction  `json:"action"`
	Request     ApprovalRequest `json:"request"`
	BecameFinal bool            `json:"became_final"`
}

// RejectResult is returned by Service.Reject.
type RejectResult struct {
	Action  ApprovalAction  `json:"action"`
	Request ApprovalRequest `json:"request"`
}

// PendingApprovalSummary is one row of a user's approval inbox.
type PendingApprovalSummary struct {
	RequestID         int64            `json:"request_id"`
	QuoteID           int64            `json:"quote_id"`
	QuoteNumber       string           `json:"quote_number"`
	CustomerName      string           `json:"customer_name"`
	RequestedBy       int64            `json:"requested_by"`
	RequesterName     string           `json:"requester_name"`
	TotalValue        Money            `json:"total_value"`
	ApprovalLevel     RoleName         `json:"approval_level"`
	RequiredApprovers int              `json:"required_approvers"`
	CurrentApprovers  int              `json:"current_approvers"`
	SubmittedAt       time.Time        `json:"submitted_at"`
	RecentActions     []ApprovalAction `json:"recent_actions"`
}

// LedgerMismatch describes a request whose count disagrees with its ledger.
type LedgerMismatch struct {
	RequestID        int64
	QuoteID          int64
	CurrentApprovers int
	ApprovedActions  int
}

var (
	// ErrNotFound indicates a missing quote or approval request.
	ErrNotFound = errors.New("approval: not found")
	// ErrUnauthenticated indicates no principal on the call.
	ErrUnauthenticated = errors.New("approval: authentication required")
	// ErrForbidden indicates the principal's roles do not qualify.
	ErrForbidden = errors.New("approval: not authorised")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("approval: invalid input")
	// ErrAlreadyResolved indicates the request or quote is no longer pending.
	ErrAlreadyResolved = errors.New("approval: already resolved")
	// ErrDuplicateApprover indicates the approver already counted on the request.
	ErrDuplicateApprover = errors.New("approval: approver already recorded")
	// ErrConflict indicates a concurrent writer created the same record.
	ErrConflict = errors.New("approval: concurrent modification")
)
