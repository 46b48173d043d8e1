package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/quote-approvals/internal/shared"
)

// RepositoryPort describes the persistence used by Service outside a transaction.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQuote(ctx context.Context, id int64) (Quote, error)
	FindPendingRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error)
	ListActions(ctx context.Context, requestID int64) ([]ApprovalAction, error)
	ListActionsByQuote(ctx context.Context, quoteID int64) ([]ApprovalAction, error)
}

// TxRepository exposes the writes that must commit together. The ledger only
// ever grows through AppendAction.
type TxRepository interface {
	LockQuote(ctx context.Context, id int64) (Quote, error)
	LockPendingRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error)
	FindPendingRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error)
	LatestRequest(ctx context.Context, quoteID int64) (ApprovalRequest, error)
	InsertRequest(ctx context.Context, req ApprovalRequest) (ApprovalRequest, error)
	HasApproved(ctx context.Context, requestID, approverID int64) (bool, error)
	AppendAction(ctx context.Context, action ApprovalAction) (ApprovalAction, error)
	IncrementApprovers(ctx context.Context, requestID int64) (ApprovalRequest, error)
	CountApproved(ctx context.Context, requestID int64) (int, error)
	ResolveRequest(ctx context.Context, requestID int64, status RequestStatus) (ApprovalRequest, error)
	UpdateQuoteStatus(ctx context.Context, quoteID int64, status QuoteStatus) error
}

// LimitSource supplies the current role-limit snapshot.
type LimitSource interface {
	Load(ctx context.Context) (*LimitTable, error)
}

// PendingSource runs the aggregated inbox read.
type PendingSource interface {
	ForUser(ctx context.Context, p Principal, recentActions int) ([]PendingApprovalSummary, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Audit actions written by the engine.
const (
	AuditQuoteAutoApproved  = "QUOTE_AUTO_APPROVED"
	AuditRequestWithdrawn   = "APPROVAL_WITHDRAWN"
	AuditRequestSuperseded  = "APPROVAL_SUPERSEDED"
	auditEntityQuote        = "quote"
	defaultRecentActions    = 5
	maxDecisionCommentBytes = 2000
)

// Options tunes Service.
type Options struct {
	RecentActions int
	Logger        *slog.Logger
	Clock         func() time.Time
}

// Service runs the approval state machine.
type Service struct {
	repo    RepositoryPort
	limits  LimitSource
	pending PendingSource
	export  ExportHook
	audit   AuditPort
	metrics Metrics
	recent  int
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs the approval service. Nil hooks become no-ops.
func NewService(repo RepositoryPort, limits LimitSource, pending PendingSource, export ExportHook, audit AuditPort, metrics Metrics, opts Options) *Service {
	if export == nil {
		export = noopExportHook{}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	if opts.RecentActions <= 0 {
		opts.RecentActions = defaultRecentActions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		repo:    repo,
		limits:  limits,
		pending: pending,
		export:  export,
		audit:   audit,
		metrics: metrics,
		recent:  opts.RecentActions,
		logger:  opts.Logger,
		now:     opts.Clock,
	}
}

// Requirement resolves the tier and explanation for a value.
func (s *Service) Requirement(ctx context.Context, v Money) (Requirement, string, error) {
	if v < 0 {
		return Requirement{}, "", fmt.Errorf("%w: value must not be negative", ErrValidation)
	}
	table, err := s.limits.Load(ctx)
	if err != nil {
		return Requirement{}, "", err
	}
	return table.ResolveRequirement(v), table.DescribeRequirement(v), nil
}

// Submit sends a quote for approval, auto-approving when the submitter's
// roles already cover its value. Re-submitting a pending quote returns the
// existing request.
func (s *Service) Submit(ctx context.Context, quoteID int64, p *Principal, comments string) (SubmitResult, error) {
	if err := requirePrincipal(p); err != nil {
		return SubmitResult{}, err
	}
	table, err := s.limits.Load(ctx)
	if err != nil {
		return SubmitResult{}, err
	}
	comments = strings.TrimSpace(comments)

	var (
		result     SubmitResult
		superseded *ApprovalRequest
		quote      Quote
		flipped    bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		superseded, flipped = nil, false
		var err error
		quote, err = tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		if quote.TotalValue < 0 {
			return fmt.Errorf("%w: quote %d has negative total value", ErrValidation, quoteID)
		}

		if table.CanAutoApprove(p.Roles, quote.TotalValue) {
			pending, err := tx.FindPendingRequest(ctx, quoteID)
			switch {
			case err == nil:
				closed, err := tx.ResolveRequest(ctx, pending.ID, RequestStatusWithdrawn)
				if err != nil {
					return err
				}
				superseded = &closed
			case !errors.Is(err, ErrNotFound):
				return err
			}
			if quote.Status != QuoteStatusApproved {
				if err := tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusApproved); err != nil {
					return err
				}
				flipped = true
			}
			result = SubmitResult{AutoApproved: true}
			return nil
		}

		if quote.Status == QuoteStatusApproved {
			return fmt.Errorf("%w: quote %d is already approved", ErrAlreadyResolved, quoteID)
		}

		existing, err := tx.FindPendingRequest(ctx, quoteID)
		switch {
		case err == nil:
			if quote.Status != QuoteStatusPendingApproval {
				if err := tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusPendingApproval); err != nil {
					return err
				}
			}
			result = SubmitResult{Request: &existing}
			return nil
		case !errors.Is(err, ErrNotFound):
			return err
		}

		requirement := table.ResolveRequirement(quote.TotalValue)
		created, err := tx.InsertRequest(ctx, ApprovalRequest{
			QuoteID:           quoteID,
			ApprovalLevel:     requirement.Level,
			RequiredApprovers: requirement.RequiredApprovers,
			Status:            RequestStatusPending,
			RequestedBy:       p.UserID,
			SubmitNote:        comments,
			CreatedAt:         s.now(),
		})
		if err != nil {
			return err
		}
		if err := tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusPendingApproval); err != nil {
			return err
		}
		result = SubmitResult{Created: true, Request: &created}
		return nil
	})
	if errors.Is(err, ErrConflict) {
		// A concurrent submit inserted the pending row first.
		existing, findErr := s.repo.FindPendingRequest(ctx, quoteID)
		if findErr != nil {
			return SubmitResult{}, fmt.Errorf("approval: reload pending request: %w", findErr)
		}
		result, err = SubmitResult{Request: &existing}, nil
	}
	if err != nil {
		return SubmitResult{}, err
	}

	if superseded != nil {
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  p.UserID,
			Action:   AuditRequestSuperseded,
			Entity:   auditEntityQuote,
			EntityID: strconv.FormatInt(quoteID, 10),
			Meta:     map[string]any{"request_id": superseded.ID},
			At:       s.now(),
		})
	}

	switch {
	case result.AutoApproved && flipped:
		s.metrics.ObserveSubmission(OutcomeAutoApproved)
		s.recordAudit(ctx, shared.AuditLog{
			ActorID:  p.UserID,
			Action:   AuditQuoteAutoApproved,
			Entity:   auditEntityQuote,
			EntityID: strconv.FormatInt(quoteID, 10),
			Meta:     map[string]any{"total_value": quote.TotalValue.Decimal(), "roles": p.Roles.Strings()},
			At:       s.now(),
		})
		s.logger.InfoContext(ctx, "quote auto-approved", slog.Int64("quote_id", quoteID), slog.Int64("user_id", p.UserID))
	case result.Created:
		s.metrics.ObserveSubmission(OutcomeQueued)
		s.logger.InfoContext(ctx, "approval request created",
			slog.Int64("quote_id", quoteID),
			slog.Int64("request_id", result.Request.ID),
			slog.String("level", string(result.Request.ApprovalLevel)),
			slog.Int("required_approvers", result.Request.RequiredApprovers))
	default:
		s.metrics.ObserveSubmission(OutcomeResubmitted)
	}
	return result, nil
}

// Approve records an approval under role and finalises the request once the
// required count is reached.
func (s *Service) Approve(ctx context.Context, quoteID int64, p *Principal, role RoleName, comments string) (ApproveResult, error) {
	if err := requirePrincipal(p); err != nil {
		return ApproveResult{}, err
	}
	comments = strings.TrimSpace(comments)
	if len(comments) > maxDecisionCommentBytes {
		return ApproveResult{}, fmt.Errorf("%w: comments too long", ErrValidation)
	}
	table, err := s.limits.Load(ctx)
	if err != nil {
		return ApproveResult{}, err
	}

	var (
		result ApproveResult
		quote  Quote
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		quote, err = tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		req, err := tx.LockPendingRequest(ctx, quoteID)
		if err != nil {
			return s.noPendingError(ctx, tx, quoteID, err)
		}
		if err := table.VerifyExercisedRole(*p, role, req, quote.TotalValue); err != nil {
			return err
		}
		dup, err := tx.HasApproved(ctx, req.ID, p.UserID)
		if err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("%w: user %d on request %d", ErrDuplicateApprover, p.UserID, req.ID)
		}
		action, err := tx.AppendAction(ctx, ApprovalAction{
			ApprovalRequestID: req.ID,
			QuoteID:           quoteID,
			ApproverID:        p.UserID,
			ApproverName:      p.Name,
			ApproverRole:      role,
			Action:            ActionApproved,
			Comments:          comments,
			DecidedAt:         s.now(),
		})
		if err != nil {
			return err
		}
		updated, err := tx.IncrementApprovers(ctx, req.ID)
		if err != nil {
			return err
		}
		ledger, err := tx.CountApproved(ctx, req.ID)
		if err != nil {
			return err
		}
		if ledger != updated.CurrentApprovers {
			return fmt.Errorf("%w: request %d counts %d approvers but ledger holds %d", ErrConflict, req.ID, updated.CurrentApprovers, ledger)
		}
		if updated.Status == RequestStatusApproved {
			if err := tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusApproved); err != nil {
				return err
			}
		}
		result = ApproveResult{Action: action, Request: updated, BecameFinal: updated.Status == RequestStatusApproved}
		return nil
	})
	if err != nil {
		return ApproveResult{}, err
	}

	s.metrics.ObserveDecision(ActionApproved)
	s.logger.InfoContext(ctx, "approval recorded",
		slog.Int64("quote_id", quoteID),
		slog.Int64("request_id", result.Request.ID),
		slog.Int64("approver_id", p.UserID),
		slog.String("role", string(role)),
		slog.Int("current_approvers", result.Request.CurrentApprovers),
		slog.Int("required_approvers", result.Request.RequiredApprovers))
	if result.BecameFinal {
		s.metrics.ObserveFinalized()
		s.handOff(ctx, result.Request, quote)
	}
	return result, nil
}

// Reject terminates the pending request and returns the quote to draft.
func (s *Service) Reject(ctx context.Context, quoteID int64, p *Principal, role RoleName, comments string) (RejectResult, error) {
	if err := requirePrincipal(p); err != nil {
		return RejectResult{}, err
	}
	comments = strings.TrimSpace(comments)
	if comments == "" {
		return RejectResult{}, fmt.Errorf("%w: rejection requires comments", ErrValidation)
	}
	if len(comments) > maxDecisionCommentBytes {
		return RejectResult{}, fmt.Errorf("%w: comments too long", ErrValidation)
	}
	table, err := s.limits.Load(ctx)
	if err != nil {
		return RejectResult{}, err
	}

	var result RejectResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		quote, err := tx.LockQuote(ctx, quoteID)
		if err != nil {
			return err
		}
		req, err := tx.LockPendingRequest(ctx, quoteID)
		if err != nil {
			return s.noPendingError(ctx, tx, quoteID, err)
		}
		if err := table.VerifyExercisedRole(*p, role, req, quote.TotalValue); err != nil {
			return err
		}
		action, err := tx.AppendAction(ctx, ApprovalAction{
			ApprovalRequestID: req.ID,
			QuoteID:           quoteID,
			ApproverID:        p.UserID,
			ApproverName:      p.Name,
			ApproverRole:      role,
			Action:            ActionRejected,
			Comments:          comments,
			DecidedAt:         s.now(),
		})
		if err != nil {
			return err
		}
		updated, err := tx.ResolveRequest(ctx, req.ID, RequestStatusRejected)
		if err != nil {
			return err
		}
		if err := tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusDraft); err != nil {
			return err
		}
		result = RejectResult{Action: action, Request: updated}
		return nil
	})
	if err != nil {
		return RejectResult{}, err
	}

	s.metrics.ObserveDecision(ActionRejected)
	s.logger.InfoContext(ctx, "approval rejected",
		slog.Int64("quote_id", quoteID),
		slog.Int64("request_id", result.Request.ID),
		slog.Int64("approver_id", p.UserID),
		slog.String("role", string(role)))
	return result, nil
}

// Withdraw cancels a pending request. Only the requester or an Admin may
// withdraw; the quote returns to draft and no ledger row is written.
func (s *Service) Withdraw(ctx context.Context, quoteID int64, p *Principal, reason string) (ApprovalRequest, error) {
	if err := requirePrincipal(p); err != nil {
		return ApprovalRequest{}, err
	}
	reason = strings.TrimSpace(reason)

	var withdrawn ApprovalRequest
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockQuote(ctx, quoteID); err != nil {
			return err
		}
		req, err := tx.LockPendingRequest(ctx, quoteID)
		if err != nil {
			return s.noPendingError(ctx, tx, quoteID, err)
		}
		if req.RequestedBy != p.UserID && !p.Roles.Has(RoleAdmin) {
			return fmt.Errorf("%w: only the requester may withdraw request %d", ErrForbidden, req.ID)
		}
		withdrawn, err = tx.ResolveRequest(ctx, req.ID, RequestStatusWithdrawn)
		if err != nil {
			return err
		}
		return tx.UpdateQuoteStatus(ctx, quoteID, QuoteStatusDraft)
	})
	if err != nil {
		return ApprovalRequest{}, err
	}

	s.recordAudit(ctx, shared.AuditLog{
		ActorID:  p.UserID,
		Action:   AuditRequestWithdrawn,
		Entity:   auditEntityQuote,
		EntityID: strconv.FormatInt(quoteID, 10),
		Meta:     map[string]any{"request_id": withdrawn.ID, "reason": reason},
		At:       s.now(),
	})
	s.logger.InfoContext(ctx, "approval withdrawn", slog.Int64("quote_id", quoteID), slog.Int64("request_id", withdrawn.ID))
	return withdrawn, nil
}

// History returns every ledger row recorded for the quote, oldest first.
func (s *Service) History(ctx context.Context, quoteID int64, p *Principal) ([]ApprovalAction, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetQuote(ctx, quoteID); err != nil {
		return nil, err
	}
	return s.repo.ListActionsByQuote(ctx, quoteID)
}

// PendingForUser lists the pending requests p may decide.
func (s *Service) PendingForUser(ctx context.Context, p *Principal) ([]PendingApprovalSummary, error) {
	if err := requirePrincipal(p); err != nil {
		return nil, err
	}
	table, err := s.limits.Load(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := s.pending.ForUser(ctx, *p, s.recent)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(rows))
	out := make([]PendingApprovalSummary, 0, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.RequestID]; dup {
			continue
		}
		req := ApprovalRequest{ApprovalLevel: row.ApprovalLevel, RequiredApprovers: row.RequiredApprovers}
		if !table.CanAct(p.Roles, req, row.TotalValue) {
			continue
		}
		seen[row.RequestID] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

func (s *Service) noPendingError(ctx context.Context, tx TxRepository, quoteID int64, err error) error {
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	latest, err := tx.LatestRequest(ctx, quoteID)
	switch {
	case errors.Is(err, ErrNotFound):
		return fmt.Errorf("%w: no approval request for quote %d", ErrNotFound, quoteID)
	case err != nil:
		return err
	case !latest.Status.Terminal():
		// The pending row appeared after the lock attempt.
		return fmt.Errorf("%w: request %d is still %s", ErrConflict, latest.ID, strings.ToLower(string(latest.Status)))
	}
	return fmt.Errorf("%w: request %d is %s", ErrAlreadyResolved, latest.ID, strings.ToLower(string(latest.Status)))
}

func (s *Service) handOff(ctx context.Context, req ApprovalRequest, quote Quote) {
	evt := ExportEvent{
		RequestID:   req.ID,
		QuoteID:     quote.ID,
		QuoteNumber: quote.Number,
		TotalValue:  quote.TotalValue,
		Level:       req.ApprovalLevel,
		ApprovedAt:  s.now(),
	}
	if req.ResolvedAt != nil {
		evt.ApprovedAt = *req.ResolvedAt
	}
	actions, err := s.repo.ListActions(ctx, req.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "load approvers for export", slog.Int64("request_id", req.ID), slog.Any("error", err))
	}
	for _, a := range actions {
		if a.Action == ActionApproved {
			evt.ApproverIDs = append(evt.ApproverIDs, a.ApproverID)
		}
	}
	if err := s.export.QuoteApproved(ctx, evt); err != nil {
		s.metrics.ObserveExportFailure()
		s.logger.ErrorContext(ctx, "quote export hand-off failed",
			slog.Int64("quote_id", quote.ID),
			slog.Int64("request_id", req.ID),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, log shared.AuditLog) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", log.Action), slog.Any("error", err))
	}
}

func requirePrincipal(p *Principal) error {
	if p == nil || p.UserID == 0 {
		return ErrUnauthenticated
	}
	if len(p.Roles) == 0 {
		return fmt.Errorf("%w: user %d has no roles", ErrForbidden, p.UserID)
	}
	return nil
}
