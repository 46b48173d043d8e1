package approval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/quote-approvals/internal/platform/httpx"
)

// ServicePort is the subset of Service used by the HTTP layer.
type ServicePort interface {
	Submit(ctx context.Context, quoteID int64, p *Principal, comments string) (SubmitResult, error)
	Approve(ctx context.Context, quoteID int64, p *Principal, role RoleName, comments string) (ApproveResult, error)
	Reject(ctx context.Context, quoteID int64, p *Principal, role RoleName, comments string) (RejectResult, error)
	Withdraw(ctx context.Context, quoteID int64, p *Principal, reason string) (ApprovalRequest, error)
	History(ctx context.Context, quoteID int64, p *Principal) ([]ApprovalAction, error)
	PendingForUser(ctx context.Context, p *Principal) ([]PendingApprovalSummary, error)
	Requirement(ctx context.Context, v Money) (Requirement, string, error)
}

// Handler exposes the approval engine as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   ServicePort
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

type submitRequest struct {
	Comments string `json:"comments" validate:"max=2000"`
}

type decisionRequest struct {
	Role     string `json:"role" validate:"required"`
	Comments string `json:"comments" validate:"max=2000"`
}

type rejectRequest struct {
	Role     string `json:"role" validate:"required"`
	Comments string `json:"comments" validate:"required,max=2000"`
}

type withdrawRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type requirementResponse struct {
	Value             Money    `json:"value"`
	Level             RoleName `json:"level"`
	RequiredApprovers int      `json:"required_approvers"`
	Description       string   `json:"description"`
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	var body submitRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	result, err := h.service.Submit(r.Context(), quoteID, PrincipalFromContext(r.Context()), body.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, result)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	var body decisionRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	role, ok := h.role(w, body.Role)
	if !ok {
		return
	}
	result, err := h.service.Approve(r.Context(), quoteID, PrincipalFromContext(r.Context()), role, body.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	var body rejectRequest
	if !h.decode(w, r, &body, false) {
		return
	}
	role, ok := h.role(w, body.Role)
	if !ok {
		return
	}
	result, err := h.service.Reject(r.Context(), quoteID, PrincipalFromContext(r.Context()), role, body.Comments)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	var body withdrawRequest
	if !h.decode(w, r, &body, true) {
		return
	}
	req, err := h.service.Withdraw(r.Context(), quoteID, PrincipalFromContext(r.Context()), body.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, req)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	quoteID, ok := h.quoteID(w, r)
	if !ok {
		return
	}
	actions, err := h.service.History(r.Context(), quoteID, PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if actions == nil {
		actions = []ApprovalAction{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"quote_id": quoteID, "actions": actions})
}

func (h *Handler) pending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.PendingForUser(r.Context(), PrincipalFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": rows, "count": len(rows)})
}

func (h *Handler) requirement(w http.ResponseWriter, r *http.Request) {
	value, err := ParseMoney(r.URL.Query().Get("value"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	req, desc, err := h.service.Requirement(r.Context(), value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, requirementResponse{
		Value:             value,
		Level:             req.Level,
		RequiredApprovers: req.RequiredApprovers,
		Description:       desc,
	})
}

func (h *Handler) quoteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid quote id")
		return 0, false
	}
	return id, true
}

func (h *Handler) role(w http.ResponseWriter, raw string) (RoleName, bool) {
	role, ok := ParseRole(raw)
	if !ok {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role "+strconv.Quote(raw))
		return "", false
	}
	return role, true
}

// decode reads and validates a JSON body. Optional bodies may be empty.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	if r.Body != nil && r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, dst); err != nil && !(optional && errors.Is(err, io.EOF)) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed JSON body")
			return false
		}
	} else if !optional {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "request body required")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(fields, "; "))
			return false
		}
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnauthenticated):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAlreadyResolved):
		httpx.Problem(w, http.StatusConflict, "Already Resolved", err.Error())
	case errors.Is(err, ErrDuplicateApprover):
		httpx.Problem(w, http.StatusConflict, "Duplicate Approver", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "approval request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
