package approval

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, f *approvalFixture, p *Principal) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if p != nil {
				req = req.WithContext(ContextWithPrincipal(req.Context(), p))
			}
			next.ServeHTTP(w, req)
		})
	})
	NewHandler(nil, f.svc).MountRoutes(r)
	return r
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHandlerSubmitAndApprove(t *testing.T) {
	f := newApprovalFixture(t)
	f.repo.addQuote(1, Units(75000), 10)

	csr := newTestRouter(t, f, principal(10, "CSR"))
	rr := doJSON(t, csr, http.MethodPost, "/quotes/1/submit", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	var submitted SubmitResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &submitted))
	require.False(t, submitted.AutoApproved)
	require.Equal(t, RoleDirector, submitted.Request.ApprovalLevel)

	rr = doJSON(t, csr, http.MethodPost, "/quotes/1/submit", `{"comments":"again"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	director := newTestRouter(t, f, principal(20, "DIRECTOR"))
	rr = doJSON(t, director, http.MethodPost, "/quotes/1/approve", `{"role":"director","comments":"ok"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	var approved struct {
		BecameFinal bool `json:"became_final"`
		Request     struct {
			Status string `json:"status"`
		} `json:"request"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &approved))
	require.True(t, approved.BecameFinal)
	require.Equal(t, "APPROVED", approved.Request.Status)

	rr = doJSON(t, director, http.MethodPost, "/quotes/1/approve", `{"role":"DIRECTOR"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, director, http.MethodGet, "/quotes/1/approvals", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"action":"APPROVED"`)
}

func TestHandlerErrorMapping(t *testing.T) {
	f := newApprovalFixture(t)
	f.repo.addQuote(2, Units(75000), 10)
	_, err := f.svc.Submit(t.Context(), 2, principal(10, "CSR"), "")
	require.NoError(t, err)

	anon := newTestRouter(t, f, nil)
	rr := doJSON(t, anon, http.MethodPost, "/quotes/2/submit", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Contains(t, rr.Body.String(), `"status":401`)

	manager := newTestRouter(t, f, principal(50, "MANAGER"))
	rr = doJSON(t, manager, http.MethodPost, "/quotes/2/approve", `{"role":"MANAGER"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = doJSON(t, manager, http.MethodPost, "/quotes/999/approve", `{"role":"MANAGER"}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = doJSON(t, manager, http.MethodPost, "/quotes/abc/approve", `{"role":"MANAGER"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, manager, http.MethodPost, "/quotes/2/approve", `{"role":"intern"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = doJSON(t, manager, http.MethodPost, "/quotes/2/approve", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	vp := newTestRouter(t, f, principal(40, "VP"))
	rr = doJSON(t, vp, http.MethodPost, "/quotes/2/reject", `{"role":"VP"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, vp, http.MethodPost, "/quotes/2/reject", `{"role":"VP","comments":"  "}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, vp, http.MethodPost, "/quotes/2/reject", `{"role":"VP","comments":"margin too low"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doJSON(t, vp, http.MethodPost, "/quotes/2/approve", `{"role":"VP"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandlerRequirement(t *testing.T) {
	f := newApprovalFixture(t)
	h := newTestRouter(t, f, principal(10, "CSR"))

	rr := doJSON(t, h, http.MethodGet, "/approvals/requirement?value=600000", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body requirementResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, RolePresident, body.Level)
	require.Equal(t, 2, body.RequiredApprovers)
	require.Equal(t, "600,000.00 requires PRESIDENT approval (2 approvers)", body.Description)

	rr = doJSON(t, h, http.MethodGet, "/approvals/requirement?value=-4", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, h, http.MethodGet, "/approvals/requirement?value=abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	rr = doJSON(t, h, http.MethodGet, "/approvals/requirement?value=12.%2B5", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlerPending(t *testing.T) {
	src := &stubPending{rows: []PendingApprovalSummary{
		{RequestID: 7, QuoteID: 3, QuoteNumber: "Q-00003", ApprovalLevel: RoleDirector, TotalValue: Units(75000), RequiredApprovers: 1},
	}}
	f := newApprovalFixture(t)
	f.svc = NewService(f.repo, StaticLimits{Table: defaultTable()}, src, nil, nil, nil, Options{})
	h := newTestRouter(t, f, principal(20, "DIRECTOR"))

	rr := doJSON(t, h, http.MethodGet, "/approvals/pending", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var body struct {
		Count int                      `json:"count"`
		Items []PendingApprovalSummary `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	require.Equal(t, "Q-00003", body.Items[0].QuoteNumber)
	require.Equal(t, Units(75000), body.Items[0].TotalValue)
}
