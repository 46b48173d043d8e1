package approval

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/quote-approvals/internal/platform/httpx"
)

const decisionRateLimit = 30
const decisionRateWindow = time.Minute

// MountRoutes registers quote approval endpoints. Callers are expected to
// have applied authentication middleware.
func (h *Handler) MountRoutes(r chi.Router) {
	limiter := httprate.Limit(decisionRateLimit, decisionRateWindow,
		httprate.WithKeyFuncs(decisionRateKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "decision rate limit exceeded")
		}),
	)

	r.Route("/quotes/{id}", func(r chi.Router) {
		r.Get("/approvals", h.history)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/submit", h.submit)
			gr.Post("/approve", h.approve)
			gr.Post("/reject", h.reject)
			gr.Post("/withdraw", h.withdraw)
		})
	})
	r.Get("/approvals/pending", h.pending)
	r.Get("/approvals/requirement", h.requirement)
}

func decisionRateKey(r *http.Request) (string, error) {
	if p := PrincipalFromContext(r.Context()); p != nil && p.UserID != 0 {
		return "user:" + strconv.FormatInt(p.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
