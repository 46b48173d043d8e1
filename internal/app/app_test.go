package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
	"github.com/odyssey-erp/quote-approvals/internal/identity"
	"github.com/odyssey-erp/quote-approvals/internal/observability"
	_ "github.com/odyssey-erp/quote-approvals/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, approval.Units(500000), cfg.Threshold())
	require.Equal(t, 5*time.Minute, cfg.LimitsCacheTTL)
	require.Equal(t, 5, cfg.PendingRecentActions)
	require.Equal(t, "*/30 * * * *", cfg.LedgerCheckCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("APP_ENV", "production")
	t.Setenv("DUAL_CONTROL_THRESHOLD", "250,000.50")
	t.Setenv("EXPORT_WEBHOOK_URL", "http://orders.internal/hooks/quotes")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())
	require.Equal(t, approval.Money(25000050), cfg.Threshold())
	require.Equal(t, "http://orders.internal/hooks/quotes", cfg.ExportWebhookURL)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	for _, raw := range []string{"lots", "+-1", "1,2,3"} {
		t.Setenv("DUAL_CONTROL_THRESHOLD", raw)
		_, err := LoadConfig()
		require.Error(t, err, raw)
		require.True(t, errors.Is(err, approval.ErrValidation), raw)
	}
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&Config{LogFormat: "json", AppEnv: "staging"}, &buf).Info("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "hello", line["msg"])
	require.Equal(t, "quote-approvals", line["service"])
	require.Equal(t, "staging", line["env"])

	buf.Reset()
	newLogger(nil, &buf).Info("plain")
	require.Contains(t, buf.String(), "msg=plain")
}

type stubPrincipals struct{}

func (stubPrincipals) Principal(ctx context.Context, userID int64) (*approval.Principal, error) {
	return nil, identity.ErrUserNotFound
}

func newTestRouter(t *testing.T, ready map[string]ReadinessCheck) http.Handler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sessions := identity.NewSessionManager(client, "test_session", time.Hour, false)
	csrf := identity.NewCSRFManager("secret")
	return NewRouter(RouterParams{
		Config:          &Config{AppEnv: "development"},
		SessionManager:  sessions,
		CSRFManager:     csrf,
		Principals:      stubPrincipals{},
		AuthHandler:     identity.NewHandler(nil, nil, sessions, csrf),
		ApprovalHandler: approval.NewHandler(nil, nil),
		Metrics:         observability.NewMetrics(),
		Readiness:       ready,
	})
}

func TestRouterHealthAndHeaders(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.NotEmpty(t, rr.Header().Get("Content-Security-Policy"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `approvals_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestRouterRequiresAuthForApprovals(t *testing.T) {
	router := newTestRouter(t, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/approvals/pending", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/quotes/1/submit", nil))
	require.Equal(t, http.StatusForbidden, rr.Code, "unsafe requests without a csrf token are rejected first")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/unknown", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRouterReadiness(t *testing.T) {
	router := newTestRouter(t, map[string]ReadinessCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "ok", body["postgres"])
	require.Equal(t, "connection refused", body["redis"])
}

func TestTestModeEnabledUnderTests(t *testing.T) {
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	require.True(t, SkipStartup("server"))
}
