package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ai-radar/internal/auth"
	"github.com/example/ai-radar/internal/coordinator"
	"github.com/example/ai-radar/internal/mirror"
	"github.com/example/ai-radar/internal/pipeline"
	"github.com/example/ai-radar/internal/repository"
	"github.com/example/ai-radar/internal/status"
)

const testJWTSecret = "test-secret"

type stubController struct {
	record     status.Record
	state      pipeline.State
	grant      bool
	runErr     error
	consentErr error
	tapErr     error
	metrics    *coordinator.MetricsSummary
	metricsErr error
	runs       map[string]*repository.RunLog
	revoked    int
	tokens     []string
}

func (s *stubController) Status() status.Record         { return s.record }
func (s *stubController) State() pipeline.State         { return s.state }
func (s *stubController) HasGrant() bool                { return s.grant }
func (s *stubController) Tap(ctx context.Context) error { return s.tapErr }
func (s *stubController) Revoke()                       { s.revoked++ }
func (s *stubController) RunNow(ctx context.Context) error {
	return s.runErr
}

func (s *stubController) GrantConsent(ctx context.Context, token string) error {
	s.tokens = append(s.tokens, token)
	return s.consentErr
}

func (s *stubController) MetricsSummary(ctx context.Context) (*coordinator.MetricsSummary, error) {
	return s.metrics, s.metricsErr
}

func (s *stubController) FindRun(ctx context.Context, requestID string) (*repository.RunLog, error) {
	if s.runs == nil {
		return nil, coordinator.ErrJournalDisabled
	}
	log, ok := s.runs[requestID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return log, nil
}

func newTestRouter(ctrl Controller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	RegisterRoutes(router, ctrl, auth.JWTMiddleware(testJWTSecret, ""))
	return router
}

func do(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "operator"))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthNeedsNoToken(t *testing.T) {
	router := newTestRouter(&stubController{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/v1/status", nil))
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}
}

func TestStatusReportsRecordAndState(t *testing.T) {
	ctrl := &stubController{
		record: status.Record{Title: "Analiz Tamamlandı", Body: "Yapaylık Skoru: %87", Version: 4},
		state:  pipeline.Idle,
		grant:  true,
	}
	resp := do(t, newTestRouter(ctrl), http.MethodGet, "/v1/status", "")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, resp.Code)
	}

	var got StatusResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Body != "Yapaylık Skoru: %87" || got.Version != 4 || got.State != "idle" || !got.Grant {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestRunsErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{nil, http.StatusAccepted},
		{pipeline.ErrGrantMissing, http.StatusPreconditionFailed},
		{pipeline.ErrBusy, http.StatusConflict},
		{pipeline.ErrStopped, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		resp := do(t, newTestRouter(&stubController{runErr: tc.err}), http.MethodPost, "/v1/runs", "")
		if resp.Code != tc.code {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.code, resp.Code)
		}
	}
}

func TestConsentLifecycle(t *testing.T) {
	ctrl := &stubController{}
	router := newTestRouter(ctrl)

	if resp := do(t, router, http.MethodPost, "/v1/consent", `{}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, resp.Code)
	}
	if resp := do(t, router, http.MethodPost, "/v1/consent", `{"token":"abc"}`); resp.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, resp.Code)
	}
	if len(ctrl.tokens) != 1 || ctrl.tokens[0] != "abc" {
		t.Fatalf("unexpected tokens %v", ctrl.tokens)
	}

	ctrl.consentErr = mirror.ErrGrantHeld
	if resp := do(t, router, http.MethodPost, "/v1/consent", `{"token":"def"}`); resp.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d", http.StatusConflict, resp.Code)
	}
	ctrl.consentErr = mirror.ErrInvalidConsent
	if resp := do(t, router, http.MethodPost, "/v1/consent", `{"token":"ghi"}`); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, resp.Code)
	}

	if resp := do(t, router, http.MethodDelete, "/v1/consent", ""); resp.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, resp.Code)
	}
	if ctrl.revoked != 1 {
		t.Fatalf("expected one revoke, got %d", ctrl.revoked)
	}
}

func TestTapWithoutHandler(t *testing.T) {
	resp := do(t, newTestRouter(&stubController{tapErr: status.ErrNoTapHandler}), http.MethodPost, "/v1/status/tap", "")
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
}

func TestRunLookups(t *testing.T) {
	disabled := newTestRouter(&stubController{metricsErr: coordinator.ErrJournalDisabled})
	if resp := do(t, disabled, http.MethodGet, "/v1/runs/metrics", ""); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}
	if resp := do(t, disabled, http.MethodGet, "/v1/runs/abc", ""); resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, resp.Code)
	}

	ctrl := &stubController{
		metrics: &coordinator.MetricsSummary{TotalRuns: 2, CompletedRuns: 1, CompletionRate: 0.5},
		runs:    map[string]*repository.RunLog{"abc": {RequestID: "abc", Result: "completed", Score: 87}},
	}
	router := newTestRouter(ctrl)

	resp := do(t, router, http.MethodGet, "/v1/runs/metrics", "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"completion_rate":0.5`) {
		t.Fatalf("unexpected metrics response %d %s", resp.Code, resp.Body.String())
	}
	resp = do(t, router, http.MethodGet, "/v1/runs/abc", "")
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), `"score":87`) {
		t.Fatalf("unexpected run response %d %s", resp.Code, resp.Body.String())
	}
	if resp := do(t, router, http.MethodGet, "/v1/runs/missing", ""); resp.Code != http.StatusNotFound {
		t.Fatalf("expected status %d, got %d", http.StatusNotFound, resp.Code)
	}
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}
