package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/authkit/credential-session-service/internal/health"
	"github.com/authkit/credential-session-service/internal/security"
)

type unhealthyChecker struct{}

func (unhealthyChecker) Check(context.Context) health.CheckResult {
	return health.CheckResult{Name: "database", Healthy: false, Error: "connection refused"}
}

func newRouterTestDeps() Dependencies {
	return Dependencies{
		JWTManager:                 security.NewJWTManager("iss", "aud", "abcdefghijklmnopqrstuvwxyz123456"),
		CORSOrigins:                []string{"http://localhost"},
		APIRateLimitRPM:            1000,
		AuthRateLimitRPM:           1000,
		PasswordForgotRateLimitRPM: 1000,
	}
}

func perform(r http.Handler, method, target string, headers map[string]string, cookies []*http.Cookie, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "10.10.10.10:1234"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHealthLive(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var env struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || !env.Success {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestHealthReadyReportsUnhealthyDependency(t *testing.T) {
	deps := newRouterTestDeps()
	deps.Readiness = health.NewProbeRunner(time.Second, 0)
	deps.Readiness.Register(unhealthyChecker{})
	r := NewRouter(deps)

	rr := perform(r, http.MethodGet, "/health/ready", nil, nil, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	for _, target := range []string{"/api/v1/me", "/api/v1/me/sessions", "/api/v1/admin/users"} {
		rr := perform(r, http.MethodGet, target, nil, nil, "")
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without token, got %d", target, rr.Code)
		}
	}
}

func TestAdminRoutesRequireSuperuser(t *testing.T) {
	deps := newRouterTestDeps()
	r := NewRouter(deps)
	token, _, err := deps.JWTManager.SignAccessToken(42, "alice", false, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	rr := perform(r, http.MethodGet, "/api/v1/admin/users", map[string]string{"Authorization": "Bearer " + token}, nil, "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-superuser, got %d", rr.Code)
	}
}

func TestRefreshRequiresCSRFToken(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodPost, "/api/v1/auth/refresh", nil, nil, `{"refresh_token":"x"}`)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf cookie, got %d", rr.Code)
	}
}

func TestSecurityHeadersPresent(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodGet, "/health/live", nil, nil, "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing X-Content-Type-Options header")
	}
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("missing X-Frame-Options header")
	}
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	r := NewRouter(newRouterTestDeps())
	rr := perform(r, http.MethodGet, "/health/live", map[string]string{"Origin": "http://localhost"}, nil, "")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost" {
		t.Fatalf("allow-origin = %q, want http://localhost", got)
	}

	rr = perform(r, http.MethodGet, "/health/live", map[string]string{"Origin": "http://evil.example"}, nil, "")
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q for unknown origin", got)
	}
}
