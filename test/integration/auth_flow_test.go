package integration

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/authkit/credential-session-service/internal/domain"
)

func TestFullCredentialLifecycle(t *testing.T) {
	ts, closeFn := newAuthTestServer(t)
	defer closeFn()

	const (
		username = "lifecycle"
		email    = "lifecycle@example.com"
		password = "Valid#Pass1234"
	)

	// Login before verification must be rejected.
	resp, env := doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	resp, _ = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/login", map[string]string{
		"identifier": username,
		"password":   password,
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unverified login: expected 401, got %d", resp.StatusCode)
	}

	code := latestCode(t, ts.db, email, domain.PurposeEmailVerification)
	resp, env = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/verify-email", map[string]string{
		"email": email,
		"code":  code,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("verify failed: status=%d success=%v", resp.StatusCode, env.Success)
	}

	login(t, ts, username, password)

	// The session cookies from login carry the profile request.
	resp, env = doJSON(t, ts.client, http.MethodGet, ts.baseURL+"/api/v1/me", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("me failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var profile struct {
		Username   string `json:"username"`
		IsVerified bool   `json:"is_verified"`
	}
	if err := json.Unmarshal(env.Data, &profile); err != nil {
		t.Fatalf("decode profile: %v", err)
	}
	if profile.Username != username || !profile.IsVerified {
		t.Fatalf("unexpected profile: %+v", profile)
	}

	// Refresh needs the double-submit token alongside the cookies.
	csrf := cookieValue(t, ts.client, ts.baseURL, "csrf_token")
	if csrf == "" {
		t.Fatal("login did not set a csrf cookie")
	}
	resp, _ = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/refresh", map[string]string{}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("refresh without csrf header: expected 403, got %d", resp.StatusCode)
	}
	resp, env = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/refresh", map[string]string{},
		map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("refresh failed: status=%d success=%v", resp.StatusCode, env.Success)
	}

	resp, env = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/logout", map[string]string{},
		map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("logout failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
}

func TestPasswordResetFlowRevokesSessions(t *testing.T) {
	ts, closeFn := newAuthTestServer(t)
	defer closeFn()

	const (
		username = "resetter"
		email    = "resetter@example.com"
		password = "Valid#Pass1234"
		newPass  = "Changed#Pass5678"
	)
	registerAndVerify(t, ts, username, email, password)
	login(t, ts, username, password)
	csrf := cookieValue(t, ts.client, ts.baseURL, "csrf_token")

	resp, env := doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/password/forgot", map[string]string{
		"email": email,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("forgot failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	// Unknown emails get the same answer.
	resp, env = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/password/forgot", map[string]string{
		"email": "ghost@example.com",
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("forgot for unknown email: status=%d success=%v", resp.StatusCode, env.Success)
	}

	code := latestCode(t, ts.db, email, domain.PurposePasswordReset)
	resp, env = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/password/reset", map[string]string{
		"email":        email,
		"code":         code,
		"new_password": newPass,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("reset failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	var data struct {
		SessionsRevoked int64 `json:"sessions_revoked"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode reset data: %v", err)
	}
	if data.SessionsRevoked != 1 {
		t.Fatalf("sessions_revoked = %d, want 1", data.SessionsRevoked)
	}

	// The refresh token minted before the reset is dead.
	resp, _ = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/refresh", map[string]string{},
		map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("refresh after reset: expected 401, got %d", resp.StatusCode)
	}

	login(t, ts, username, newPass)
}

func TestLoginLockoutOverHTTP(t *testing.T) {
	ts, closeFn := newAuthTestServer(t)
	defer closeFn()

	const (
		username = "locked"
		email    = "locked@example.com"
		password = "Valid#Pass1234"
	)
	registerAndVerify(t, ts, username, email, password)

	for i := 0; i < 9; i++ {
		resp, _ := doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/login", map[string]string{
			"identifier": username,
			"password":   "wrong-password",
		}, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("failure %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}

	resp, env := doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/login", map[string]string{
		"identifier": username,
		"password":   "wrong-password",
	}, nil)
	if resp.StatusCode != http.StatusLocked {
		t.Fatalf("10th failure: expected 423, got %d", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "ACCOUNT_LOCKED" {
		t.Fatalf("expected ACCOUNT_LOCKED error, got %+v", env.Error)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header on lockout")
	}
}
