package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/http/handler"
	"github.com/authkit/credential-session-service/internal/http/router"
	"github.com/authkit/credential-session-service/internal/notify"
	"github.com/authkit/credential-session-service/internal/repository"
	"github.com/authkit/credential-session-service/internal/security"
	"github.com/authkit/credential-session-service/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	baseURL string
	client  *http.Client
	db      *gorm.DB
}

// newAuthTestServer wires the full stack against a throwaway sqlite file and
// returns a cookie-jar client, so tests exercise the real router, handlers
// and services end to end.
func newAuthTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "integration.db")
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gdb.AutoMigrate(&domain.User{}, &domain.RefreshToken{}, &domain.VerificationCode{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	jwtMgr := security.NewJWTManager("integration", "integration", "integration-test-secret-0123456789")
	userRepo := repository.NewUserRepository(gdb)
	tokenRepo := repository.NewRefreshTokenRepository(gdb)
	codeRepo := repository.NewVerificationCodeRepository(gdb)
	dispatcher := notify.NewDispatcher(notify.NewNoopNotifier(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	tokenService := service.NewTokenService(jwtMgr, tokenRepo, userRepo, "integration-pepper", 30*time.Minute, 24*time.Hour)
	authService := service.NewAuthService(userRepo, codeRepo, tokenService, dispatcher, nil, service.AuthServiceOptions{})
	userService := service.NewUserService(userRepo, tokenService)

	h := router.NewRouter(router.Dependencies{
		AuthHandler:                handler.NewAuthHandler(authService, false),
		UserHandler:                handler.NewUserHandler(userService, authService),
		AdminHandler:               handler.NewAdminHandler(userService),
		JWTManager:                 jwtMgr,
		CORSOrigins:                []string{"http://localhost"},
		APIRateLimitRPM:            10000,
		AuthRateLimitRPM:           10000,
		PasswordForgotRateLimitRPM: 10000,
	})

	server := httptest.NewServer(h)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	ts := &testServer{
		baseURL: server.URL,
		client:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		db:      gdb,
	}
	return ts, server.Close
}

func doJSON(t *testing.T, client *http.Client, method, target string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, target, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil && err != io.EOF {
		t.Fatalf("decode envelope for %s %s: %v", method, target, err)
	}
	return resp, env
}

func cookieValue(t *testing.T, client *http.Client, baseURL, name string) string {
	t.Helper()
	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// latestCode reads the newest outstanding code straight from the database,
// standing in for the email the user would have received.
func latestCode(t *testing.T, gdb *gorm.DB, email string, purpose domain.CodePurpose) string {
	t.Helper()
	var user domain.User
	if err := gdb.Where("email = ?", email).First(&user).Error; err != nil {
		t.Fatalf("find user %s: %v", email, err)
	}
	var code domain.VerificationCode
	err := gdb.Where("user_id = ? AND purpose = ? AND is_used = ?", user.ID, purpose, false).
		Order("created_at DESC, id DESC").
		First(&code).Error
	if err != nil {
		t.Fatalf("find code for %s: %v", email, err)
	}
	return code.Code
}

func registerAndVerify(t *testing.T, ts *testServer, username, email, password string) {
	t.Helper()
	resp, env := doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	}, nil)
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("register failed: status=%d success=%v", resp.StatusCode, env.Success)
	}

	code := latestCode(t, ts.db, email, domain.PurposeEmailVerification)
	resp, env = doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/verify-email", map[string]string{
		"email": email,
		"code":  code,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("verify email failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
}

func login(t *testing.T, ts *testServer, identifier, password string) envelope {
	t.Helper()
	resp, env := doJSON(t, ts.client, http.MethodPost, ts.baseURL+"/api/v1/auth/login", map[string]string{
		"identifier": identifier,
		"password":   password,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login failed: status=%d success=%v", resp.StatusCode, env.Success)
	}
	return env
}
