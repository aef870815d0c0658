package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/authkit/credential-session-service/internal/http/middleware"
	"github.com/authkit/credential-session-service/internal/http/response"
	"github.com/authkit/credential-session-service/internal/repository"
	"github.com/authkit/credential-session-service/internal/security"
	"github.com/authkit/credential-session-service/internal/service"
)

type AuthHandler struct {
	auth          *service.AuthService
	secureCookies bool
}

func NewAuthHandler(auth *service.AuthService, secureCookies bool) *AuthHandler {
	return &AuthHandler{auth: auth, secureCookies: secureCookies}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if msg := validateRegistration(req); msg != "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, msg, nil)
		return
	}

	user, err := h.auth.Register(r.Context(), service.RegisterInput{
		Username: strings.TrimSpace(req.Username),
		Email:    normalizeEmail(req.Email),
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"id":       user.ID,
		"username": user.Username,
		"email":    user.Email,
		"message":  "verification code sent",
	})
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	DeviceName string `json:"device_name,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Identifier == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "identifier and password are required", nil)
		return
	}

	pair, err := h.auth.Login(r.Context(), service.LoginInput{
		Identifier: strings.TrimSpace(req.Identifier),
		Password:   req.Password,
		Device:     deviceFromRequest(r, req.DeviceName, req.DeviceType),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.setSessionCookies(w, pair)
	response.JSON(w, r, http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := security.GetCookie(r, "refresh_token")
	if token == "" {
		var req refreshRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		token = req.RefreshToken
	}
	if token == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "refresh token is required", nil)
		return
	}

	cred, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.setAccessCookie(w, cred.AccessToken, cred.AccessExpiresAt)
	response.JSON(w, r, http.StatusOK, cred)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	// An explicit token in the body wins over the session cookie so any
	// listed session can be revoked, not just the current one.
	var req refreshRequest
	if r.Body != nil && r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	token := req.RefreshToken
	if token == "" {
		token = security.GetCookie(r, "refresh_token")
	}
	if token == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "refresh token is required", nil)
		return
	}

	revoked, err := h.auth.Logout(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.clearSessionCookies(w)
	if !revoked {
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "session not found", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "logged out"})
}

func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := subjectID(w, r)
	if !ok {
		return
	}
	count, err := h.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.clearSessionCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions_revoked": count})
}

type verifyEmailRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "email and code are required", nil)
		return
	}
	if err := h.auth.VerifyEmail(r.Context(), normalizeEmail(req.Email), req.Code); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "email verified"})
}

type emailRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "email is required", nil)
		return
	}
	if err := h.auth.ResendVerification(r.Context(), normalizeEmail(req.Email), requestIP(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	// The body never reveals whether the email maps to an account.
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "if the account exists, a code has been sent"})
}

func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "email is required", nil)
		return
	}
	if err := h.auth.RequestPasswordReset(r.Context(), normalizeEmail(req.Email), requestIP(r)); err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"message": "if the account exists, a code has been sent"})
}

type resetPasswordRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "email and code are required", nil)
		return
	}
	if msg := validatePassword(req.NewPassword); msg != "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, msg, nil)
		return
	}

	revoked, err := h.auth.ResetPassword(r.Context(), normalizeEmail(req.Email), req.Code, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message":          "password reset",
		"sessions_revoked": revoked,
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := subjectID(w, r)
	if !ok {
		return
	}
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OldPassword == "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, "old password is required", nil)
		return
	}
	if msg := validatePassword(req.NewPassword); msg != "" {
		response.Error(w, r, http.StatusBadRequest, response.CodeValidation, msg, nil)
		return
	}

	revoked, err := h.auth.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.clearSessionCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"message":          "password changed",
		"sessions_revoked": revoked,
	})
}

func (h *AuthHandler) setSessionCookies(w http.ResponseWriter, pair *service.TokenPair) {
	h.setAccessCookie(w, pair.AccessToken, pair.AccessExpiresAt)
	http.SetCookie(w, &http.Cookie{
		Name:     "refresh_token",
		Value:    pair.RefreshToken,
		Path:     "/api/v1/auth",
		Expires:  pair.RefreshExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
	// Double-submit token, readable by the frontend.
	http.SetCookie(w, &http.Cookie{
		Name:     "csrf_token",
		Value:    security.NewCSRFToken(),
		Path:     "/",
		Expires:  pair.RefreshExpiresAt,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) setAccessCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []http.Cookie{
		{Name: "access_token", Path: "/"},
		{Name: "refresh_token", Path: "/api/v1/auth"},
		{Name: "csrf_token", Path: "/"},
	} {
		c.MaxAge = -1
		c.HttpOnly = c.Name != "csrf_token"
		c.Secure = h.secureCookies
		http.SetCookie(w, &c)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "invalid request body", nil)
		return false
	}
	return true
}

func subjectID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing auth context", nil)
		return 0, false
	}
	id, err := claims.UserID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid auth context", nil)
		return 0, false
	}
	return id, true
}

func deviceFromRequest(r *http.Request, name, deviceType string) service.DeviceInfo {
	if deviceType == "" {
		deviceType = "web"
	}
	return service.DeviceInfo{
		Name:      name,
		Type:      deviceType,
		IPAddress: requestIP(r),
		UserAgent: r.UserAgent(),
	}
}

func requestIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateRegistration(req registerRequest) string {
	username := strings.TrimSpace(req.Username)
	if len(username) < 3 || len(username) > 50 {
		return "username must be between 3 and 50 characters"
	}
	if !strings.Contains(req.Email, "@") {
		return "a valid email is required"
	}
	return validatePassword(req.Password)
}

func validatePassword(password string) string {
	if len(password) < 8 {
		return "password must be at least 8 characters"
	}
	if len(password) > 128 {
		return "password must be at most 128 characters"
	}
	return ""
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var locked *service.AccountLockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", fmt.Sprintf("%d", locked.RemainingSeconds))
		response.Error(w, r, http.StatusLocked, response.CodeAccountLocked, "account temporarily locked", map[string]int{
			"retry_after_seconds": locked.RemainingSeconds,
		})
		return
	}
	var throttled *service.ThrottledError
	if errors.As(err, &throttled) {
		seconds := int(throttled.RetryAfter.Round(time.Second).Seconds())
		if seconds <= 0 {
			seconds = 1
		}
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", map[string]int{
			"retry_after_seconds": seconds,
		})
		return
	}
	var dup *service.DuplicateIdentityError
	if errors.As(err, &dup) {
		response.Error(w, r, http.StatusConflict, response.CodeConflict, dup.Error(), map[string]string{"field": dup.Field})
		return
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid credentials", nil)
	case errors.Is(err, service.ErrInvalidOrExpiredToken):
		response.Error(w, r, http.StatusUnauthorized, response.CodeInvalidToken, "invalid or expired token", nil)
	case errors.Is(err, service.ErrAttemptsExhausted):
		response.Error(w, r, http.StatusTooManyRequests, response.CodeTooManyAttempts, "verification attempts exhausted", nil)
	case errors.Is(err, service.ErrAlreadyVerified):
		response.Error(w, r, http.StatusBadRequest, response.CodeBadRequest, "email already verified", nil)
	case errors.Is(err, repository.ErrUserNotFound):
		response.Error(w, r, http.StatusNotFound, response.CodeNotFound, "user not found", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, response.CodeInternal, "internal error", nil)
	}
}
