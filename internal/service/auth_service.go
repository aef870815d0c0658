package service

import (
	"context"
	"errors"
	"time"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/notify"
	"github.com/authkit/credential-session-service/internal/observability"
	"github.com/authkit/credential-session-service/internal/repository"
	"github.com/authkit/credential-session-service/internal/security"
)

type RegisterInput struct {
	Username string
	Password string
	Email    string
}

type LoginInput struct {
	Identifier string
	Password   string
	Device     DeviceInfo
}

type AuthServiceOptions struct {
	CodeTTL         time.Duration
	CodeDigits      int
	CodeMaxAttempts int
}

func (o AuthServiceOptions) normalized() AuthServiceOptions {
	if o.CodeTTL <= 0 {
		o.CodeTTL = time.Hour
	}
	if o.CodeDigits <= 0 {
		o.CodeDigits = 6
	}
	if o.CodeMaxAttempts <= 0 {
		o.CodeMaxAttempts = domain.DefaultCodeMaxAttempts
	}
	return o
}

// AuthService orchestrates credential verification, the lockout policy, the
// refresh-token ledger and the verification-code ledger. All collaborators
// are injected at construction; there are no package-level instances.
type AuthService struct {
	users         repository.UserRepository
	codes         repository.VerificationCodeRepository
	tokens        *TokenService
	notifications *notify.Dispatcher
	abuseGuard    AuthAbuseGuard
	opts          AuthServiceOptions
}

func NewAuthService(
	users repository.UserRepository,
	codes repository.VerificationCodeRepository,
	tokens *TokenService,
	notifications *notify.Dispatcher,
	abuseGuard AuthAbuseGuard,
	opts AuthServiceOptions,
) *AuthService {
	if abuseGuard == nil {
		abuseGuard = NewNoopAuthAbuseGuard()
	}
	return &AuthService{
		users:         users,
		codes:         codes,
		tokens:        tokens,
		notifications: notifications,
		abuseGuard:    abuseGuard,
		opts:          opts.normalized(),
	}
}

// Register creates an unverified account and sends the first verification
// code. Colliding identities are reported with the field that collided.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	if _, err := s.users.FindByUsername(ctx, in.Username); err == nil {
		return nil, &DuplicateIdentityError{Field: "username"}
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	if _, err := s.users.FindByEmail(ctx, in.Email); err == nil {
		return nil, &DuplicateIdentityError{Field: "email"}
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	hash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		Username:       in.Username,
		Email:          in.Email,
		HashedPassword: hash,
		IsActive:       true,
		IsVerified:     false,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	observability.AuditEvent(ctx, "auth.register", "user_id", user.ID)

	if err := s.sendVerificationCode(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login runs the per-attempt state machine: resolve, status checks, lockout
// check, password check, then issuance. Every rejection before the password
// check deliberately looks like bad credentials to the caller.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	user, err := s.resolveIdentifier(ctx, in.Identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordAuthLogin("unknown_identifier")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive || !user.IsVerified {
		observability.RecordAuthLogin("account_unusable")
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	if user.IsLoginLocked(now) {
		observability.RecordAuthLogin("locked")
		return nil, &AccountLockedError{RemainingSeconds: user.RemainingLockSeconds(now)}
	}

	if !security.VerifyPassword(in.Password, user.HashedPassword) {
		user.RegisterFailedLogin(now)
		if err := s.users.Update(ctx, user); err != nil {
			return nil, err
		}
		// Advisory; a guard outage must not block the login path.
		if _, gerr := s.abuseGuard.RegisterFailure(ctx, AuthAbuseScopeLogin, in.Identifier, in.Device.IPAddress); gerr != nil {
			observability.AuditEvent(ctx, "auth.abuse_guard_error", "scope", "login", "error", gerr.Error())
		}
		observability.RecordAuthLogin("bad_password")
		if user.IsLoginLocked(now) {
			return nil, &AccountLockedError{RemainingSeconds: user.RemainingLockSeconds(now)}
		}
		return nil, ErrInvalidCredentials
	}

	user.RegisterSuccessfulLogin(now)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	if gerr := s.abuseGuard.Reset(ctx, AuthAbuseScopeLogin, in.Identifier, in.Device.IPAddress); gerr != nil {
		observability.AuditEvent(ctx, "auth.abuse_guard_error", "scope", "login", "error", gerr.Error())
	}

	pair, err := s.tokens.Issue(ctx, user, in.Device)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthLogin("success")
	observability.AuditEvent(ctx, "auth.login", "user_id", user.ID, "device_type", in.Device.Type)
	return pair, nil
}

// Refresh exchanges a live refresh token for a fresh access credential.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*AccessCredential, error) {
	cred, err := s.tokens.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrInvalidOrExpiredToken) {
			observability.RecordAuthRefresh("invalid")
		}
		return nil, err
	}
	observability.RecordAuthRefresh("success")
	return cred, nil
}

// Logout revokes the named refresh token. An unknown token is reported as
// not found, never as a failure.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) (bool, error) {
	revoked, err := s.tokens.Revoke(ctx, refreshToken)
	if err != nil {
		observability.RecordAuthLogout("error")
		return false, err
	}
	if revoked {
		observability.RecordAuthLogout("success")
	} else {
		observability.RecordAuthLogout("not_found")
	}
	return revoked, nil
}

// LogoutAll revokes every live session of the user and reports the count.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint) (int64, error) {
	count, err := s.tokens.RevokeAll(ctx, userID)
	if err != nil {
		observability.RecordAuthLogout("error")
		return 0, err
	}
	observability.RecordAuthLogout("success")
	observability.AuditEvent(ctx, "auth.logout_all", "user_id", userID, "revoked", count)
	return count, nil
}

// VerifyEmail consumes an email-verification code and flips the account to
// verified. A welcome notification goes out on success.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return err
	}
	if err := s.consumeCode(ctx, user.ID, code, domain.PurposeEmailVerification); err != nil {
		return err
	}
	user.IsVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return err
	}
	observability.AuditEvent(ctx, "auth.email_verified", "user_id", user.ID)
	s.notifications.Dispatch("Welcome!", user.Email, "welcome", map[string]string{
		"username": user.Username,
	})
	return nil
}

// ResendVerification issues a new code for an unverified account. The reply
// is identical whether or not the email maps to an account.
func (s *AuthService) ResendVerification(ctx context.Context, email, ip string) error {
	if cooldown, err := s.throttle(ctx, AuthAbuseScopeResend, email, ip); err != nil {
		return err
	} else if cooldown > 0 {
		return &ThrottledError{RetryAfter: cooldown}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	return s.sendVerificationCode(ctx, user)
}

// RequestPasswordReset issues a reset code. The reply is identical whether
// or not the email maps to an account.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, ip string) error {
	if cooldown, err := s.throttle(ctx, AuthAbuseScopeForgot, email, ip); err != nil {
		return err
	} else if cooldown > 0 {
		return &ThrottledError{RetryAfter: cooldown}
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}

	code, err := s.issueCode(ctx, user.ID, domain.PurposePasswordReset)
	if err != nil {
		return err
	}
	observability.AuditEvent(ctx, "auth.password_reset_requested", "user_id", user.ID)
	s.notifications.Dispatch("Password Reset", user.Email, "password_reset", map[string]string{
		"username": user.Username,
		"code":     code.Code,
	})
	return nil
}

// ResetPassword consumes a reset code, installs the new password and revokes
// every refresh token of the user. Forcing re-authentication on all devices
// is a security invariant, not a side effect.
func (s *AuthService) ResetPassword(ctx context.Context, email, code, newPassword string) (int64, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			observability.RecordPasswordReset("invalid")
			return 0, ErrInvalidOrExpiredToken
		}
		return 0, err
	}
	if err := s.consumeCode(ctx, user.ID, code, domain.PurposePasswordReset); err != nil {
		observability.RecordPasswordReset("invalid")
		return 0, err
	}
	return s.installPassword(ctx, user, newPassword, "auth.password_reset")
}

// ChangePassword verifies the old password, installs the new one and revokes
// every refresh token of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID uint, oldPassword, newPassword string) (int64, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !security.VerifyPassword(oldPassword, user.HashedPassword) {
		return 0, ErrInvalidCredentials
	}
	return s.installPassword(ctx, user, newPassword, "auth.password_changed")
}

// ListDevices reports the user's live sessions.
func (s *AuthService) ListDevices(ctx context.Context, userID uint) ([]domain.RefreshToken, error) {
	return s.tokens.ListActive(ctx, userID)
}

func (s *AuthService) installPassword(ctx context.Context, user *domain.User, newPassword, event string) (int64, error) {
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return 0, err
	}
	user.HashedPassword = hash
	if err := s.users.Update(ctx, user); err != nil {
		return 0, err
	}
	revoked, err := s.tokens.RevokeAll(ctx, user.ID)
	if err != nil {
		return 0, err
	}
	observability.RecordPasswordReset("success")
	observability.AuditEvent(ctx, event, "user_id", user.ID, "sessions_revoked", revoked)
	return revoked, nil
}

func (s *AuthService) resolveIdentifier(ctx context.Context, identifier string) (*domain.User, error) {
	user, err := s.users.FindByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}
	return s.users.FindByEmail(ctx, identifier)
}

func (s *AuthService) sendVerificationCode(ctx context.Context, user *domain.User) error {
	code, err := s.issueCode(ctx, user.ID, domain.PurposeEmailVerification)
	if err != nil {
		return err
	}
	s.notifications.Dispatch("Email Verification", user.Email, "verification", map[string]string{
		"username": user.Username,
		"code":     code.Code,
	})
	return nil
}

func (s *AuthService) issueCode(ctx context.Context, userID uint, purpose domain.CodePurpose) (*domain.VerificationCode, error) {
	raw, err := security.NewVerificationCode(s.opts.CodeDigits)
	if err != nil {
		return nil, err
	}
	code := &domain.VerificationCode{
		UserID:      userID,
		Code:        raw,
		Purpose:     purpose,
		ExpiresAt:   time.Now().Add(s.opts.CodeTTL),
		MaxAttempts: s.opts.CodeMaxAttempts,
	}
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, err
	}
	return code, nil
}

// consumeCode resolves the most recent outstanding code for the pair and
// charges every failed attempt against its budget. The brute-force throttle
// is the point: an expired or mismatched submission still costs an attempt.
func (s *AuthService) consumeCode(ctx context.Context, userID uint, submitted string, purpose domain.CodePurpose) error {
	candidate, err := s.codes.FindLatestOutstanding(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, repository.ErrVerificationCodeNotFound) {
			observability.RecordVerificationCheck(string(purpose), "no_candidate")
			return ErrInvalidOrExpiredToken
		}
		return err
	}

	now := time.Now().UTC()
	if candidate.AttemptsExhausted() {
		observability.RecordVerificationCheck(string(purpose), "exhausted")
		return ErrAttemptsExhausted
	}
	if !candidate.Valid(now) || candidate.Code != submitted {
		candidate.Attempts++
		if err := s.codes.Update(ctx, candidate); err != nil {
			return err
		}
		observability.RecordVerificationCheck(string(purpose), "invalid")
		return ErrInvalidOrExpiredToken
	}

	candidate.MarkUsed(now)
	if err := s.codes.Update(ctx, candidate); err != nil {
		return err
	}
	observability.RecordVerificationCheck(string(purpose), "success")
	return nil
}

func (s *AuthService) throttle(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	cooldown, err := s.abuseGuard.Check(ctx, scope, identity, ip)
	if err != nil {
		// Advisory: guard outages log and fail open.
		observability.AuditEvent(ctx, "auth.abuse_guard_error", "scope", string(scope), "error", err.Error())
		return 0, nil
	}
	if cooldown == 0 {
		if _, err := s.abuseGuard.RegisterFailure(ctx, scope, identity, ip); err != nil {
			observability.AuditEvent(ctx, "auth.abuse_guard_error", "scope", string(scope), "error", err.Error())
		}
	}
	return cooldown, nil
}
