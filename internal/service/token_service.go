package service

import (
	"context"
	"errors"
	"time"

	"github.com/authkit/credential-session-service/internal/domain"
	"github.com/authkit/credential-session-service/internal/repository"
	"github.com/authkit/credential-session-service/internal/security"
)

// DeviceInfo is the metadata captured for each refresh token at login.
type DeviceInfo struct {
	Name      string
	Type      string
	IPAddress string
	UserAgent string
}

// TokenPair is the login result: a short-lived signed access credential and
// a long-lived opaque refresh token.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	TokenType        string    `json:"token_type"`
}

// AccessCredential is the refresh result; the refresh token itself is not
// rotated, it stays live until its own expiry or revocation.
type AccessCredential struct {
	AccessToken     string    `json:"access_token"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
	TokenType       string    `json:"token_type"`
}

type TokenService struct {
	jwtMgr     *security.JWTManager
	tokens     repository.RefreshTokenRepository
	users      repository.UserRepository
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, tokens repository.RefreshTokenRepository, users repository.UserRepository, pepper string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		tokens:     tokens,
		users:      users,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Issue mints a token pair for an authenticated user and records the refresh
// token in the ledger. Only the peppered hash is persisted.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, device DeviceInfo) (*TokenPair, error) {
	access, accessExpiry, err := s.jwtMgr.SignAccessToken(user.ID, user.Username, user.IsSuperuser, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := security.NewRefreshToken()
	if err != nil {
		return nil, err
	}
	refreshExpiry := time.Now().Add(s.refreshTTL)
	if err := s.tokens.Create(ctx, &domain.RefreshToken{
		UserID:     user.ID,
		TokenHash:  security.HashRefreshToken(refresh, s.pepper),
		ExpiresAt:  refreshExpiry,
		DeviceName: device.Name,
		DeviceType: device.Type,
		IPAddress:  device.IPAddress,
		UserAgent:  device.UserAgent,
	}); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiry,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiry,
		TokenType:        "bearer",
	}, nil
}

// Refresh validates a refresh token and mints a fresh access credential. The
// ledger entry has its last-used timestamp bumped but is otherwise reused.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*AccessCredential, error) {
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	entry, err := s.tokens.FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	now := time.Now()
	if !entry.Valid(now) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err := s.tokens.TouchLastUsed(ctx, entry.ID, now.UTC()); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, entry.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInvalidOrExpiredToken
	}

	access, accessExpiry, err := s.jwtMgr.SignAccessToken(user.ID, user.Username, user.IsSuperuser, s.accessTTL)
	if err != nil {
		return nil, err
	}
	return &AccessCredential{
		AccessToken:     access,
		AccessExpiresAt: accessExpiry,
		TokenType:       "bearer",
	}, nil
}

// Revoke marks a single refresh token revoked. It reports false when the
// token is unknown or already revoked.
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) (bool, error) {
	hash := security.HashRefreshToken(refreshToken, s.pepper)
	return s.tokens.RevokeByHash(ctx, hash)
}

// RevokeAll revokes every live refresh token for the user and returns how
// many were revoked.
func (s *TokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	return s.tokens.RevokeAllByUserID(ctx, userID)
}

func (s *TokenService) ListActive(ctx context.Context, userID uint) ([]domain.RefreshToken, error) {
	return s.tokens.ListActiveByUserID(ctx, userID)
}

func (s *TokenService) ParseAccessToken(raw string) (*security.Claims, error) {
	return s.jwtMgr.ParseAccessToken(raw)
}
