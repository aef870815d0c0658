package domain

import (
	"testing"
	"time"
)

func TestRefreshTokenValidity(t *testing.T) {
	now := time.Now().UTC()
	tok := &RefreshToken{ExpiresAt: now.Add(time.Hour)}
	if !tok.Valid(now) {
		t.Fatal("unexpired unrevoked token reported invalid")
	}

	tok.ExpiresAt = now.Add(-time.Second)
	if tok.Valid(now) {
		t.Fatal("expired token reported valid")
	}
}

// Revocation is monotonic: a revoked token stays invalid even while its
// expiry is still in the future.
func TestRefreshTokenRevokedNeverValid(t *testing.T) {
	now := time.Now().UTC()
	revokedAt := now.Add(-time.Hour)
	tok := &RefreshToken{
		ExpiresAt: now.Add(24 * time.Hour),
		IsRevoked: true,
		RevokedAt: &revokedAt,
	}
	if tok.Valid(now) {
		t.Fatal("revoked token reported valid")
	}
}

func TestVerificationCodeValidity(t *testing.T) {
	now := time.Now().UTC()
	code := &VerificationCode{
		ExpiresAt:   now.Add(time.Hour),
		MaxAttempts: DefaultCodeMaxAttempts,
	}
	if !code.Valid(now) {
		t.Fatal("fresh code reported invalid")
	}

	code.Attempts = DefaultCodeMaxAttempts
	if code.Valid(now) {
		t.Fatal("code over its attempt budget reported valid")
	}
	if !code.AttemptsExhausted() {
		t.Fatal("expected attempts exhausted")
	}

	code.Attempts = 0
	code.MarkUsed(now)
	if code.Valid(now) {
		t.Fatal("used code reported valid")
	}
	if code.UsedAt == nil || !code.UsedAt.Equal(now) {
		t.Fatalf("expected used at %v, got %v", now, code.UsedAt)
	}

	expired := &VerificationCode{
		ExpiresAt:   now.Add(-time.Minute),
		MaxAttempts: DefaultCodeMaxAttempts,
	}
	if expired.Valid(now) {
		t.Fatal("expired code reported valid")
	}
}
