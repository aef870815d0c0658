package security

import (
	"testing"
	"time"
)

func newManagerForTest() *JWTManager {
	return NewJWTManager("credential-session-service", "credential-session-users", "test-access-secret")
}

func TestSignAndParseAccessToken(t *testing.T) {
	mgr := newManagerForTest()

	raw, expiresAt, err := mgr.SignAccessToken(42, "alice", false, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiry, got %v", expiresAt)
	}

	claims, err := mgr.ParseAccessToken(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "42" {
		t.Fatalf("expected subject 42, got %q", claims.Subject)
	}
	if claims.Username != "alice" {
		t.Fatalf("expected username alice, got %q", claims.Username)
	}
	if claims.IsSuperuser {
		t.Fatal("unexpected superuser claim")
	}
	if claims.ID == "" {
		t.Fatal("expected a jti")
	}
}

func TestParseAccessTokenRejectsExpired(t *testing.T) {
	mgr := newManagerForTest()

	raw, _, err := mgr.SignAccessToken(1, "bob", false, -time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := mgr.ParseAccessToken(raw); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseAccessTokenRejectsForeignIssuer(t *testing.T) {
	other := NewJWTManager("someone-else", "credential-session-users", "test-access-secret")
	raw, _, err := other.SignAccessToken(1, "bob", false, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mgr := newManagerForTest()
	if _, err := mgr.ParseAccessToken(raw); err == nil {
		t.Fatal("expected foreign issuer to be rejected")
	}
}

func TestParseAccessTokenRejectsWrongSecret(t *testing.T) {
	other := NewJWTManager("credential-session-service", "credential-session-users", "other-secret")
	raw, _, err := other.SignAccessToken(1, "bob", false, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mgr := newManagerForTest()
	if _, err := mgr.ParseAccessToken(raw); err == nil {
		t.Fatal("expected wrong-secret token to be rejected")
	}
}
