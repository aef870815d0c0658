package security

import (
	"strings"
	"testing"
)

func TestNewRefreshTokenUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tok, err := NewRefreshToken()
		if err != nil {
			t.Fatalf("new refresh token: %v", err)
		}
		if tok == "" {
			t.Fatal("empty token")
		}
		if seen[tok] {
			t.Fatalf("duplicate token generated: %s", tok)
		}
		seen[tok] = true
	}
}

func TestHashRefreshTokenDeterministicAndPeppered(t *testing.T) {
	h1 := HashRefreshToken("tok", "pepper")
	h2 := HashRefreshToken("tok", "pepper")
	if h1 != h2 {
		t.Fatal("hash is not deterministic")
	}
	if len(h1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(h1))
	}
	if HashRefreshToken("tok", "other-pepper") == h1 {
		t.Fatal("pepper does not change the hash")
	}
	if HashRefreshToken("other-tok", "pepper") == h1 {
		t.Fatal("token does not change the hash")
	}
}

func TestNewVerificationCodeShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := NewVerificationCode(6)
		if err != nil {
			t.Fatalf("new code: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		if strings.Trim(code, "0123456789") != "" {
			t.Fatalf("expected numeric code, got %q", code)
		}
	}
}

func TestNewVerificationCodeDefaultDigits(t *testing.T) {
	code, err := NewVerificationCode(0)
	if err != nil {
		t.Fatalf("new code: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("expected default 6 digits, got %q", code)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hash == "s3cret-password" {
		t.Fatal("password stored in the clear")
	}
	if !VerifyPassword("s3cret-password", hash) {
		t.Fatal("correct password rejected")
	}
	if VerifyPassword("wrong-password", hash) {
		t.Fatal("wrong password accepted")
	}
}
