package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
)

// NewRefreshToken returns a fresh opaque refresh token. 32 bytes of entropy
// makes collisions within any validity window a non-concern.
func NewRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashRefreshToken derives the stored lookup key for a refresh token. Only
// the peppered hash is persisted, so a leaked ledger cannot be replayed.
func HashRefreshToken(token, pepper string) string {
	sum := sha256.Sum256([]byte(token + pepper))
	return hex.EncodeToString(sum[:])
}

// NewCSRFToken returns the double-submit token paired with a browser
// session.
func NewCSRFToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the process is in no state to serve.
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// NewVerificationCode returns a zero-padded numeric code of the given number
// of digits, drawn from crypto/rand.
func NewVerificationCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	bound := big.NewInt(1)
	for i := 0; i < digits; i++ {
		bound.Mul(bound, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
