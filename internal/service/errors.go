package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers unknown identifier, wrong password and
	// inactive or unverified accounts. The caller cannot tell these apart;
	// that is deliberate.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidOrExpiredToken covers refresh tokens and verification codes
	// that are missing, revoked, used or past expiry.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrAttemptsExhausted is returned once a verification code has burned
	// its whole retry budget, even if the right code arrives afterwards.
	ErrAttemptsExhausted = errors.New("verification attempts exhausted")
	// ErrAlreadyVerified rejects a verification resend for a verified account.
	ErrAlreadyVerified = errors.New("email already verified")
)

// AccountLockedError reports an active lockout window.
type AccountLockedError struct {
	RemainingSeconds int
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked, retry in %ds", e.RemainingSeconds)
}

// ErrAccountLocked matches any AccountLockedError via errors.Is.
var ErrAccountLocked = errors.New("account locked")

func (e *AccountLockedError) Is(target error) bool { return target == ErrAccountLocked }

// DuplicateIdentityError names the registration field that collided.
type DuplicateIdentityError struct {
	Field string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("%s already registered", e.Field)
}

var ErrDuplicateIdentity = errors.New("identity already registered")

func (e *DuplicateIdentityError) Is(target error) bool { return target == ErrDuplicateIdentity }

// ThrottledError reports an active abuse-guard cooldown on code issuance.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many requests, retry in %s", e.RetryAfter)
}

var ErrThrottled = errors.New("too many requests")

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }
