package service

import (
	"context"
	"strings"
	"time"
)

type AuthAbuseScope string

const (
	AuthAbuseScopeLogin  AuthAbuseScope = "login"
	AuthAbuseScopeForgot AuthAbuseScope = "forgot"
	AuthAbuseScopeResend AuthAbuseScope = "resend"
)

// AuthAbusePolicy shapes the per-identity cooldown curve applied on top of
// the per-account database lockout. FreeAttempts failures cost nothing; each
// further failure multiplies the delay, capped at MaxDelay. A quiet period of
// ResetWindow clears the slate.
type AuthAbusePolicy struct {
	FreeAttempts int
	BaseDelay    time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	ResetWindow  time.Duration
}

func DefaultAuthAbusePolicy() AuthAbusePolicy {
	return AuthAbusePolicy{
		FreeAttempts: 3,
		BaseDelay:    time.Second,
		Multiplier:   2,
		MaxDelay:     15 * time.Minute,
		ResetWindow:  time.Hour,
	}
}

func (p AuthAbusePolicy) normalized() AuthAbusePolicy {
	if p.FreeAttempts < 0 {
		p.FreeAttempts = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 15 * time.Minute
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = time.Hour
	}
	return p
}

// cooldownFor maps a failure count to the delay it earns.
func (p AuthAbusePolicy) cooldownFor(failures int64) time.Duration {
	excess := failures - int64(p.FreeAttempts)
	if excess <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay)
	for i := int64(1); i < excess; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d := time.Duration(delay); d < p.MaxDelay {
		return d
	}
	return p.MaxDelay
}

// AuthAbuseGuard throttles security-sensitive request paths keyed by identity
// and client IP. It is advisory: a guard outage must not take logins down
// with it, so callers decide how to treat errors.
type AuthAbuseGuard interface {
	Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error)
	Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error
}

type NoopAuthAbuseGuard struct{}

func NewNoopAuthAbuseGuard() *NoopAuthAbuseGuard { return &NoopAuthAbuseGuard{} }

func (g *NoopAuthAbuseGuard) Check(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) RegisterFailure(context.Context, AuthAbuseScope, string, string) (time.Duration, error) {
	return 0, nil
}

func (g *NoopAuthAbuseGuard) Reset(context.Context, AuthAbuseScope, string, string) error {
	return nil
}

func normalizeAuthIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
