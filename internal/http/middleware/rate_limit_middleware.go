package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/authkit/credential-session-service/internal/http/response"
	"github.com/authkit/credential-session-service/internal/observability"
	"github.com/authkit/credential-session-service/internal/security"
)

// RateLimiter throttles requests per client key using a token bucket. Keys
// default to the client IP; authenticated scopes can key on the token
// subject instead so a NAT full of users is not punished collectively.
type RateLimiter struct {
	scope   string
	limit   rate.Limit
	burst   int
	keyFunc func(r *http.Request) string

	mu      sync.Mutex
	buckets map[string]*clientBucket
	sweep   time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter allowing rpm requests per minute with a
// burst of the same size.
func NewRateLimiter(scope string, rpm int) *RateLimiter {
	return NewRateLimiterWithKey(scope, rpm, nil)
}

func NewRateLimiterWithKey(scope string, rpm int, keyFunc func(r *http.Request) string) *RateLimiter {
	if rpm <= 0 {
		rpm = 1
	}
	if keyFunc == nil {
		keyFunc = clientIP
	}
	return &RateLimiter{
		scope:   scope,
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   rpm,
		keyFunc: keyFunc,
		buckets: make(map[string]*clientBucket),
		sweep:   time.Now().Add(time.Minute),
	}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIP(r)
			}
			reservation := rl.bucket(key).Reserve()
			if !reservation.OK() {
				rl.reject(w, r, time.Second)
				return
			}
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				rl.reject(w, r, delay)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) reject(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
	seconds := int(retryAfter.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	response.Error(w, r, http.StatusTooManyRequests, response.CodeRateLimited, "too many requests", nil)
}

func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.After(rl.sweep) {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) > 10*time.Minute {
				delete(rl.buckets, k)
			}
		}
		rl.sweep = now.Add(time.Minute)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// SubjectOrIPKeyFunc keys on the access-token subject when a parseable
// token is present and falls back to the client IP otherwise.
func SubjectOrIPKeyFunc(jwtMgr *security.JWTManager) func(r *http.Request) string {
	return func(r *http.Request) string {
		if jwtMgr == nil {
			return clientIP(r)
		}
		raw := security.GetCookie(r, "access_token")
		if raw == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				raw = strings.TrimSpace(auth[7:])
			}
		}
		if raw == "" {
			return clientIP(r)
		}
		claims, err := jwtMgr.ParseAccessToken(raw)
		if err != nil || claims.Subject == "" {
			return clientIP(r)
		}
		return "sub:" + claims.Subject
	}
}
