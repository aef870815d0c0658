package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAuthAbuseGuard keeps one small hash per (scope, subject) with the
// failure count, the last failure time and the end of the active cooldown.
// Identity and client IP are tracked as separate subjects so a distributed
// attack on one account and a spray from one address are both caught.
type RedisAuthAbuseGuard struct {
	client redis.UniversalClient
	prefix string
	policy AuthAbusePolicy
	now    func() time.Time
}

func NewRedisAuthAbuseGuard(client redis.UniversalClient, prefix string, policy AuthAbusePolicy) *RedisAuthAbuseGuard {
	if prefix == "" {
		prefix = "auth_abuse"
	}
	return &RedisAuthAbuseGuard{
		client: client,
		prefix: prefix,
		policy: policy.normalized(),
		now:    time.Now,
	}
}

func (g *RedisAuthAbuseGuard) stateKey(scope AuthAbuseScope, kind, value string) string {
	return fmt.Sprintf("%s:%s:%s:%s", g.prefix, scope, kind, value)
}

func (g *RedisAuthAbuseGuard) subjectKeys(scope AuthAbuseScope, identity, ip string) []string {
	var keys []string
	if id := normalizeAuthIdentity(identity); id != "" {
		keys = append(keys, g.stateKey(scope, "id", id))
	}
	if ip != "" {
		keys = append(keys, g.stateKey(scope, "ip", ip))
	}
	return keys
}

func (g *RedisAuthAbuseGuard) Check(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	now := g.now()
	for _, key := range g.subjectKeys(scope, identity, ip) {
		st, err := g.readState(ctx, key)
		if err != nil {
			return 0, err
		}
		if remaining := st.cooldownUntil.Sub(now); remaining > worst {
			worst = remaining
		}
	}
	if worst < 0 {
		worst = 0
	}
	return worst, nil
}

func (g *RedisAuthAbuseGuard) RegisterFailure(ctx context.Context, scope AuthAbuseScope, identity, ip string) (time.Duration, error) {
	var worst time.Duration
	now := g.now()
	for _, key := range g.subjectKeys(scope, identity, ip) {
		st, err := g.readState(ctx, key)
		if err != nil {
			return 0, err
		}
		if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > g.policy.ResetWindow {
			st.failures = 0
		}
		st.failures++
		cooldown := g.policy.cooldownFor(st.failures)
		until := now.Add(cooldown)

		pipe := g.client.TxPipeline()
		pipe.HSet(ctx, key,
			"failures", st.failures,
			"last_failure_ms", now.UnixMilli(),
			"cooldown_until_ms", until.UnixMilli(),
		)
		pipe.Expire(ctx, key, g.policy.ResetWindow+g.policy.MaxDelay)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, err
		}
		if cooldown > worst {
			worst = cooldown
		}
	}
	return worst, nil
}

func (g *RedisAuthAbuseGuard) Reset(ctx context.Context, scope AuthAbuseScope, identity, ip string) error {
	keys := g.subjectKeys(scope, identity, ip)
	if len(keys) == 0 {
		return nil
	}
	return g.client.Del(ctx, keys...).Err()
}

type abuseState struct {
	failures      int64
	lastFailure   time.Time
	cooldownUntil time.Time
}

func (g *RedisAuthAbuseGuard) readState(ctx context.Context, key string) (abuseState, error) {
	var st abuseState
	fields, err := g.client.HGetAll(ctx, key).Result()
	if err != nil {
		return st, err
	}
	if len(fields) == 0 {
		return st, nil
	}
	if raw, ok := fields["failures"]; ok {
		if st.failures, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return st, fmt.Errorf("parse abuse state %s failures: %w", key, err)
		}
	}
	if raw, ok := fields["last_failure_ms"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return st, fmt.Errorf("parse abuse state %s last_failure_ms: %w", key, err)
		}
		st.lastFailure = time.UnixMilli(ms)
	}
	if raw, ok := fields["cooldown_until_ms"]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return st, fmt.Errorf("parse abuse state %s cooldown_until_ms: %w", key, err)
		}
		st.cooldownUntil = time.UnixMilli(ms)
	}
	return st, nil
}
