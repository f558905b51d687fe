package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velro/authz-core/internal/domain/ratelimit"
)

// RateLimiter implements layers.RateLimitChecker as the fixed-window
// counter scheme of spec §5: one INCR-able key per (scope, identifier,
// window_start), expiring with the window so a stale counter never
// outlives its window.
//
// This is a distinct algorithm from the teacher's in-memory GCRA
// limiter (internal/adapter/outbound/memory's MemoryRateLimiter):
// spec §5 calls for fixed windows keyed off the shared store, not a
// token-bucket arrival-time model, so the window/counter shape here
// follows ratelimit.FixedWindowKey rather than the teacher's TAT cells.
type RateLimiter struct {
	client *redis.Client
	limits map[ratelimit.Scope]ratelimit.Limits
	now    func() time.Time
}

// NewRateLimiter constructs a RateLimiter against the spec's default
// per-scope limits; override individual scopes with WithLimits.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client, limits: ratelimit.DefaultLimits, now: time.Now}
}

// WithLimits overrides the scope/limit table, e.g. from configuration.
func (r *RateLimiter) WithLimits(limits map[ratelimit.Scope]ratelimit.Limits) *RateLimiter {
	r.limits = limits
	return r
}

func (r *RateLimiter) Allow(ctx context.Context, scope, identifier string) (bool, int64, error) {
	limits, ok := r.limits[ratelimit.Scope(scope)]
	if !ok {
		limits = ratelimit.Limits{Scope: ratelimit.Scope(scope), Rate: 100, Window: time.Minute}
	}

	key := ratelimit.FixedWindowKey(ratelimit.Scope(scope), identifier, r.now(), limits.Window).String()

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, err
	}
	if count == 1 {
		if err := r.client.Expire(ctx, key, limits.Window).Err(); err != nil {
			return false, 0, err
		}
	}

	if int(count) > limits.Rate {
		ttl, err := r.client.TTL(ctx, key).Result()
		if err != nil || ttl < 0 {
			ttl = limits.Window
		}
		return false, int64(ttl.Seconds()), nil
	}
	return true, 0, nil
}
