package memory

import (
	"context"
	"math"
	"time"

	"github.com/velro/authz-core/internal/domain/ratelimit"
	"github.com/velro/authz-core/internal/service/layers"
)

// RateLimitChecker adapts MemoryRateLimiter's GCRA implementation to the
// layers.RateLimitChecker port, for callers with no Redis available;
// neither start nor selfcheck constructs it. Redis-backed deployments should
// use redisstore.RateLimiter instead, whose fixed-window counters match
// spec §5 exactly; GCRA gives smoother in-memory throttling without
// needing a shared counter store.
type RateLimitChecker struct {
	limiter *MemoryRateLimiter
	limits  map[ratelimit.Scope]ratelimit.Limits
}

// NewRateLimitChecker wraps limiter with the scope/identifier-keyed
// RateLimitChecker interface, using ratelimit.DefaultLimits to translate
// each scope into a GCRA rate/burst/period config.
func NewRateLimitChecker(limiter *MemoryRateLimiter) *RateLimitChecker {
	return &RateLimitChecker{limiter: limiter, limits: ratelimit.DefaultLimits}
}

var _ layers.RateLimitChecker = (*RateLimitChecker)(nil)

// WithLimits overrides the scope->limits mapping (e.g. from loaded config).
func (c *RateLimitChecker) WithLimits(limits map[ratelimit.Scope]ratelimit.Limits) *RateLimitChecker {
	c.limits = limits
	return c
}

// Allow checks scope+identifier against the configured GCRA limits,
// keyed the same way the Redis-backed checker formats keys.
func (c *RateLimitChecker) Allow(ctx context.Context, scope, identifier string) (bool, int64, error) {
	limits, ok := c.limits[ratelimit.Scope(scope)]
	if !ok {
		limits = ratelimit.Limits{Rate: 100, Window: time.Minute}
	}

	key := ratelimit.FormatKey(ratelimit.KeyTypeUser, scope+":"+identifier)
	result, err := c.limiter.Allow(ctx, key, ratelimit.RateLimitConfig{
		Rate:   limits.Rate,
		Burst:  limits.Rate,
		Period: limits.Window,
	})
	if err != nil {
		return false, 0, err
	}
	if !result.Allowed {
		return false, int64(math.Ceil(result.RetryAfter.Seconds())), nil
	}
	return true, 0, nil
}
