package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/ratelimit"
)

// RateLimiting is layer 2: per-principal, then per-IP limits. It checks
// no per-endpoint category limits, and the limits do not change with
// the running threat level.
type RateLimiting struct {
	checker RateLimitChecker
}

// NewRateLimiting constructs the layer against a RateLimitChecker
// (the fixed-window counter scheme of spec §5, backed by the L2 store).
func NewRateLimiting(checker RateLimitChecker) *RateLimiting {
	return &RateLimiting{checker: checker}
}

func (l *RateLimiting) Type() authz.LayerType { return authz.LayerRateLimiting }
func (l *RateLimiting) Required() bool        { return true }

func (l *RateLimiting) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatGreen}

	checks := []struct {
		scope ratelimit.Scope
		id    string
	}{
		{ratelimit.ScopePrincipal, req.Principal.ID},
		{ratelimit.ScopeIP, req.Security.ClientIP},
	}

	for _, c := range checks {
		allowed, retryAfter, err := l.checker.Allow(ctx, string(c.scope), c.id)
		if err != nil {
			result.Success = false
			result.Err = authz.Wrap(authz.KindInternalError, err, "rate limiter unavailable")
			result.ExecutionTime = time.Since(start)
			return result
		}
		if !allowed {
			result.Success = false
			result.Threat = authz.ThreatOrange
			result.Err = authz.NewCoreError(authz.KindRateLimited, "rate limit exceeded for scope "+string(c.scope))
			result.Metadata = map[string]any{"retry_after_seconds": retryAfter, "scope": string(c.scope)}
			result.ExecutionTime = time.Since(start)
			return result
		}
	}

	result.Success = true
	result.ExecutionTime = time.Since(start)
	return result
}
