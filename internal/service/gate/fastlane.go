package gate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/velro/authz-core/internal/domain/authz"
)

// defaultFastLaneRate and defaultFastLaneBurst bound the stripped
// chain's per-principal limiter; fast-lane traffic (auth, health,
// metrics, e2e) runs far hotter than the standard path's 100/min.
const (
	defaultFastLaneRate  = 20 // per second
	defaultFastLaneBurst = 40
)

// AllowListChecker reports whether a principal is explicitly permitted
// on the fast-lane (e.g. an active session or a known service account).
// A nil checker allows everyone through the stripped chain.
type AllowListChecker interface {
	Allowed(ctx context.Context, principalID string) (bool, error)
}

// FastLane is the stripped chain of spec §4.1: a basic per-principal
// rate limit plus an allow-list check, entirely skipping the ten
// orchestrator layers.
type FastLane struct {
	allowList AllowListChecker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	burst    int
}

// NewFastLane constructs the stripped chain. allowList may be nil to
// skip the allow-list check entirely.
func NewFastLane(allowList AllowListChecker) *FastLane {
	return &FastLane{
		allowList: allowList,
		limiters:  make(map[string]*rate.Limiter),
		r:         rate.Limit(defaultFastLaneRate),
		burst:     defaultFastLaneBurst,
	}
}

func (f *FastLane) limiterFor(principalID string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[principalID]
	if !ok {
		l = rate.NewLimiter(f.r, f.burst)
		f.limiters[principalID] = l
	}
	return l
}

// anonymousPrincipal keys the rate limiter for fast-lane requests with
// no authenticated principal yet (e.g. the initial call to /auth/),
// which otherwise share a single bucket instead of panicking on a nil
// Principal.
const anonymousPrincipal = "__anonymous__"

// Check implements FastLaneChecker.
func (f *FastLane) Check(ctx context.Context, req *authz.Request) (*authz.Response, error) {
	start := time.Now()
	resp := &authz.Response{SystemUsed: authz.SystemFastLane, CorrelationID: req.ContextHash}

	principalID := anonymousPrincipal
	if req.Principal != nil {
		principalID = req.Principal.ID
	}

	if !f.limiterFor(principalID).Allow() {
		resp.Granted = false
		resp.DenialReason = "fast_lane_rate_limited"
		resp.Threat = authz.ThreatYellow
		resp.ExecutionTime = time.Since(start)
		return resp, nil
	}

	if f.allowList != nil && req.Principal != nil {
		allowed, err := f.allowList.Allowed(ctx, req.Principal.ID)
		if err != nil {
			resp.Granted = false
			resp.DenialReason = "fast_lane_allow_list_unavailable"
			resp.Threat = authz.ThreatOrange
			resp.ExecutionTime = time.Since(start)
			return resp, err
		}
		if !allowed {
			resp.Granted = false
			resp.DenialReason = "fast_lane_not_allow_listed"
			resp.Threat = authz.ThreatYellow
			resp.ExecutionTime = time.Since(start)
			return resp, nil
		}
	}

	resp.Granted = true
	resp.Method = authz.MethodFastLane
	resp.ExecutionTime = time.Since(start)
	return resp, nil
}
