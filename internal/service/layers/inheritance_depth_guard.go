package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
)

const defaultMaxInheritanceDepth = 10

// InheritanceDepthGuard is layer 6 (required): walks a generation's
// parent chain, capping the walk at maxDepth and rejecting on a cycle,
// so Inheritance never runs unbounded or loops. It runs once ahead of
// any inheritance retries and hands the orchestrator the bounded chain
// of ancestor ids to retry against.
type InheritanceDepthGuard struct {
	resources ResourceLookup
	maxDepth  int
}

// NewInheritanceDepthGuard constructs the layer. maxDepth <= 0 uses the
// spec default of 10.
func NewInheritanceDepthGuard(resources ResourceLookup, maxDepth int) *InheritanceDepthGuard {
	if maxDepth <= 0 {
		maxDepth = defaultMaxInheritanceDepth
	}
	return &InheritanceDepthGuard{resources: resources, maxDepth: maxDepth}
}

func (l *InheritanceDepthGuard) Type() authz.LayerType { return authz.LayerInheritanceDepth }
func (l *InheritanceDepthGuard) Required() bool         { return true }

// Run walks req.Resource's parent chain and records it in the result's
// metadata under "chain" ([]string of ancestor ids, nearest first) for
// the orchestrator to hand to Inheritance one hop at a time. A cycle or
// a chain exceeding maxDepth denies outright.
func (l *InheritanceDepthGuard) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatGreen}

	res, err := l.resources.GetResource(ctx, req.Resource.ID)
	if err != nil {
		result.Success = false
		result.Threat = authz.ThreatOrange
		result.Err = authz.Wrap(authz.KindDependencyUnavailable, err, "resource lookup failed")
		result.ExecutionTime = time.Since(start)
		return result
	}

	visited := map[string]bool{res.ID: true}
	chain := make([]string, 0, l.maxDepth)
	cur := res
	for cur.ParentID != "" {
		if visited[cur.ParentID] {
			result.Success = false
			result.Threat = authz.ThreatOrange
			result.Err = authz.NewCoreError(authz.KindIntegrityViolation, "inheritance cycle detected")
			result.ExecutionTime = time.Since(start)
			return result
		}
		if len(chain) >= l.maxDepth {
			result.Success = false
			result.Err = authz.NewCoreError(authz.KindUnauthorized, "inheritance depth exceeded").
				WithSubcategory(authz.SubInheritanceExhausted)
			result.ExecutionTime = time.Since(start)
			return result
		}
		parent, err := l.resources.GetResource(ctx, cur.ParentID)
		if err != nil {
			result.Success = false
			result.Threat = authz.ThreatOrange
			result.Err = authz.Wrap(authz.KindDependencyUnavailable, err, "ancestor lookup failed")
			result.ExecutionTime = time.Since(start)
			return result
		}
		visited[cur.ParentID] = true
		chain = append(chain, parent.ID)
		cur = parent
	}

	result.Success = true
	result.Metadata = map[string]any{"chain": chain}
	result.ExecutionTime = time.Since(start)
	return result
}
