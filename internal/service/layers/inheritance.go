package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
)

// Inheritance is layer 5 (conditionally required, only when the
// resource is a generation with a parent): retries the access-control
// resolution of spec §4.2.1 step 4 against the parent generation. The
// depth guard (layer 6) bounds how far this layer is allowed to walk;
// this layer itself only ever looks at the immediate parent and
// defers the chain walk to the orchestrator re-invoking it per hop.
type Inheritance struct {
	resources ResourceLookup
	projects  ProjectLookup
	teams     TeamMembershipLookup
}

// NewInheritance constructs the layer.
func NewInheritance(resources ResourceLookup, projects ProjectLookup, teams TeamMembershipLookup) *Inheritance {
	return &Inheritance{resources: resources, projects: projects, teams: teams}
}

func (l *Inheritance) Type() authz.LayerType { return authz.LayerInheritance }

// Required reports false: this layer only runs when access control
// denied and the resource has a parent, which the orchestrator decides
// by inspecting the prior layer's result metadata.
func (l *Inheritance) Required() bool { return false }

func (l *Inheritance) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
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
	if res.ParentID == "" {
		result.Success = false
		result.Err = authz.NewCoreError(authz.KindUnauthorized, "no parent to inherit from").
			WithSubcategory(authz.SubInheritanceExhausted)
		result.ExecutionTime = time.Since(start)
		return result
	}

	parent, err := l.resources.GetResource(ctx, res.ParentID)
	if err != nil {
		result.Success = false
		result.Threat = authz.ThreatOrange
		result.Err = authz.Wrap(authz.KindDependencyUnavailable, err, "parent resource lookup failed")
		result.ExecutionTime = time.Since(start)
		return result
	}

	method, granted, sub, err := resolve(ctx, l.projects, l.teams, req.Principal, parent, req.Access)
	result.ExecutionTime = time.Since(start)
	if err != nil {
		result.Success = false
		result.Threat = authz.ThreatOrange
		result.Err = authz.Wrap(authz.KindDependencyUnavailable, err, "inherited access resolution failed")
		return result
	}
	if !granted {
		result.Success = false
		result.Err = authz.NewCoreError(authz.KindUnauthorized, "inherited access denied").WithSubcategory(sub)
		result.Metadata = map[string]any{"parent_id": parent.ID}
		return result
	}

	result.Success = true
	result.Metadata = map[string]any{
		"method":    string(method),
		"parent_id": parent.ID,
	}
	return result
}
