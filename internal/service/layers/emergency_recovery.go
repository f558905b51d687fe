package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/resource"
)

// EmergencyRecovery is layer 10 (fallback only): consulted by the
// orchestrator only when a required layer throws rather than
// returning a result. Grants the conservative default of spec §4.2
// row 10 and §4.7: a direct-ownership check plus read-only allowance
// on resources whose project is marked public_read. Always emits at
// CRITICAL severity; the orchestrator handles that emission since this
// layer's own audit-emission dependency may be what failed.
type EmergencyRecovery struct {
	resources ResourceLookup
	projects  ProjectLookup
}

// NewEmergencyRecovery constructs the layer.
func NewEmergencyRecovery(resources ResourceLookup, projects ProjectLookup) *EmergencyRecovery {
	return &EmergencyRecovery{resources: resources, projects: projects}
}

func (l *EmergencyRecovery) Type() authz.LayerType { return authz.LayerEmergencyRecovery }

// Required reports false: the orchestrator invokes this layer
// explicitly on chain abort, never as part of the normal sequence.
func (l *EmergencyRecovery) Required() bool { return false }

func (l *EmergencyRecovery) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatRed}

	if req.Access != resource.AccessRead {
		result.Success = false
		result.Err = authz.NewCoreError(authz.KindUnauthorized, "emergency fallback denies non-read access").
			WithSubcategory(authz.SubNotOwner)
		result.ExecutionTime = time.Since(start)
		return result
	}

	res, err := l.resources.GetResource(ctx, req.Resource.ID)
	if err != nil {
		result.Success = false
		result.Err = authz.Wrap(authz.KindDependencyUnavailable, err, "resource lookup failed during emergency fallback")
		result.ExecutionTime = time.Since(start)
		return result
	}

	if res.OwnerID == req.Principal.ID {
		result.Success = true
		result.Metadata = map[string]any{"method": string(authz.MethodDirectOwnership)}
		result.ExecutionTime = time.Since(start)
		return result
	}

	if res.ProjectID != "" && l.projects != nil {
		if project, err := l.projects.GetProject(ctx, res.ProjectID); err == nil &&
			project.Visibility == resource.VisibilityPublicRead {
			result.Success = true
			result.Metadata = map[string]any{"method": string(authz.MethodPublicVisibility)}
			result.ExecutionTime = time.Since(start)
			return result
		}
	}

	result.Success = false
	result.Err = authz.NewCoreError(authz.KindUnauthorized, "emergency fallback denies non-owner").
		WithSubcategory(authz.SubNotOwner)
	result.ExecutionTime = time.Since(start)
	return result
}
