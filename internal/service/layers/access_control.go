package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/identity"
	"github.com/velro/authz-core/internal/domain/resource"
)

// AccessControl is layer 4 (required): resolves direct ownership,
// project ownership, team membership, and project-visibility access
// per spec §4.2.1 steps 1-3. Inheritance retry on a generation's
// parent (step 4) is the separate Inheritance layer.
type AccessControl struct {
	resources ResourceLookup
	projects  ProjectLookup
	teams     TeamMembershipLookup
}

// NewAccessControl constructs the layer.
func NewAccessControl(resources ResourceLookup, projects ProjectLookup, teams TeamMembershipLookup) *AccessControl {
	return &AccessControl{resources: resources, projects: projects, teams: teams}
}

func (l *AccessControl) Type() authz.LayerType { return authz.LayerAccessControl }
func (l *AccessControl) Required() bool        { return true }

func (l *AccessControl) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
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

	method, granted, sub, err := resolve(ctx, l.projects, l.teams, req.Principal, res, req.Access)
	if err != nil {
		result.Success = false
		result.Threat = authz.ThreatOrange
		result.Err = authz.Wrap(authz.KindDependencyUnavailable, err, "access resolution failed")
		result.ExecutionTime = time.Since(start)
		return result
	}

	result.ExecutionTime = time.Since(start)
	if !granted {
		result.Success = false
		result.Threat = authz.ThreatYellow
		ce := authz.NewCoreError(authz.KindUnauthorized, "access denied").WithSubcategory(sub)
		result.Err = ce
		result.Metadata = map[string]any{"resource_project_id": res.ProjectID, "resource_parent_id": res.ParentID}
		return result
	}

	result.Success = true
	result.Metadata = map[string]any{
		"method":              string(method),
		"resource_project_id": res.ProjectID,
		"resource_parent_id":  res.ParentID,
	}
	return result
}

// resolve implements spec §4.2.1 steps 1-3 against an already-loaded
// Resource. Shared with the Inheritance layer, which calls it again
// against a generation's parent resource.
func resolve(
	ctx context.Context,
	projects ProjectLookup,
	teams TeamMembershipLookup,
	principal *identity.Principal,
	res *resource.Resource,
	access resource.AccessType,
) (authz.AuthorizationMethod, bool, authz.Subcategory, error) {
	ownResource := res.OwnerID == principal.ID
	if ownResource {
		return authz.MethodDirectOwnership, true, "", nil
	}

	required := resource.RequiredRole(access, false)

	if res.Type == resource.TypeGeneration && res.ProjectID != "" {
		project, err := projects.GetProject(ctx, res.ProjectID)
		if err != nil {
			return "", false, "", err
		}
		if project.OwnerID == principal.ID {
			return authz.MethodProjectOwnership, true, "", nil
		}

		memberships, err := teams.GetTeamMemberships(ctx, principal.ID)
		if err != nil {
			return "", false, "", err
		}
		for _, m := range memberships {
			link, ok := project.LinkFor(m.TeamID)
			if !ok {
				continue
			}
			teamRole, ok := identity.ParseRole(m.Role)
			if !ok {
				continue
			}
			effective := minRole(teamRole, link.Role)
			if effective.Satisfies(required) {
				return authz.MethodTeamMembership, true, "", nil
			}
		}

		if granted, ok := resolveVisibility(project, principal, access); ok {
			return authz.MethodPublicVisibility, granted, "", nil
		}
		return "", false, authz.SubInsufficientTeamPerms, nil
	}

	if res.Type == resource.TypeProject {
		project, err := projects.GetProject(ctx, res.ID)
		if err != nil {
			return "", false, "", err
		}
		if granted, ok := resolveVisibility(project, principal, access); ok {
			return authz.MethodPublicVisibility, granted, "", nil
		}
		return "", false, authz.SubPrivateProject, nil
	}

	return "", false, authz.SubNotOwner, nil
}

// resolveVisibility applies spec §4.2.1 step 3's project-visibility
// rules. The second return reports whether visibility alone settled
// the decision (true) versus falling through to denial (false).
func resolveVisibility(project *resource.Project, principal *identity.Principal, access resource.AccessType) (bool, bool) {
	switch project.Visibility {
	case resource.VisibilityPublicFull:
		return access == resource.AccessRead || access == resource.AccessShare, true
	case resource.VisibilityPublicRead:
		return access == resource.AccessRead, true
	case resource.VisibilityTeamOpen:
		if !principal.IsMemberOfAny() {
			return false, true
		}
		return access == resource.AccessRead || access == resource.AccessWrite, true
	case resource.VisibilityTeamRestricted:
		for _, l := range project.TeamLinks {
			if role, ok := principal.Membership(l.TeamID); ok && role != identity.RoleNone {
				required := resource.RequiredRole(access, false)
				effective := minRole(role, l.Role)
				return effective.Satisfies(required), true
			}
		}
		return false, true
	case resource.VisibilityPrivate:
		return false, true
	default:
		return false, false
	}
}

func minRole(a, b identity.Role) identity.Role {
	if a < b {
		return a
	}
	return b
}
