// Package resource contains domain types describing the objects that
// principals request access to: generations, projects, teams, and the
// handful of administrative/system resource kinds.
package resource

import "github.com/velro/authz-core/internal/domain/identity"

// Type enumerates the kinds of resource the core can reason about.
type Type string

const (
	TypeUserProfile    Type = "user_profile"
	TypeGeneration     Type = "generation"
	TypeProject        Type = "project"
	TypeTeam           Type = "team"
	TypeAdminResource  Type = "admin_resource"
	TypeSystemResource Type = "system_resource"
)

// AccessType is the kind of operation a principal wants to perform.
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessDelete AccessType = "delete"
	AccessShare  AccessType = "share"
	AccessAdmin  AccessType = "admin"
)

// RequiredRole returns the minimum team role needed to perform access on a
// resource the principal does not own directly, per the role permission
// table (spec §4.2.1). ownResource distinguishes "delete own" (editor)
// from "delete others'" (admin).
func RequiredRole(access AccessType, ownResource bool) identity.Role {
	switch access {
	case AccessRead:
		return identity.RoleViewer
	case AccessWrite:
		return identity.RoleContributor
	case AccessShare:
		return identity.RoleEditor
	case AccessDelete:
		if ownResource {
			return identity.RoleEditor
		}
		return identity.RoleAdmin
	case AccessAdmin:
		return identity.RoleAdmin
	default:
		return identity.RoleOwner
	}
}

// Visibility is a project-level policy controlling the access an
// unrelated principal receives.
type Visibility string

const (
	VisibilityPrivate        Visibility = "private"
	VisibilityTeamRestricted Visibility = "team_restricted"
	VisibilityTeamOpen       Visibility = "team_open"
	VisibilityPublicRead     Visibility = "public_read"
	VisibilityPublicFull     Visibility = "public_full"
)

// TeamLink associates a project with a team at a given role, used to
// compute the effective role of a team member on that project.
type TeamLink struct {
	TeamID string
	Role   identity.Role
}

// Project is the project-scoped container generations may belong to.
type Project struct {
	ID         string
	OwnerID    string
	Visibility Visibility
	TeamLinks  []TeamLink
}

// LinkFor returns the TeamLink for teamID, if the project is linked to it.
func (p *Project) LinkFor(teamID string) (TeamLink, bool) {
	for _, l := range p.TeamLinks {
		if l.TeamID == teamID {
			return l, true
		}
	}
	return TeamLink{}, false
}

// Ref is a lightweight resource reference: just enough to address a
// resource and know its type, used as orchestrator/layer input before the
// full Resource is loaded.
type Ref struct {
	ID   string
	Type Type
}

// Resource is a typed object with a stable identifier and owner.
// Generations carry an optional parent and an owning project.
type Resource struct {
	ID      string
	Type    Type
	OwnerID string

	// ProjectID is set when Type == TypeGeneration and the generation
	// belongs to a project.
	ProjectID string
	// ParentID is set when Type == TypeGeneration and the generation was
	// derived from another generation (inheritance chain).
	ParentID string
}

// Ref returns a lightweight reference to this resource.
func (r *Resource) Ref() Ref {
	return Ref{ID: r.ID, Type: r.Type}
}
