// Package sqlstore is the relational-store adapter for the six named
// queries of spec §6: resource lookup, project lookup (with owner and
// visibility), a principal's team memberships, team<->project links
// (folded into the project row), generation-parent lookup, and
// paginated lookups for the cache warmers.
package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velro/authz-core/internal/domain/identity"
	"github.com/velro/authz-core/internal/domain/resource"
	"github.com/velro/authz-core/internal/service/layers"
)

// ErrNotFound is returned when a queried row does not exist. Callers in
// internal/service/layers wrap it as KindDependencyUnavailable or treat
// it as a clean deny depending on which lookup failed.
var ErrNotFound = errors.New("sqlstore: not found")

// Store implements layers.ResourceLookup, layers.ProjectLookup,
// layers.TeamMembershipLookup, and layers.GenerationParentLookup
// against a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New constructs a Store. The caller owns the pool's lifecycle
// (construction, health checks, and Close).
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ layers.ResourceLookup = (*Store)(nil)
var _ layers.ProjectLookup = (*Store)(nil)
var _ layers.TeamMembershipLookup = (*Store)(nil)
var _ layers.GenerationParentLookup = (*Store)(nil)

// GetResource implements spec §6 query 1: fetch resource by id with
// owner, project, and parent.
func (s *Store) GetResource(ctx context.Context, resourceID string) (*resource.Resource, error) {
	const query = `
		SELECT id, type, owner_id, COALESCE(project_id, ''), COALESCE(parent_id, '')
		FROM resources
		WHERE id = $1
	`
	var r resource.Resource
	var typ string
	err := s.pool.QueryRow(ctx, query, resourceID).Scan(&r.ID, &typ, &r.OwnerID, &r.ProjectID, &r.ParentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get resource: %w", err)
	}
	r.Type = resource.Type(typ)
	return &r, nil
}

// GetProject implements spec §6 query 2 (project by id with owner and
// visibility) and folds in query 4 (team<->project links with roles)
// as a second query against the same row, since pgx has no native
// nested-row scan for a one-to-many join.
func (s *Store) GetProject(ctx context.Context, projectID string) (*resource.Project, error) {
	const projectQuery = `
		SELECT id, owner_id, visibility
		FROM projects
		WHERE id = $1
	`
	var p resource.Project
	var visibility string
	err := s.pool.QueryRow(ctx, projectQuery, projectID).Scan(&p.ID, &p.OwnerID, &visibility)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlstore: get project: %w", err)
	}
	p.Visibility = resource.Visibility(visibility)

	const linksQuery = `
		SELECT team_id, role
		FROM project_team_links
		WHERE project_id = $1
	`
	rows, err := s.pool.Query(ctx, linksQuery, projectID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get project team links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var link resource.TeamLink
		var roleName string
		if err := rows.Scan(&link.TeamID, &roleName); err != nil {
			return nil, fmt.Errorf("sqlstore: scan project team link: %w", err)
		}
		role, ok := identity.ParseRole(roleName)
		if !ok {
			continue
		}
		link.Role = role
		p.TeamLinks = append(p.TeamLinks, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate project team links: %w", err)
	}

	return &p, nil
}

// GetTeamMemberships implements spec §6 query 3: a principal's team
// memberships. Role is returned as its stored string form; callers
// parse it via identity.ParseRole, keeping this adapter free of a
// dependency the domain doesn't require of it.
func (s *Store) GetTeamMemberships(ctx context.Context, principalID string) ([]layers.TeamMembership, error) {
	const query = `
		SELECT team_id, role
		FROM team_memberships
		WHERE principal_id = $1
	`
	rows, err := s.pool.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get team memberships: %w", err)
	}
	defer rows.Close()

	var memberships []layers.TeamMembership
	for rows.Next() {
		var m layers.TeamMembership
		if err := rows.Scan(&m.TeamID, &m.Role); err != nil {
			return nil, fmt.Errorf("sqlstore: scan team membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterate team memberships: %w", err)
	}
	return memberships, nil
}

// GetGenerationParent implements spec §6 query 5: a lighter-weight
// parent-id-only lookup than GetResource, for callers that need only
// the chain pointer, not the full row. No caller in this module uses
// it; the inheritance layers walk parents through GetResource.
func (s *Store) GetGenerationParent(ctx context.Context, generationID string) (string, bool, error) {
	const query = `SELECT COALESCE(parent_id, '') FROM resources WHERE id = $1`
	var parentID string
	err := s.pool.QueryRow(ctx, query, generationID).Scan(&parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, fmt.Errorf("sqlstore: get generation parent: %w", err)
	}
	return parentID, parentID != "", nil
}

// RecentGenerations implements the generation-list half of spec §6
// query 6 (paginated lookups for warmers): the principal's most
// recently owned generations, bounded per spec §4.5's "recent
// generations (bounded <= 20)".
func (s *Store) RecentGenerations(ctx context.Context, ownerID string, limit int) ([]string, error) {
	if limit <= 0 || limit > 20 {
		limit = 20
	}
	const query = `
		SELECT id
		FROM resources
		WHERE owner_id = $1 AND type = 'generation'
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: recent generations: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlstore: scan recent generation: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
