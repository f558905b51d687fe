// Package cachewarmer implements the warming.Warmer port of spec §4.5:
// it resolves a planned warm-up request against the relational lookups
// and drives it through the cache engine's own miss-population path,
// so a warmed key is stored exactly as a real request would have left
// it (same TTL resolution, same tagging, same L1-then-L2 write).
package cachewarmer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/velro/authz-core/internal/domain/cache"
	"github.com/velro/authz-core/internal/domain/warmplan"
	"github.com/velro/authz-core/internal/service/layers"
)

// Engine is the narrow slice of cacheengine.Engine the warmer drives.
type Engine interface {
	Get(ctx context.Context, key cache.Key, principalID string, fn cache.FallbackFunc) (*cache.Entry, bool, error)
}

// Warmer resolves cache.KindResource/KindProject/KindTeam keys via the
// same relational lookups the orchestrator layers use, and leaves
// KindGeneration/KindSession/KindProfile/KindConfig warm-ups as a no-op
// miss: those kinds are either session-local (no relational backing) or
// not yet populated by a relational lookup port, so a warm request for
// them degrades to a harmless cache miss on next real access.
type Warmer struct {
	engine    Engine
	resources layers.ResourceLookup
	projects  layers.ProjectLookup
	teams     layers.TeamMembershipLookup
	logger    *slog.Logger
}

// New constructs a Warmer. engine may be nil at construction time and
// supplied later via SetEngine -- the cache engine and the warming
// planner are mutually referential (the engine notifies the planner on
// access, the planner dispatches warm-ups back through the engine), so
// one side must be wired after both are constructed. Any of the lookups
// may be nil, in which case warm requests for the kind it backs degrade
// to a no-op.
func New(engine Engine, resources layers.ResourceLookup, projects layers.ProjectLookup, teams layers.TeamMembershipLookup, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warmer{engine: engine, resources: resources, projects: projects, teams: teams, logger: logger}
}

// SetEngine wires the engine this warmer drives warm-ups through. Safe
// to call once after both the engine and the planner holding this
// warmer have been constructed.
func (w *Warmer) SetEngine(engine Engine) {
	w.engine = engine
}

// Warm implements warming.Warmer.
func (w *Warmer) Warm(ctx context.Context, req warmplan.Request) error {
	if w.engine == nil {
		return fmt.Errorf("cachewarmer: no engine wired")
	}

	key, err := cache.ParseKey(req.Key)
	if err != nil {
		return fmt.Errorf("cachewarmer: %w", err)
	}

	_, _, err = w.engine.Get(ctx, key, req.PrincipalID, func(ctx context.Context) (*cache.Entry, error) {
		entry, err := w.fetch(ctx, key)
		if err != nil || entry == nil {
			return entry, err
		}
		if req.Source == warmplan.SourcePredictive {
			entry.Tags = append(entry.Tags, cache.PredictiveTag())
		}
		return entry, nil
	})
	return err
}

func (w *Warmer) fetch(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	switch key.Kind {
	case cache.KindResource:
		return w.fetchResource(ctx, key)
	case cache.KindProject:
		return w.fetchProject(ctx, key)
	case cache.KindTeam:
		return w.fetchTeam(ctx, key)
	default:
		w.logger.Debug("cache warm skipped: no relational backing for kind", "kind", key.Kind)
		return nil, nil
	}
}

func (w *Warmer) fetchResource(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	if w.resources == nil {
		return nil, nil
	}
	res, err := w.resources.GetResource(ctx, key.RID)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		Key:         key,
		Value:       value,
		PrincipalID: key.UserID,
		ResourceID:  res.ID,
		Tags: []cache.Tag{
			cache.UserTag(key.UserID),
			cache.ResourceTag(res.ID),
		},
	}, nil
}

func (w *Warmer) fetchProject(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	if w.projects == nil {
		return nil, nil
	}
	proj, err := w.projects.GetProject(ctx, key.RID)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(proj)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		Key:         key,
		Value:       value,
		PrincipalID: key.UserID,
		ResourceID:  proj.ID,
		Tags: []cache.Tag{
			cache.UserTag(key.UserID),
			cache.ProjectTag(proj.ID),
		},
	}, nil
}

func (w *Warmer) fetchTeam(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	if w.teams == nil {
		return nil, nil
	}
	memberships, err := w.teams.GetTeamMemberships(ctx, key.UserID)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(memberships)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{
		Key:         key,
		Value:       value,
		PrincipalID: key.UserID,
		ResourceID:  key.RID,
		Tags: []cache.Tag{
			cache.UserTag(key.UserID),
			cache.TeamTag(key.RID),
		},
	}, nil
}
