// Package warming implements the Cache Warming Planner of spec §4.5:
// synchronous triggered warmers fired on login/generation-creation/
// team-access events, and a background predictive warmer scoring each
// principal's recent access sequence.
package warming

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/velro/authz-core/internal/domain/warmplan"
)

// Warmer executes a planned warm-up request against the cache engine;
// implemented by whatever component owns the concrete fetch for a key
// (profile loader, session loader, authorization re-run, ...).
type Warmer interface {
	Warm(ctx context.Context, req warmplan.Request) error
}

// Planner is the Cache Warming Planner.
type Planner struct {
	mu     sync.Mutex
	states map[string]*warmplan.PrincipalWarmState

	warmer Warmer
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Planner that dispatches scheduled warm-ups to warmer.
func New(warmer Warmer, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		states: make(map[string]*warmplan.PrincipalWarmState),
		warmer: warmer,
		logger: logger,
	}
}

func (p *Planner) stateLocked(principalID string) *warmplan.PrincipalWarmState {
	s, ok := p.states[principalID]
	if !ok {
		s = &warmplan.PrincipalWarmState{PrincipalID: principalID}
		p.states[principalID] = s
	}
	return s
}

// OnAccess implements cacheengine.WarmScheduler: records one access in
// the principal's bounded sequence. Hits against predictively warmed
// keys are counted separately, by RecordPredictiveHit.
func (p *Planner) OnAccess(principalID, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stateLocked(principalID)
	s.PushAccess(warmplan.AccessEvent{Key: key, Timestamp: time.Now()})
}

// RecordPredictiveHit marks a hit against a key that was warmed
// predictively, feeding warming_hit_rate.
func (p *Planner) RecordPredictiveHit(principalID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stateLocked(principalID)
	s.PredictiveHits++
}

// TriggerLogin synchronously schedules the login warm-up bundle: the
// principal's profile, session object, recent generations (≤20), team
// memberships, authorization context. Callers supply the resolved keys
// since the planner has no knowledge of the relational store schema.
func (p *Planner) TriggerLogin(ctx context.Context, principalID string, keys []string) {
	p.dispatch(ctx, principalID, keys, warmplan.SourceTriggered)
}

// TriggerGenerationCreate schedules the predicted companion keys for a
// newly created generation (its read-authorization key and media
// metadata key).
func (p *Planner) TriggerGenerationCreate(ctx context.Context, principalID string, keys []string) {
	p.dispatch(ctx, principalID, keys, warmplan.SourceTriggered)
}

// TriggerTeamAccess schedules team-member and team-shared-resource keys.
func (p *Planner) TriggerTeamAccess(ctx context.Context, principalID string, keys []string) {
	p.dispatch(ctx, principalID, keys, warmplan.SourceTriggered)
}

func (p *Planner) dispatch(ctx context.Context, principalID string, keys []string, source warmplan.Source) {
	if p.warmer == nil {
		return
	}
	now := time.Now()
	for _, key := range keys {
		req := warmplan.Request{Key: key, PrincipalID: principalID, Source: source, ScheduledAt: now}
		if err := p.warmer.Warm(ctx, req); err != nil {
			p.logger.Warn("cache warm failed", "key", key, "principal", principalID, "error", err)
		}
	}

	p.mu.Lock()
	s := p.stateLocked(principalID)
	if source == warmplan.SourcePredictive {
		s.PredictiveWarms += uint64(len(keys))
	}
	p.mu.Unlock()
}

// predict scores a principal's bounded access sequence using the
// frequency*(1+growth)*recency formula (grounded on
// O-tero-Distributed-Caching-System/warming/predictor.go's
// DefaultPredictor), returning the top `limit` predicted keys.
func predict(s *warmplan.PrincipalWarmState, now time.Time, limit int) []string {
	type scored struct {
		key   string
		score float64
	}

	counts := make(map[string]int)
	last := make(map[string]time.Time)
	first := make(map[string]time.Time)
	recentCutoff := now.Add(-time.Hour)
	recentCounts := make(map[string]int)

	for _, ev := range s.AccessSequence {
		counts[ev.Key]++
		if t, ok := first[ev.Key]; !ok || ev.Timestamp.Before(t) {
			first[ev.Key] = ev.Timestamp
		}
		if t, ok := last[ev.Key]; !ok || ev.Timestamp.After(t) {
			last[ev.Key] = ev.Timestamp
		}
		if ev.Timestamp.After(recentCutoff) {
			recentCounts[ev.Key]++
		}
	}

	var scores []scored
	for key, total := range counts {
		hoursTracked := now.Sub(first[key]).Hours()
		if hoursTracked <= 0 {
			hoursTracked = 1
		}
		frequency := float64(total) / hoursTracked
		growth := 0.0
		if frequency > 0 {
			growth = (float64(recentCounts[key]) - frequency) / frequency
		}
		sinceLast := now.Sub(last[key]).Minutes()
		recency := 1.0
		switch {
		case sinceLast < 5:
			recency = 2.0
		case sinceLast < 30:
			recency = 1.5
		}
		score := frequency * (1.0 + growth) * recency
		if score > 0 {
			scores = append(scores, scored{key: key, score: score})
		}
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if limit > 0 && limit < len(scores) {
		scores = scores[:limit]
	}

	keys := make([]string, len(scores))
	for i, sc := range scores {
		keys[i] = sc.key
	}
	return keys
}

// runPredictivePass iterates all tracked principals, decays their
// effectiveness, and schedules the top-5 predicted keys for those
// eligible (effectiveness ≥ 0.3, not warmed in the last 30 minutes).
func (p *Planner) runPredictivePass(ctx context.Context, now time.Time) {
	p.mu.Lock()
	var eligible []*warmplan.PrincipalWarmState
	for _, s := range p.states {
		s.DecayEffectiveness(now)
		if s.EligibleForWarming(now) {
			eligible = append(eligible, s)
		}
	}
	p.mu.Unlock()

	for _, s := range eligible {
		keys := predict(s, now, 5)
		if len(keys) == 0 {
			continue
		}
		p.dispatch(ctx, s.PrincipalID, keys, warmplan.SourcePredictive)
		p.mu.Lock()
		s.LastWarmedAt = now
		p.mu.Unlock()
	}
}

// Start runs the predictive background loop until the context is
// cancelled or Stop is called. Cadence of 5 minutes matches the TTL
// manager's background cadence, a reasonable period for a ≤100-entry
// access-sequence heuristic.
func (p *Planner) Start(ctx context.Context) {
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case t := <-ticker.C:
				p.runPredictivePass(ctx, t)
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (p *Planner) Stop() {
	if p.stop == nil {
		return
	}
	close(p.stop)
	<-p.done
}
