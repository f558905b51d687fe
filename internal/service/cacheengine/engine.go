// Package cacheengine implements the Hierarchical Cache Engine of spec
// §4.3: an L1 in-process tier, a hot-keys shortcut, an L2 shared tier,
// tag-based invalidation, and per-principal generation bumps, all
// behind a single Engine that callers drive through Get/Set/Invalidate.
package cacheengine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/velro/authz-core/internal/domain/cache"
)

// TTLResolver supplies the Adaptive TTL Manager's current (L1, L2) TTL
// pair for a key kind; implemented by internal/service/ttlmanager. Kept
// as a narrow port here so cacheengine does not import the ttlmanager
// service package.
type TTLResolver interface {
	Resolve(kind cache.Kind) (l1, l2 time.Duration)
}

// WarmScheduler lets the engine notify the warming planner that a key
// was accessed, and that a hit landed against a predictively warmed
// entry, so triggers and warming_hit_rate accounting can happen
// without the engine importing the warming service package. Implemented
// by internal/service/warming.
type WarmScheduler interface {
	OnAccess(principalID, key string)
	RecordPredictiveHit(principalID string)
}

// hotPromoteThreshold is the access count an L1 entry must reach before
// the engine promotes it into the hot-keys shortcut (spec §4.3 step 2:
// "populated by high-priority writes" -- here, keys proven hot by
// repeated access rather than every write).
const hotPromoteThreshold = 5

// Engine is the Hierarchical Cache Engine.
type Engine struct {
	hot  cache.HotKeyStore
	l1   cache.L1Store
	l2   cache.L2Store
	gens cache.GenerationStore

	ttl  TTLResolver
	warm WarmScheduler

	group   singleflight.Group
	metrics *Metrics
	logger  *slog.Logger

	// degraded is set when the L2 store has been observed unreachable;
	// the engine then serves strictly from L1 (spec §7 CacheDegraded).
	degraded bool
}

// New constructs an Engine. ttl and warm may be nil; a nil TTLResolver
// falls back to a fixed 2m L1 / 10m L2 pair for every key kind, and a
// nil WarmScheduler disables warm-on-access notification.
func New(hot cache.HotKeyStore, l1 cache.L1Store, l2 cache.L2Store, gens cache.GenerationStore, ttlResolver TTLResolver, warm WarmScheduler, metrics *Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		hot:     hot,
		l1:      l1,
		l2:      l2,
		gens:    gens,
		ttl:     ttlResolver,
		warm:    warm,
		metrics: metrics,
		logger:  logger,
	}
}

// SetDegraded marks the engine's L2-availability state, used by the
// orchestrator when it observes a DependencyUnavailable error talking
// to L2 directly (e.g. during invalidation).
func (e *Engine) SetDegraded(v bool) { e.degraded = v }

// Degraded reports whether the engine is currently operating L1-only.
func (e *Engine) Degraded() bool { return e.degraded }

func (e *Engine) recordOp(tier, result string, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Operations.WithLabelValues(tier, result).Inc()
	e.metrics.LatencySecs.WithLabelValues(tier).Observe(d.Seconds())
}

// Get implements the get protocol of spec §4.3: hot-keys, then L1, then
// L2 (unless degraded), with write-through to L1 on an L2 hit, and
// falling back to fn on a total miss with at-most-once invocation via
// singleflight.
func (e *Engine) Get(ctx context.Context, key cache.Key, principalID string, fn cache.FallbackFunc) (*cache.Entry, bool, error) {
	k := key.String()

	if gen, err := e.gens.Current(ctx, principalID); err == nil && gen != key.Gen {
		// Stale generation embedded in the key: treat as absent per the
		// cache-entry invariant even if a stale copy lingers in a tier.
		return e.miss(ctx, key, fn)
	}

	start := time.Now()
	if e.hot != nil {
		if entry, ok := e.hot.Get(k); ok && entry.IsLive(start) {
			entry.Touch(start)
			e.recordOp("hot", "hit", time.Since(start))
			e.notifyAccess(principalID, k)
			e.notifyPredictiveHit(principalID, entry)
			return entry, true, nil
		}
	}

	if entry, ok := e.l1.Get(k); ok {
		if entry.IsLive(start) {
			entry.Touch(time.Now())
			e.recordOp("l1", "hit", time.Since(start))
			e.notifyAccess(principalID, k)
			e.notifyPredictiveHit(principalID, entry)
			e.promoteHot(entry)
			return entry, true, nil
		}
		e.l1.Delete(k)
	}
	e.recordOp("l1", "miss", time.Since(start))

	if !e.degraded {
		l2Start := time.Now()
		entry, ok, err := e.l2.Get(ctx, k)
		if err != nil {
			e.logger.Warn("cache l2 get failed, degrading", "error", err)
			e.degraded = true
		} else if ok && entry.IsLive(time.Now()) {
			e.recordOp("l2", "hit", time.Since(l2Start))
			l1TTL, _ := e.resolveTTL(key.Kind)
			entry.ExpiresAt = time.Now().Add(l1TTL)
			_ = e.l1.Set(entry)
			e.notifyAccess(principalID, k)
			e.notifyPredictiveHit(principalID, entry)
			return entry, true, nil
		} else {
			e.recordOp("l2", "miss", time.Since(l2Start))
		}
	}

	return e.miss(ctx, key, fn)
}

func (e *Engine) miss(ctx context.Context, key cache.Key, fn cache.FallbackFunc) (*cache.Entry, bool, error) {
	if fn == nil {
		return nil, false, nil
	}

	k := key.String()
	v, err, _ := e.group.Do(k, func() (interface{}, error) {
		entry, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			return nil, nil
		}
		if err := e.Set(ctx, entry); err != nil {
			e.logger.Warn("cache set after miss failed", "error", err)
		}
		return entry, nil
	})
	if err != nil {
		return nil, false, err
	}
	if v == nil {
		return nil, false, nil
	}
	return v.(*cache.Entry), false, nil
}

func (e *Engine) notifyAccess(principalID, key string) {
	if e.warm != nil {
		e.warm.OnAccess(principalID, key)
	}
}

// notifyPredictiveHit credits warming_hit_rate when a hit lands against
// an entry the warming planner populated speculatively.
func (e *Engine) notifyPredictiveHit(principalID string, entry *cache.Entry) {
	if e.warm != nil && entry.HasTag(cache.PredictiveTag()) {
		e.warm.RecordPredictiveHit(principalID)
	}
}

// promoteHot lifts entry into the hot-keys shortcut once it has proven
// itself by repeated L1 access (spec §4.3 step 2).
func (e *Engine) promoteHot(entry *cache.Entry) {
	if e.hot == nil || entry.AccessCount < hotPromoteThreshold {
		return
	}
	if err := e.hot.Set(entry); err != nil {
		e.logger.Warn("cache hot-key promotion failed", "key", entry.Key.String(), "error", err)
	}
}

func (e *Engine) resolveTTL(kind cache.Kind) (l1, l2 time.Duration) {
	if e.ttl != nil {
		return e.ttl.Resolve(kind)
	}
	return 2 * time.Minute, 10 * time.Minute
}

// Set writes entry to L1 then L2 (spec §4.3 set protocol: "atomically
// from the caller's view, L1 first, then L2"), deriving TTLs from the
// TTL manager and writing tags to the L2 tag index.
func (e *Engine) Set(ctx context.Context, entry *cache.Entry) error {
	l1TTL, l2TTL := e.resolveTTL(entry.Key.Kind)
	now := time.Now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.ExpiresAt.IsZero() {
		entry.ExpiresAt = now.Add(l1TTL)
	}

	if err := e.l1.Set(entry); err != nil {
		return err
	}

	if e.degraded {
		return nil
	}

	if err := e.l2.Set(ctx, entry, int64(l2TTL.Seconds())); err != nil {
		e.logger.Warn("cache l2 set failed, degrading", "error", err)
		e.degraded = true
		return nil
	}
	for _, tag := range entry.Tags {
		if err := e.l2.TagAdd(ctx, tag, entry.Key.String()); err != nil {
			e.logger.Warn("cache tag index write failed", "tag", tag, "error", err)
		}
	}
	return nil
}

// InvalidateTag removes every entry carrying tag from both tiers.
func (e *Engine) InvalidateTag(ctx context.Context, tag cache.Tag) error {
	e.l1.DeleteByTag(tag)

	if e.degraded {
		return nil
	}
	keys, err := e.l2.TagMembers(ctx, tag)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := e.l2.Delete(ctx, key); err != nil {
			e.logger.Warn("cache l2 delete during tag invalidation failed", "key", key, "error", err)
			continue
		}
		_ = e.l2.TagRemove(ctx, tag, key)
	}
	return nil
}

// InvalidatePattern removes every entry whose key matches a glob
// pattern from L1. L2 pattern invalidation is not attempted: the shared
// store has no native glob scan primitive (spec §6 lists only
// GET/SET/DEL/SADD/SMEMBERS/SREM/stream/sorted-set), so pattern
// invalidation is an L1-local convenience; cross-process invalidation
// always goes through tags or generation bumps.
func (e *Engine) InvalidatePattern(pattern string) []string {
	return e.l1.DeleteByPattern(pattern)
}

// BumpGeneration atomically increments principalID's generation
// counter, logically invalidating every previously issued key for that
// principal in O(1) (spec §4.3 invalidation).
func (e *Engine) BumpGeneration(ctx context.Context, principalID string) (uint64, error) {
	return e.gens.Bump(ctx, principalID)
}
