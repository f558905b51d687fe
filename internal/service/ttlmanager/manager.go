// Package ttlmanager implements the Adaptive TTL Manager of spec §4.4:
// it tracks per-key-pattern analytics and periodically recomputes each
// pattern's TTL configuration from frequency and hit-rate factors.
package ttlmanager

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/velro/authz-core/internal/domain/cache"
	"github.com/velro/authz-core/internal/domain/ttl"
)

const (
	// sensitivity bounds the combined adjustment factor to 1 ± sensitivity.
	sensitivity = 0.1
	// minSamples is the sample count below which a pattern is skipped by
	// the background adjustment pass.
	minSamples = 10
	// promotionThreshold is the minimum fractional factor movement
	// required for a new TTL to replace the stored one.
	promotionThreshold = 0.05
	// promotionCooldown is the minimum time between adjustments to the
	// same pattern.
	promotionCooldown = time.Hour
)

// Manager is the Adaptive TTL Manager. One RWMutex guards its state:
// RunAdjustmentPass and RecordAccess write, and Resolve reads, taking
// the write lock only to seed a pattern on first use.
type Manager struct {
	mu         sync.RWMutex
	configs    map[string]*ttl.Configuration
	analytics  map[string]*ttl.Analytics
	targetHit  float64
	logger     *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// New constructs a Manager. targetHitRate is the configured
// `overall_hit_rate_target` (spec §6 default 0.95) used by the
// performance factor.
func New(targetHitRate float64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		configs:   make(map[string]*ttl.Configuration),
		analytics: make(map[string]*ttl.Analytics),
		targetHit: targetHitRate,
		logger:    logger,
	}
}

// Resolve implements cacheengine.TTLResolver: returns the current
// (L1, L2) TTL pair for a key kind, seeding a default configuration
// from KeyKindVolatility on first use.
func (m *Manager) Resolve(kind cache.Kind) (l1, l2 time.Duration) {
	pattern := string(kind)

	m.mu.RLock()
	cfg, ok := m.configs[pattern]
	m.mu.RUnlock()
	if ok {
		return cfg.L1TTL, cfg.L2TTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg, ok := m.configs[pattern]; ok {
		return cfg.L1TTL, cfg.L2TTL
	}
	cfg = m.seedLocked(pattern)
	return cfg.L1TTL, cfg.L2TTL
}

func (m *Manager) seedLocked(pattern string) *ttl.Configuration {
	vol, ok := ttl.KeyKindVolatility[pattern]
	if !ok {
		vol = ttl.VolatilityMedium
	}
	base := ttl.VolatilityDefaults[vol]
	cfg := &ttl.Configuration{
		Pattern:    pattern,
		Volatility: vol,
		L1TTL:      base.L1,
		L2TTL:      base.L2,
		MinTTL:     base.L1 / 2,
		MaxTTL:     base.L2 * 4,
	}
	m.configs[pattern] = cfg
	m.analytics[pattern] = &ttl.Analytics{Pattern: pattern}
	return cfg
}

// RecordAccess feeds one access observation into a pattern's analytics:
// whether it was a hit, and the response time observed.
func (m *Manager) RecordAccess(pattern string, hit bool, responseTime time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.analytics[pattern]
	if !ok {
		m.seedLocked(pattern)
		a = m.analytics[pattern]
	}
	a.PushAccess(time.Now())
	a.PushResponseTime(responseTime)
	if hit {
		a.HitCount++
	} else {
		a.MissCount++
	}
}

// frequencyFactor maps accesses-per-minute onto [0.8, 1.3].
func frequencyFactor(accessesPerMinute float64) float64 {
	// Heuristic: 0 accesses/min -> 0.8 (shrink), 120/min -> 1.0 (steady),
	// 300+/min -> 1.3 (grow TTL to shed load).
	f := 0.8 + 0.5*math.Min(accessesPerMinute/300.0, 1.0)
	return clamp(f, 0.8, 1.3)
}

// performanceFactor maps observed hit rate against the target onto
// [0.8, 1.2].
func performanceFactor(hitRate, target float64) float64 {
	if target <= 0 {
		target = 0.95
	}
	return clamp(hitRate/target, 0.8, 1.2)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// adjust computes the promoted TTL pair for a pattern, applying the
// adjustment and promotion rules of spec §4.4. Returns ok=false if the
// promotion gates are not satisfied.
func (m *Manager) adjust(cfg *ttl.Configuration, a *ttl.Analytics, now time.Time) (l1, l2 time.Duration, ok bool) {
	if a.AccessCount < minSamples {
		return 0, 0, false
	}

	freq := frequencyFactor(a.AccessesPerMinute(now))
	perf := performanceFactor(a.HitRate(), m.targetHit)
	combined := clamp(freq*perf, 1-sensitivity, 1+sensitivity)

	movement := math.Abs(combined - 1.0)
	if movement < promotionThreshold {
		return 0, 0, false
	}
	if a.HitRate() < 0.9*m.targetHit {
		return 0, 0, false
	}
	if !cfg.LastAdjustedAt.IsZero() && now.Sub(cfg.LastAdjustedAt) < promotionCooldown {
		return 0, 0, false
	}

	newL1 := cfg.Clamp(time.Duration(float64(cfg.L1TTL) * combined))
	newL2 := cfg.Clamp(time.Duration(float64(cfg.L2TTL) * combined))
	return newL1, newL2, true
}

// RunAdjustmentPass iterates all patterns and applies the adjustment
// rule, publishing a log line per promoted pattern (stand-in for the
// "optimal_ttl_calculated" observability event of spec §4.4).
func (m *Manager) RunAdjustmentPass(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pattern, cfg := range m.configs {
		a := m.analytics[pattern]
		l1, l2, ok := m.adjust(cfg, a, now)
		if !ok {
			continue
		}
		cfg.L1TTL, cfg.L2TTL = l1, l2
		cfg.LastAdjustedAt = now
		m.logger.Info("optimal_ttl_calculated", "pattern", pattern, "l1_ttl", l1, "l2_ttl", l2)
	}
}

// Start runs the background adjustment loop at the spec's 5-minute
// cadence until the context is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.stop = make(chan struct{})
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case t := <-ticker.C:
				m.RunAdjustmentPass(t)
			}
		}
	}()
}

// Stop halts the background loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.stop == nil {
		return
	}
	close(m.stop)
	<-m.done
}
