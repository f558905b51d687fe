// Package ttl contains the domain types of the Adaptive TTL Manager:
// per-key-pattern analytics, volatility categories, and the TTL
// configuration the manager adjusts over time.
package ttl

import "time"

// Volatility categorizes how quickly a key pattern's underlying data
// changes, selecting the base TTL defaults (spec §4.4, supplemented by
// original_source/caching/cache_key_manager.py's per-key-kind table).
type Volatility string

const (
	VolatilityVeryHigh Volatility = "very_high"
	VolatilityHigh     Volatility = "high"
	VolatilityMedium   Volatility = "medium"
	VolatilityLow      Volatility = "low"
	VolatilityVeryLow  Volatility = "very_low"
)

// Configuration is the TTL triple and bounds the manager maintains for
// one key pattern.
type Configuration struct {
	Pattern    string
	Volatility Volatility

	L1TTL time.Duration
	L2TTL time.Duration
	L3TTL time.Duration // zero if no L3 tier configured

	MinTTL time.Duration
	MaxTTL time.Duration

	LastAdjustedAt time.Time
}

// Clamp restricts d to [MinTTL, MaxTTL].
func (c Configuration) Clamp(d time.Duration) time.Duration {
	if c.MinTTL > 0 && d < c.MinTTL {
		return c.MinTTL
	}
	if c.MaxTTL > 0 && d > c.MaxTTL {
		return c.MaxTTL
	}
	return d
}

// Analytics is the rolling per-pattern data the adjustment rule consumes.
type Analytics struct {
	Pattern string

	AccessCount uint64
	HitCount    uint64
	MissCount   uint64

	// AccessTimes is a bounded rolling window (cap 100) of recent access
	// timestamps, used to derive accesses-per-minute.
	AccessTimes []time.Time
	// ResponseTimes is a bounded rolling window of recent response
	// latencies, used as a secondary performance signal.
	ResponseTimes []time.Duration

	// DataChangeEvents counts observed invalidations/writes against this
	// pattern, a proxy for true data volatility.
	DataChangeEvents uint64
}

// HitRate returns the observed hit rate, or 0 if there is no data yet.
func (a *Analytics) HitRate() float64 {
	if a.AccessCount == 0 {
		return 0
	}
	return float64(a.HitCount) / float64(a.AccessCount)
}

// AccessesPerMinute derives a rate from the bounded access-time window.
func (a *Analytics) AccessesPerMinute(now time.Time) float64 {
	if len(a.AccessTimes) < 2 {
		return 0
	}
	span := now.Sub(a.AccessTimes[0]).Minutes()
	if span <= 0 {
		return 0
	}
	return float64(len(a.AccessTimes)) / span
}

// PushAccess records an access timestamp, keeping at most 100 entries.
func (a *Analytics) PushAccess(t time.Time) {
	a.AccessTimes = append(a.AccessTimes, t)
	if len(a.AccessTimes) > 100 {
		a.AccessTimes = a.AccessTimes[len(a.AccessTimes)-100:]
	}
	a.AccessCount++
}

// PushResponseTime records a response latency, keeping at most 100 entries.
func (a *Analytics) PushResponseTime(d time.Duration) {
	a.ResponseTimes = append(a.ResponseTimes, d)
	if len(a.ResponseTimes) > 100 {
		a.ResponseTimes = a.ResponseTimes[len(a.ResponseTimes)-100:]
	}
}

// VolatilityDefaults gives the base (L1, L2) TTL pair for each
// volatility category, grounding original_source's per-key-kind table:
// session=very_high, generation=high, profile=low, config=very_low.
var VolatilityDefaults = map[Volatility]struct{ L1, L2 time.Duration }{
	VolatilityVeryHigh: {L1: 10 * time.Second, L2: 30 * time.Second},
	VolatilityHigh:     {L1: 30 * time.Second, L2: 2 * time.Minute},
	VolatilityMedium:   {L1: 2 * time.Minute, L2: 10 * time.Minute},
	VolatilityLow:      {L1: 10 * time.Minute, L2: 1 * time.Hour},
	VolatilityVeryLow:  {L1: 1 * time.Hour, L2: 24 * time.Hour},
}

// KeyKindVolatility maps a cache.Kind name to its default volatility,
// used when no per-pattern override has been learned yet.
var KeyKindVolatility = map[string]Volatility{
	"session":    VolatilityVeryHigh,
	"generation": VolatilityHigh,
	"resource":   VolatilityHigh,
	"project":    VolatilityMedium,
	"team":       VolatilityMedium,
	"profile":    VolatilityLow,
	"config":     VolatilityVeryLow,
}
