// Package ratelimit provides rate limiting domain types.
package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitConfig defines the rate limiting parameters.
type RateLimitConfig struct {
	// Rate is the number of allowed events in the period.
	Rate int

	// Burst is the maximum number of events that can occur at once.
	// Burst should be >= Rate for meaningful operation.
	Burst int

	// Period is the time window for the rate limit.
	Period time.Duration
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of remaining requests in the current window.
	Remaining int

	// RetryAfter is the duration until the next request will be allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration

	// ResetAfter is the duration until the rate limit resets.
	ResetAfter time.Duration
}

// KeyType identifies the type of rate limit key.
type KeyType string

const (
	// KeyTypeIP is for IP-based rate limiting.
	KeyTypeIP KeyType = "ip"

	// KeyTypeUser is for user/API key-based rate limiting.
	KeyTypeUser KeyType = "user"
)

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns a structured rate limit key.
// Format: "ratelimit:{type}:{value}"
// Examples:
//   - FormatKey(KeyTypeIP, "192.168.1.1") -> "ratelimit:ip:192.168.1.1"
//   - FormatKey(KeyTypeUser, "user-123") -> "ratelimit:user:user-123"
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}

// Scope is the rate-limit category a request is checked against, per
// the endpoint categories of spec §4.2 layer 2 and the `rate_limits`
// configuration map of §6.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopePrincipal  Scope = "principal"
	ScopeIP         Scope = "ip"
	ScopeAuth       Scope = "auth"
	ScopeSensitive  Scope = "sensitive"
	ScopeUpload     Scope = "upload"
	ScopeGeneration Scope = "generation"
)

// Limits holds the rate/window pair for one scope, taken from the
// `rate_limits` configuration map.
type Limits struct {
	Scope  Scope
	Rate   int
	Window time.Duration
}

// DefaultLimits are the values named in spec §6's `rate_limits` map.
var DefaultLimits = map[Scope]Limits{
	ScopeGlobal:     {Scope: ScopeGlobal, Rate: 1000, Window: time.Hour},
	ScopePrincipal:  {Scope: ScopePrincipal, Rate: 100, Window: time.Minute},
	ScopeIP:         {Scope: ScopeIP, Rate: 500, Window: time.Minute},
	ScopeAuth:       {Scope: ScopeAuth, Rate: 10, Window: 15 * time.Minute},
	ScopeSensitive:  {Scope: ScopeSensitive, Rate: 50, Window: time.Hour},
	ScopeUpload:     {Scope: ScopeUpload, Rate: 20, Window: time.Hour},
	ScopeGeneration: {Scope: ScopeGeneration, Rate: 100, Window: time.Hour},
}

// WindowKey is a fixed-window counter key: (scope, identifier,
// window_start) where window_start = floor(now/window) * window,
// per spec §5. Counters live in the L2 store keyed by this string, with
// a TTL equal to the window.
type WindowKey struct {
	Scope       Scope
	Identifier  string
	WindowStart int64 // unix seconds
}

// String renders the canonical fixed-window counter key.
func (w WindowKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, w.Scope, w.Identifier, w.WindowStart)
}

// FixedWindowKey computes the window key for identifier under scope at
// time now, given the scope's window size.
func FixedWindowKey(scope Scope, identifier string, now time.Time, window time.Duration) WindowKey {
	secs := int64(window.Seconds())
	if secs <= 0 {
		secs = 1
	}
	start := (now.Unix() / secs) * secs
	return WindowKey{Scope: scope, Identifier: identifier, WindowStart: start}
}

// ThreatMultiplier returns the downward adjustment applied to a scope's
// rate as threat level rises, per spec §4.2 layer 2 ("adjusts limits
// downward by a multiplier as threat level rises"). 1.0 means no
// adjustment.
func ThreatMultiplier(level int) float64 {
	switch {
	case level >= 3: // RED
		return 0.1
	case level == 2: // ORANGE
		return 0.4
	case level == 1: // YELLOW
		return 0.7
	default:
		return 1.0
	}
}
