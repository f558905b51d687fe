// Package authz contains the core domain types of the Authorization Core:
// the request/response envelope, per-layer results, the security context,
// and the closed error taxonomy every layer reports through.
package authz

import (
	"sort"
	"time"
)

// ThreatLevel is an ordinal aggregated across advisory layers.
type ThreatLevel int

const (
	ThreatGreen ThreatLevel = iota
	ThreatYellow
	ThreatOrange
	ThreatRed
)

// String renders the threat level's canonical name.
func (t ThreatLevel) String() string {
	switch t {
	case ThreatGreen:
		return "GREEN"
	case ThreatYellow:
		return "YELLOW"
	case ThreatOrange:
		return "ORANGE"
	case ThreatRed:
		return "RED"
	default:
		return "UNKNOWN"
	}
}

// Escalate returns the threat level raised by exactly one step, capped at
// ThreatRed. Used by advisory layer failures (spec §4.2.3).
func (t ThreatLevel) Escalate() ThreatLevel {
	if t >= ThreatRed {
		return ThreatRed
	}
	return t + 1
}

// Max returns the higher of two threat levels.
func Max(a, b ThreatLevel) ThreatLevel {
	if a > b {
		return a
	}
	return b
}

// GeolocationInfo is a sub-record attached to a SecurityContext by the
// context validator layer once it has resolved the client address.
type GeolocationInfo struct {
	CountryCode string
	Latitude    float64
	Longitude   float64
	IsVPN       bool
	IsTor       bool
}

// UserAgentInfo is a sub-record attached to a SecurityContext by the
// context validator layer once it has parsed the client's user-agent.
type UserAgentInfo struct {
	IsBot       bool
	IsAutomated bool
	Browser     string
	OS          string
}

// RequestSummary is a small, bounded record of a prior request from the
// same principal, used by the behavioral and anomaly-correlation layers.
type RequestSummary struct {
	Timestamp  time.Time
	IPAddress  string
	AccessType string
	ResourceID string
	Granted    bool
}

// SecurityFlag is a closed enumeration of the security conditions the
// context validator and anomaly-correlation layers may raise. Replaces
// duck-typed free-form incident strings with a fixed set (spec §9).
type SecurityFlag string

const (
	FlagVPNOrTor               SecurityFlag = "vpn_or_tor"
	FlagImpossibleTravel       SecurityFlag = "impossible_travel"
	FlagBotUserAgent           SecurityFlag = "bot_user_agent"
	FlagRapidIPChurn           SecurityFlag = "rapid_ip_churn"
	FlagPeriodicTiming         SecurityFlag = "periodic_timing"
	FlagExcessiveAdminAccess   SecurityFlag = "excessive_admin_access"
	FlagGeographicAnomaly      SecurityFlag = "geographic_anomaly"
	FlagBruteForce             SecurityFlag = "brute_force"
	FlagEscalationPattern      SecurityFlag = "escalation_pattern"
	FlagInjectionPattern       SecurityFlag = "injection_pattern"
	FlagGeographicCluster      SecurityFlag = "geographic_cluster"
	FlagSSRFAttempt            SecurityFlag = "ssrf_attempt"
	FlagCacheDegraded          SecurityFlag = "cache_degraded"
)

// SecurityContext is the per-request value carrying everything the
// advisory layers need to compute a risk score, plus a small bounded
// history of prior requests for behavioral analysis.
type SecurityContext struct {
	ClientIP    string
	UserAgent   string
	RequestTime time.Time
	SessionData map[string]string
	Headers     map[string]string

	// History is a bounded slice (oldest first) of prior request
	// summaries from the same principal; capped by the caller at
	// construction time (recommended 20-100 entries).
	History []RequestSummary

	// RiskScore is computed in [0,1] by the context-validation layer from
	// the weighted factors of spec §4.2 layer 3.
	RiskScore float64
	// Flags accumulates every SecurityFlag raised while computing
	// RiskScore or during anomaly correlation.
	Flags map[SecurityFlag]bool

	Geolocation *GeolocationInfo
	UserAgentInfo *UserAgentInfo
}

// NewSecurityContext builds an empty, ready-to-populate SecurityContext.
func NewSecurityContext(clientIP, userAgent string) *SecurityContext {
	return &SecurityContext{
		ClientIP:    clientIP,
		UserAgent:   userAgent,
		RequestTime: time.Now().UTC(),
		SessionData: make(map[string]string),
		Headers:     make(map[string]string),
		Flags:       make(map[SecurityFlag]bool),
	}
}

// SetFlag raises a security flag.
func (s *SecurityContext) SetFlag(f SecurityFlag) {
	if s.Flags == nil {
		s.Flags = make(map[SecurityFlag]bool)
	}
	s.Flags[f] = true
}

// HasFlag reports whether a security flag has been raised.
func (s *SecurityContext) HasFlag(f SecurityFlag) bool {
	return s.Flags[f]
}

// FlagList returns the raised flags as a stable-order slice, for
// inclusion in audit events.
func (s *SecurityContext) FlagList() []SecurityFlag {
	out := make([]SecurityFlag, 0, len(s.Flags))
	for f, set := range s.Flags {
		if set {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PushHistory appends a request summary, keeping at most max entries
// (oldest dropped first).
func (s *SecurityContext) PushHistory(summary RequestSummary, max int) {
	s.History = append(s.History, summary)
	if max > 0 && len(s.History) > max {
		s.History = s.History[len(s.History)-max:]
	}
}
