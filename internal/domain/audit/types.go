// Package audit contains the domain types of the Audit Event Pipeline:
// the event shape, severities, CEF formatting, and correlation alerts.
// Adapted from the teacher's tool-call audit record into the
// authorization-decision event shape of spec §4.6.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
)

// Severity mirrors authz.Severity; kept as a distinct type so audit
// sinks depend only on this package, not on the authz layer package.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

func fromCoreSeverity(s authz.Severity) Severity {
	switch s {
	case authz.SeverityInfo:
		return SeverityInfo
	case authz.SeverityWarning:
		return SeverityWarning
	case authz.SeverityCritical:
		return SeverityCritical
	default:
		return SeverityError
	}
}

// Event is one authorization-decision audit event (spec §4.6).
type Event struct {
	AuditID       string
	EventType     string
	Severity      Severity
	Timestamp     time.Time
	PrincipalID   string
	ResourceID    string
	NetworkAddr   string
	UserAgent     string
	// Action is "<access>_<resource_type>", e.g. "read_generation".
	Action        string
	Outcome       string // "granted" | "denied" | "error"
	Threat        authz.ThreatLevel
	Layers        []authz.LayerResult
	// PerfMetrics keys are stable identifiers (e.g. "total_ms",
	// "cache_hit_rate") kept as a flat map for sink-agnostic encoding.
	PerfMetrics   map[string]float64
	SecuritySummary map[string]any
	CorrelationID string
	Remediation   []string

	// Checksum is SHA-256 of (audit_id, timestamp, principal_id, outcome),
	// computed by NewEvent and re-verified by VerifyChecksum.
	Checksum string
}

// NewEvent builds an Event and computes its tamper-evident checksum.
func NewEvent(auditID string, ts time.Time, principalID, outcome string) *Event {
	e := &Event{
		AuditID:     auditID,
		Timestamp:   ts,
		PrincipalID: principalID,
		Outcome:     outcome,
	}
	e.Checksum = computeChecksum(auditID, ts, principalID, outcome)
	return e
}

func computeChecksum(auditID string, ts time.Time, principalID, outcome string) string {
	h := sha256.New()
	h.Write([]byte(auditID))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(principalID))
	h.Write([]byte(outcome))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChecksum recomputes the checksum and reports whether it matches
// the stored value, detecting tampering or corruption in transit.
func (e *Event) VerifyChecksum() bool {
	return e.Checksum == computeChecksum(e.AuditID, e.Timestamp, e.PrincipalID, e.Outcome)
}

// SeverityFromError derives the event severity to use for a CoreError,
// applying §7's default per-kind severity.
func SeverityFromError(err *authz.CoreError) Severity {
	if err == nil {
		return SeverityInfo
	}
	return fromCoreSeverity(err.Severity())
}

// CEFHeader renders the Common Event Format header spec §6 mandates:
// CEF:0|Velro|AuthorizationSystem|1.0|<event_type>|<action>|<severity>.
func (e *Event) CEFHeader() string {
	return fmt.Sprintf("CEF:0|Velro|AuthorizationSystem|1.0|%s|%s|%s", e.EventType, e.Action, e.Severity)
}

// AlertKind is the closed set of correlation patterns spec §4.6 detects.
type AlertKind string

const (
	AlertBruteForce       AlertKind = "brute_force"
	AlertEscalationPattern AlertKind = "escalation_pattern"
	AlertInjectionPattern AlertKind = "injection_pattern"
	AlertGeographicCluster AlertKind = "geographic_cluster"
)

// Alert is produced by the background correlation rule-set when a
// pattern across recent events matches.
type Alert struct {
	Kind                AlertKind
	Severity            Severity
	AffectedPrincipals  []string
	AffectedResources   []string
	RecommendedActions  []string
	DetectedAt          time.Time
	Acknowledged        bool
}
