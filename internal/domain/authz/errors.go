package authz

import "fmt"

// ErrorKind is the closed taxonomy of §7: a fixed set of error categories
// rather than an open hierarchy of error classes.
type ErrorKind string

const (
	KindInputMalformed       ErrorKind = "input_malformed"
	KindRateLimited          ErrorKind = "rate_limited"
	KindUnauthorized         ErrorKind = "unauthorized"
	KindContextSuspicious    ErrorKind = "context_suspicious"
	KindCacheDegraded        ErrorKind = "cache_degraded"
	KindDependencyUnavailable ErrorKind = "dependency_unavailable"
	KindIntegrityViolation   ErrorKind = "integrity_violation"
	KindInternalError        ErrorKind = "internal_error"
)

// Severity mirrors the audit severities a CoreError is recorded at.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// defaultSeverity gives each ErrorKind the severity spec §7 assigns it
// absent any escalation (e.g. repeated-offense bumps).
var defaultSeverity = map[ErrorKind]Severity{
	KindInputMalformed:        SeverityWarning,
	KindRateLimited:           SeverityWarning,
	KindUnauthorized:          SeverityWarning,
	KindContextSuspicious:     SeverityError,
	KindCacheDegraded:         SeverityWarning,
	KindDependencyUnavailable: SeverityCritical,
	KindIntegrityViolation:    SeverityCritical,
	KindInternalError:         SeverityError,
}

// Subcategory is the closed set of Unauthorized reasons spec §7 names.
type Subcategory string

const (
	SubNotOwner                  Subcategory = "not_owner"
	SubInsufficientTeamPerms     Subcategory = "insufficient_team_permissions"
	SubPrivateProject            Subcategory = "private_project"
	SubInheritanceExhausted      Subcategory = "inheritance_exhausted"
	SubProjectVisibilityRestrict Subcategory = "project_visibility_restricted"
)

// CoreError is the single error type every layer and service reports
// through; it carries a closed Kind, an optional Subcategory, a
// correlation id for cross-referencing the audit trail, and a wrapped
// cause for %w-based chains.
type CoreError struct {
	Kind          ErrorKind
	Subcategory   Subcategory
	Message       string
	CorrelationID string
	Cause         error
}

func (e *CoreError) Error() string {
	if e.Subcategory != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Subcategory, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CoreError) Unwrap() error { return e.Cause }

// Severity returns the audit severity for this error's kind.
func (e *CoreError) Severity() Severity {
	if s, ok := defaultSeverity[e.Kind]; ok {
		return s
	}
	return SeverityError
}

// NewCoreError builds a CoreError of the given kind.
func NewCoreError(kind ErrorKind, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message}
}

// WithSubcategory returns a copy of the error with a subcategory set.
func (e *CoreError) WithSubcategory(sub Subcategory) *CoreError {
	c := *e
	c.Subcategory = sub
	return &c
}

// WithCorrelationID returns a copy of the error tagged with a correlation id.
func (e *CoreError) WithCorrelationID(id string) *CoreError {
	c := *e
	c.CorrelationID = id
	return &c
}

// Wrap builds a CoreError of the given kind wrapping cause.
func Wrap(kind ErrorKind, cause error, message string) *CoreError {
	return &CoreError{Kind: kind, Message: message, Cause: cause}
}
