package layers

import (
	"context"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/velro/authz-core/internal/domain/authz"
)

// attackPatterns are the rejected SQL/XSS/path/command injection
// signatures checked against every string-valued metadata field (spec
// §4.2 layer 1). Deliberately conservative: a false positive here only
// denies a request, never grants one.
var attackPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(\bunion\b\s+\bselect\b|\bselect\b.+\bfrom\b|;\s*drop\s+table|--\s|/\*.*\*/)`),
	regexp.MustCompile(`(?i)<script[\s>]|javascript:|on\w+\s*=`),
	regexp.MustCompile(`\.\./|\.\.\\`),
	regexp.MustCompile("[;&|\x60]\\s*(rm |curl |wget |nc |bash |sh )"),
}

const (
	maxStringLength = 10000
)

// InputValidation is layer 1: validates identifiers as UUIDs (they are
// checked, not rewritten to canonical form), rejects embedded attack
// patterns, enforces length bounds.
type InputValidation struct {
	strict bool
}

// NewInputValidation constructs the layer. strict enables the
// version/variant-bit UUID check (spec §4.2 layer 1's "strict=true").
func NewInputValidation(strict bool) *InputValidation {
	return &InputValidation{strict: strict}
}

func (l *InputValidation) Type() authz.LayerType { return authz.LayerInputValidation }
func (l *InputValidation) Required() bool        { return true }

func (l *InputValidation) Run(_ context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatGreen}

	if err := l.validateID(req.Principal.ID); err != nil {
		return l.deny(result, start, err)
	}
	if err := l.validateID(req.Resource.ID); err != nil {
		return l.deny(result, start, err)
	}
	for k, v := range req.Metadata {
		if len(v) > maxStringLength {
			return l.deny(result, start, authz.NewCoreError(authz.KindInputMalformed, "metadata field exceeds max_string_length: "+k))
		}
		for _, pattern := range attackPatterns {
			if pattern.MatchString(v) {
				ce := authz.NewCoreError(authz.KindInputMalformed, "attack pattern detected in metadata field: "+k)
				lr := l.deny(result, start, ce)
				lr.Anomalies = append(lr.Anomalies, authz.AnomalyInjection)
				return lr
			}
		}
	}

	result.Success = true
	result.ExecutionTime = time.Since(start)
	return result
}

func (l *InputValidation) validateID(id string) *authz.CoreError {
	if id == "" {
		return authz.NewCoreError(authz.KindInputMalformed, "identifier is empty")
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return authz.NewCoreError(authz.KindInputMalformed, "identifier is not a canonical UUID")
	}
	if l.strict && parsed.Version() == 0 {
		return authz.NewCoreError(authz.KindInputMalformed, "identifier has no version/variant bits set")
	}
	return nil
}

func (l *InputValidation) deny(result authz.LayerResult, start time.Time, err *authz.CoreError) authz.LayerResult {
	result.Success = false
	result.Threat = authz.ThreatOrange
	result.Err = err
	result.ExecutionTime = time.Since(start)
	return result
}
