package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/audit"
	"github.com/velro/authz-core/internal/domain/authz"
)

// AnomalyCorrelation is layer 9 (advisory): asks the correlation
// rule-set whether recent events from this principal or IP already
// match a known pattern, raising threat level but never denying on
// its own (spec §4.2 layer 9, §4.2.3).
type AnomalyCorrelation struct {
	observer CorrelationObserver
}

// NewAnomalyCorrelation constructs the layer.
func NewAnomalyCorrelation(observer CorrelationObserver) *AnomalyCorrelation {
	return &AnomalyCorrelation{observer: observer}
}

func (l *AnomalyCorrelation) Type() authz.LayerType { return authz.LayerAnomalyCorrelation }
func (l *AnomalyCorrelation) Required() bool        { return false }

func (l *AnomalyCorrelation) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatGreen, Success: true}

	if l.observer == nil {
		result.ExecutionTime = time.Since(start)
		return result
	}

	now := time.Now().UTC()
	var kinds []string

	alerts, err := l.observer.EvaluatePrincipal(ctx, req.Principal.ID, now)
	if err != nil {
		// Advisory: escalate by one step and continue, never deny.
		result.Threat = authz.ThreatGreen.Escalate()
		result.ExecutionTime = time.Since(start)
		return result
	}
	for _, a := range alerts {
		kinds = append(kinds, string(a.Kind))
		result.Anomalies = append(result.Anomalies, alertKindToAnomaly(a.Kind))
	}

	if req.Security != nil && req.Security.ClientIP != "" {
		if alert, err := l.observer.EvaluateIP(ctx, req.Security.ClientIP, now); err == nil && alert != nil {
			kinds = append(kinds, string(alert.Kind))
			result.Anomalies = append(result.Anomalies, alertKindToAnomaly(alert.Kind))
		}
	}

	if len(kinds) > 0 {
		result.Threat = authz.ThreatRed
		result.Metadata = map[string]any{"matched_patterns": kinds}
	}

	result.ExecutionTime = time.Since(start)
	return result
}

// alertKindToAnomaly maps a correlation alert kind onto the layer
// result's anomaly taxonomy, the two closed enums spec §4.6 keeps in
// lockstep.
func alertKindToAnomaly(k audit.AlertKind) authz.AnomalyKind {
	switch k {
	case audit.AlertBruteForce:
		return authz.AnomalyBruteForce
	case audit.AlertEscalationPattern:
		return authz.AnomalyEscalation
	case audit.AlertInjectionPattern:
		return authz.AnomalyInjection
	case audit.AlertGeographicCluster:
		return authz.AnomalyGeoCluster
	default:
		return ""
	}
}
