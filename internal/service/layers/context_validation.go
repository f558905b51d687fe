package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
)

// ContextValidation is layer 3 (advisory): computes a weighted risk
// score from IP reputation, geolocation anomaly, user-agent analysis,
// behavioral pattern, and threat-intel signals, flagging the specific
// conditions observed.
type ContextValidation struct {
	scorer RiskScorer
}

// NewContextValidation constructs the layer against a RiskScorer
// (CEL-backed; see internal/adapter/outbound/cel).
func NewContextValidation(scorer RiskScorer) *ContextValidation {
	return &ContextValidation{scorer: scorer}
}

func (l *ContextValidation) Type() authz.LayerType { return authz.LayerContextValidation }
func (l *ContextValidation) Required() bool        { return false }

func (l *ContextValidation) Run(ctx context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatGreen}

	score, flags, err := l.scorer.Score(ctx, req.Security)
	if err != nil {
		result.Success = false
		result.Threat = authz.ThreatYellow
		result.Err = authz.Wrap(authz.KindContextSuspicious, err, "risk scoring failed")
		result.ExecutionTime = time.Since(start)
		return result
	}

	req.Security.RiskScore = score
	for _, f := range flags {
		req.Security.SetFlag(f)
	}

	result.Success = true
	result.Threat = thresholdToThreat(score)
	for _, f := range flags {
		result.Anomalies = append(result.Anomalies, flagToAnomaly(f))
	}
	result.Metadata = map[string]any{"risk_score": score}
	result.ExecutionTime = time.Since(start)
	return result
}

// thresholdToThreat maps the [0,1] risk score onto the four-level
// threat scale.
func thresholdToThreat(score float64) authz.ThreatLevel {
	switch {
	case score >= 0.85:
		return authz.ThreatRed
	case score >= 0.6:
		return authz.ThreatOrange
	case score >= 0.3:
		return authz.ThreatYellow
	default:
		return authz.ThreatGreen
	}
}

func flagToAnomaly(f authz.SecurityFlag) authz.AnomalyKind {
	switch f {
	case authz.FlagImpossibleTravel, authz.FlagGeographicAnomaly:
		return authz.AnomalyGeographic
	case authz.FlagEscalationPattern:
		return authz.AnomalyEscalation
	case authz.FlagInjectionPattern:
		return authz.AnomalyInjection
	case authz.FlagGeographicCluster:
		return authz.AnomalyGeoCluster
	case authz.FlagBruteForce:
		return authz.AnomalyBruteForce
	case authz.FlagSSRFAttempt:
		return authz.AnomalySSRFAttempt
	default:
		return ""
	}
}
