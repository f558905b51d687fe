package layers

import (
	"fmt"
	"time"

	"context"

	"github.com/google/uuid"

	"github.com/velro/authz-core/internal/domain/audit"
	"github.com/velro/authz-core/internal/domain/authz"
)

// AuditEmission is layer 8 (required, but never denies on its own
// failure): builds a structured audit event from the chain's
// accumulated layer results and hands it to the emitter for
// asynchronous, best-effort delivery (spec §4.2, §4.6).
type AuditEmission struct {
	emitter AuditEmitter
}

// NewAuditEmission constructs the layer.
func NewAuditEmission(emitter AuditEmitter) *AuditEmission {
	return &AuditEmission{emitter: emitter}
}

func (l *AuditEmission) Type() authz.LayerType { return authz.LayerAuditEmission }
func (l *AuditEmission) Required() bool        { return true }

// Run never returns Success=false: a degraded emitter (spec §4.2 layer
// 8's "degraded logging is acceptable") is recorded in Metadata, not
// surfaced as a chain failure.
func (l *AuditEmission) Run(_ context.Context, req *authz.Request) authz.LayerResult {
	start := time.Now()
	result := authz.LayerResult{Layer: l.Type(), Threat: authz.ThreatGreen, Success: true}

	outcome := "granted"
	threat := authz.ThreatGreen
	emergency := false
	for _, lr := range req.Trace {
		threat = authz.Max(threat, lr.Threat)
		if lr.Err != nil && lr.Err.Kind == authz.KindUnauthorized {
			outcome = "denied"
		}
		if lr.Layer == authz.LayerEmergencyRecovery {
			emergency = true
		}
	}

	event := audit.NewEvent(uuid.NewString(), time.Now().UTC(), req.Principal.ID, outcome)
	event.EventType = "authorization_decision"
	event.ResourceID = req.Resource.ID
	event.Action = fmt.Sprintf("%s_%s", req.Access, req.Resource.Type)
	event.Threat = threat
	event.Layers = req.Trace
	if emergency {
		event.Severity = audit.SeverityCritical
	}
	if req.Security != nil {
		event.NetworkAddr = req.Security.ClientIP
		event.UserAgent = req.Security.UserAgent
		event.SecuritySummary = map[string]any{
			"risk_score": req.Security.RiskScore,
			"flags":      req.Security.FlagList(),
		}
	}

	if l.emitter != nil {
		l.emitter.Emit(event)
	} else {
		result.Metadata = map[string]any{"degraded": true}
	}

	result.ExecutionTime = time.Since(start)
	return result
}
