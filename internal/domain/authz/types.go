package authz

import (
	"time"

	"github.com/velro/authz-core/internal/domain/identity"
	"github.com/velro/authz-core/internal/domain/resource"
)

// LayerType identifies one of the ten fixed orchestrator layers.
type LayerType string

const (
	LayerInputValidation     LayerType = "input_validation"
	LayerRateLimiting        LayerType = "rate_limiting"
	LayerContextValidation   LayerType = "context_validation"
	LayerAccessControl       LayerType = "access_control"
	LayerInheritance         LayerType = "inheritance"
	LayerInheritanceDepth    LayerType = "inheritance_depth_guard"
	LayerMediaAuthorization  LayerType = "media_authorization"
	LayerAuditEmission       LayerType = "audit_emission"
	LayerAnomalyCorrelation  LayerType = "anomaly_correlation"
	LayerEmergencyRecovery   LayerType = "emergency_recovery"
)

// AuthorizationMethod names the specific path by which access was granted.
type AuthorizationMethod string

const (
	MethodDirectOwnership  AuthorizationMethod = "DIRECT_OWNERSHIP"
	MethodProjectOwnership AuthorizationMethod = "PROJECT_OWNERSHIP"
	MethodTeamMembership   AuthorizationMethod = "TEAM_MEMBERSHIP"
	MethodPublicVisibility AuthorizationMethod = "PUBLIC_VISIBILITY"
	MethodInheritance      AuthorizationMethod = "INHERITANCE"
	MethodEmergency        AuthorizationMethod = "EMERGENCY_FALLBACK"
	MethodFastLane         AuthorizationMethod = "FAST_LANE"
)

// AnomalyKind is a closed set of anomaly detections a layer may attach to
// its LayerResult, consumed by the anomaly-correlation layer and audit
// pipeline's correlation rules.
type AnomalyKind string

const (
	AnomalyGeographic    AnomalyKind = "GEOGRAPHIC_ANOMALY"
	AnomalySSRFAttempt   AnomalyKind = "SSRF_ATTEMPT"
	AnomalyBruteForce    AnomalyKind = "BRUTE_FORCE"
	AnomalyEscalation    AnomalyKind = "ESCALATION_PATTERN"
	AnomalyInjection     AnomalyKind = "INJECTION_PATTERN"
	AnomalyGeoCluster    AnomalyKind = "GEOGRAPHIC_CLUSTER"
)

// MediaGrant is the signed, time-bounded access grant issued by the media
// authorization layer (spec §4.2.2).
type MediaGrant struct {
	GrantID      string
	PrincipalID  string
	ResourceID   string
	Operations   []resource.AccessType
	ExpiresAt    time.Time
	SignedURLs   []string
}

// Request is the input to the orchestrator: (principal, resource ref,
// resource type, access type, security context, additional metadata).
type Request struct {
	Principal *identity.Principal
	Resource  resource.Ref
	Access    resource.AccessType

	Security *SecurityContext

	// MediaGrantRequested, when true, runs the media authorization layer
	// and asks for a MediaGrant in the response.
	MediaGrantRequested bool
	// ExpiresIn bounds the requested grant's lifetime; the layer clamps
	// it to the configured default (1h) as a ceiling, per caller request.
	ExpiresIn time.Duration

	// Metadata carries caller-supplied values inspected by input
	// validation and SSRF-relevant layers (e.g. webhook_url).
	Metadata map[string]string

	// ContextHash is a stable hash of the security context used for
	// idempotence keying (principal, resource, access, gen-counter,
	// context-hash).
	ContextHash string

	// Trace accumulates the result of every layer run so far in the
	// current chain. The orchestrator appends to it after each layer
	// completes; audit emission and anomaly correlation read it back to
	// summarize the chain without re-running earlier layers.
	Trace []LayerResult
}

// LayerResult is the uniform output every layer produces.
type LayerResult struct {
	Layer         LayerType
	Success       bool
	ExecutionTime time.Duration
	Threat        ThreatLevel
	Anomalies     []AnomalyKind
	CacheHit      bool
	Metadata      map[string]any
	Err           *CoreError
}

// Response is the orchestrator's output: (granted, threat level,
// per-layer results, execution time, optional media grant, audit
// correlation id, cache-hit flag, system used).
type Response struct {
	Granted       bool
	Threat        ThreatLevel
	Method        AuthorizationMethod
	DenialReason  string
	Layers        []LayerResult
	ExecutionTime time.Duration
	MediaGrant    *MediaGrant
	CorrelationID string
	CacheHit      bool
	// SystemUsed distinguishes the normal orchestrator path from the
	// Emergency Fallback path in the response, per spec §3.
	SystemUsed string
}

const (
	SystemOrchestrator = "orchestrator"
	SystemEmergency    = "emergency_fallback"
	SystemFastLane     = "fast_lane"
)

// AddLayer appends a layer result and folds its threat level into the
// response's aggregate threat level (never decreasing it).
func (r *Response) AddLayer(lr LayerResult) {
	r.Layers = append(r.Layers, lr)
	r.Threat = Max(r.Threat, lr.Threat)
}
