// Package layers implements the ten fixed Authorization Orchestrator
// layers of spec §4.2. Each layer is a Layer implementation; the
// orchestrator (internal/service/orchestrator) drives them in the
// fixed order its Authorize method encodes.
package layers

import (
	"context"
	"time"

	"github.com/velro/authz-core/internal/domain/audit"
	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/resource"
)

// Layer is the uniform interface every orchestrator stage implements.
type Layer interface {
	Type() authz.LayerType
	Required() bool
	Run(ctx context.Context, req *authz.Request) authz.LayerResult
}

// ProjectLookup resolves a project by id, used by access control and
// inheritance layers.
type ProjectLookup interface {
	GetProject(ctx context.Context, projectID string) (*resource.Project, error)
}

// ResourceLookup resolves a resource by id (spec §6 query 1).
type ResourceLookup interface {
	GetResource(ctx context.Context, resourceID string) (*resource.Resource, error)
}

// TeamMembershipLookup resolves a principal's team memberships (spec §6
// query 3).
type TeamMembershipLookup interface {
	GetTeamMemberships(ctx context.Context, principalID string) ([]TeamMembership, error)
}

// TeamMembership is a principal's role in one team, as read from the
// relational store.
type TeamMembership struct {
	TeamID string
	Role   string
}

// GenerationParentLookup resolves a generation's parent id, if any
// (spec §6 query 5).
type GenerationParentLookup interface {
	GetGenerationParent(ctx context.Context, generationID string) (parentID string, ok bool, err error)
}

// Signer issues signed, time-bounded URLs for underlying media (spec
// §6 external storage signer).
type Signer interface {
	Sign(ctx context.Context, resourceRef, operation string, ttlSeconds int64) (string, error)
}

// RateLimitChecker checks and consumes one request against the fixed
// window counters of spec §5.
type RateLimitChecker interface {
	Allow(ctx context.Context, scope, identifier string) (allowed bool, retryAfterSeconds int64, err error)
}

// RiskScorer computes the weighted security-context risk score of spec
// §4.2 layer 3; implemented by a CEL-backed evaluator
// (internal/adapter/outbound/cel) so the weighting formula is
// hot-reloadable without a binary rebuild.
type RiskScorer interface {
	Score(ctx context.Context, sc *authz.SecurityContext) (float64, []authz.SecurityFlag, error)
}

// AuditEmitter accepts a fully-built audit event for asynchronous,
// best-effort delivery (implemented by auditpipeline.Pipeline). It
// never returns an error: a sink outage must not deny authorization
// (spec §4.2, layer 8).
type AuditEmitter interface {
	Emit(event *audit.Event)
}

// CorrelationObserver evaluates the background correlation rule-set of
// spec §4.6 on demand (implemented by auditpipeline.Correlator), so the
// anomaly-correlation layer can raise threat level within the same
// chain run rather than waiting for the periodic sweep.
type CorrelationObserver interface {
	EvaluatePrincipal(ctx context.Context, principalID string, now time.Time) ([]*audit.Alert, error)
	EvaluateIP(ctx context.Context, ip string, now time.Time) (*audit.Alert, error)
}
