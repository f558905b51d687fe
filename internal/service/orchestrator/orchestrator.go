// Package orchestrator drives the ten fixed Authorization Orchestrator
// layers of spec §4.2 in their totally ordered sequence, enforcing the
// per-layer soft/hard deadlines and the chain deadline, handling the
// conditional and advisory layers' special control flow, and caching
// idempotent decisions keyed by (principal, resource, access,
// generation-counter, security-context-hash).
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/cache"
	"github.com/velro/authz-core/internal/domain/resource"
	"github.com/velro/authz-core/internal/service/layers"
)

const (
	defaultSoftDeadline  = 10 * time.Millisecond
	defaultHardTimeout   = 500 * time.Millisecond
	defaultChainDeadline = 2 * time.Second
	decisionCacheTTL     = 2 * time.Minute
)

// DecisionCache is the narrow slice of cacheengine.Engine the
// orchestrator needs for idempotent decision caching; kept as a local
// port so this package does not import cacheengine directly.
type DecisionCache interface {
	Get(ctx context.Context, key cache.Key, principalID string, fn cache.FallbackFunc) (*cache.Entry, bool, error)
	Set(ctx context.Context, entry *cache.Entry) error
}

// Orchestrator wires the ten layers in spec order and drives one
// request through them.
type Orchestrator struct {
	inputValidation    layers.Layer
	rateLimiting       layers.Layer
	contextValidation  layers.Layer
	accessControl      *layers.AccessControl
	inheritance        *layers.Inheritance
	depthGuard         *layers.InheritanceDepthGuard
	mediaAuthorization layers.Layer
	auditEmission      layers.Layer
	anomalyCorrelation layers.Layer
	emergencyRecovery  layers.Layer

	decisions DecisionCache

	logger        *slog.Logger
	softDeadline  time.Duration
	hardTimeout   time.Duration
	chainDeadline time.Duration
}

// Option configures non-default Orchestrator timeouts; production
// wiring accepts the spec defaults, tests may tighten them.
type Option func(*Orchestrator)

func WithSoftDeadline(d time.Duration) Option  { return func(o *Orchestrator) { o.softDeadline = d } }
func WithHardTimeout(d time.Duration) Option   { return func(o *Orchestrator) { o.hardTimeout = d } }
func WithChainDeadline(d time.Duration) Option { return func(o *Orchestrator) { o.chainDeadline = d } }
func WithDecisionCache(c DecisionCache) Option { return func(o *Orchestrator) { o.decisions = c } }

// New constructs an Orchestrator from its ten constructed layers.
func New(
	inputValidation layers.Layer,
	rateLimiting layers.Layer,
	contextValidation layers.Layer,
	accessControl *layers.AccessControl,
	inheritance *layers.Inheritance,
	depthGuard *layers.InheritanceDepthGuard,
	mediaAuthorization layers.Layer,
	auditEmission layers.Layer,
	anomalyCorrelation layers.Layer,
	emergencyRecovery layers.Layer,
	logger *slog.Logger,
	opts ...Option,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		inputValidation:    inputValidation,
		rateLimiting:       rateLimiting,
		contextValidation:  contextValidation,
		accessControl:      accessControl,
		inheritance:        inheritance,
		depthGuard:         depthGuard,
		mediaAuthorization: mediaAuthorization,
		auditEmission:      auditEmission,
		anomalyCorrelation: anomalyCorrelation,
		emergencyRecovery:  emergencyRecovery,
		logger:             logger,
		softDeadline:       defaultSoftDeadline,
		hardTimeout:        defaultHardTimeout,
		chainDeadline:      defaultChainDeadline,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// cachedDecision is the minimal, JSON-stable projection of a Response
// that is safe to round-trip through the cache's []byte value; the
// full per-layer Trace is not cached, only the final decision.
type cachedDecision struct {
	Granted       bool   `json:"granted"`
	Threat        int    `json:"threat"`
	Method        string `json:"method"`
	DenialReason  string `json:"denial_reason"`
	CorrelationID string `json:"correlation_id"`
}

func decisionKey(req *authz.Request) cache.Key {
	op := string(req.Access) + ":" + req.ContextHash
	return cache.BuildKey(req.Principal.ID, req.Principal.GenerationCounter, cache.KindResource, req.Resource.ID, op)
}

// Authorize runs req through the fixed chain and returns the decision.
// It never returns a non-nil error for an authorization-level denial;
// an error return indicates the orchestrator itself could not complete
// (which callers should treat as a hard failure, not a decision).
func (o *Orchestrator) Authorize(ctx context.Context, req *authz.Request) (*authz.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, o.chainDeadline)
	defer cancel()

	if req.Principal == nil {
		return &authz.Response{
			SystemUsed:    authz.SystemOrchestrator,
			CorrelationID: uuid.NewString(),
			DenialReason:  "unauthenticated",
		}, nil
	}

	if o.decisions != nil {
		if entry, hit, err := o.decisions.Get(ctx, decisionKey(req), req.Principal.ID, nil); err == nil && hit {
			var cd cachedDecision
			if err := json.Unmarshal(entry.Value, &cd); err == nil {
				return &authz.Response{
					Granted:       cd.Granted,
					Threat:        authz.ThreatLevel(cd.Threat),
					Method:        authz.AuthorizationMethod(cd.Method),
					DenialReason:  cd.DenialReason,
					CorrelationID: cd.CorrelationID,
					CacheHit:      true,
					SystemUsed:    authz.SystemOrchestrator,
				}, nil
			}
		}
	}

	start := time.Now()
	resp := &authz.Response{SystemUsed: authz.SystemOrchestrator, CorrelationID: uuid.NewString()}

	if !o.run(ctx, resp, req, o.inputValidation) {
		return o.abortOrDeny(ctx, resp, req, start)
	}
	if !o.run(ctx, resp, req, o.rateLimiting) {
		return o.abortOrDeny(ctx, resp, req, start)
	}
	o.run(ctx, resp, req, o.contextValidation) // advisory: never aborts the chain

	granted := o.run(ctx, resp, req, o.accessControl)
	if !granted && isThrow(lastError(resp)) {
		return o.abortOrDeny(ctx, resp, req, start)
	}
	if granted {
		resp.Method = authz.AuthorizationMethod(lastMetadataString(resp, "method"))
	} else if req.Resource.Type == resource.TypeGeneration && o.inheritance != nil && o.depthGuard != nil {
		accessDenial := lastErrorSubcategory(resp)
		granted = o.runInheritanceChain(ctx, resp, req)
		if !granted && isThrow(lastError(resp)) {
			return o.abortOrDeny(ctx, resp, req, start)
		}
		if !granted && lastErrorSubcategory(resp) == "" {
			resp.DenialReason = string(accessDenial)
		}
	}

	if !granted {
		resp.Granted = false
		if resp.DenialReason == "" {
			resp.DenialReason = string(lastErrorSubcategory(resp))
		}
		o.run(ctx, resp, req, o.auditEmission)
		o.run(ctx, resp, req, o.anomalyCorrelation)
		return o.finish(ctx, resp, req, start)
	}

	resp.Granted = true

	if req.MediaGrantRequested && o.mediaAuthorization != nil {
		if o.run(ctx, resp, req, o.mediaAuthorization) {
			if g, ok := lastMetadata(resp, "grant").(*authz.MediaGrant); ok {
				resp.MediaGrant = g
			}
		}
	}

	o.run(ctx, resp, req, o.auditEmission)
	o.run(ctx, resp, req, o.anomalyCorrelation)

	return o.finish(ctx, resp, req, start)
}

// runInheritanceChain walks the bounded ancestor chain the depth guard
// computed, treating each ancestor in turn as the resolved resource
// (spec §4.2.1 step 4) until one grants or the chain is exhausted.
func (o *Orchestrator) runInheritanceChain(ctx context.Context, resp *authz.Response, req *authz.Request) bool {
	if !o.run(ctx, resp, req, o.depthGuard) {
		return false
	}
	chain, _ := lastMetadata(resp, "chain").([]string)

	originalID := req.Resource.ID
	defer func() { req.Resource.ID = originalID }()

	hopFrom := originalID
	for range chain {
		req.Resource.ID = hopFrom
		if o.run(ctx, resp, req, o.inheritance) {
			resp.Method = authz.AuthorizationMethod(lastMetadataString(resp, "method"))
			return true
		}
		parentID, _ := lastMetadata(resp, "parent_id").(string)
		if parentID == "" {
			break
		}
		hopFrom = parentID
	}
	return false
}

// run executes one layer under the per-layer hard timeout, appends its
// result to the request trace and response, folds its threat level
// into the response, and returns the layer's own success/failure.
// Callers that need "should the chain abort" combine this with
// l.Required() and isThrow themselves, since that decision differs by
// layer (required vs advisory vs conditional).
func (o *Orchestrator) run(ctx context.Context, resp *authz.Response, req *authz.Request, l layers.Layer) bool {
	if l == nil {
		return true
	}
	result := o.runWithTimeout(ctx, l, req)
	req.Trace = append(req.Trace, result)
	resp.AddLayer(result)
	return result.Success
}

func (o *Orchestrator) runWithTimeout(ctx context.Context, l layers.Layer, req *authz.Request) authz.LayerResult {
	layerCtx, cancel := context.WithTimeout(ctx, o.hardTimeout)
	defer cancel()

	out := make(chan authz.LayerResult, 1)
	go func() { out <- l.Run(layerCtx, req) }()

	select {
	case result := <-out:
		if result.ExecutionTime > o.softDeadline {
			o.logger.Warn("layer exceeded soft deadline", "layer", l.Type(), "duration", result.ExecutionTime)
		}
		return result
	case <-layerCtx.Done():
		o.logger.Warn("layer hit hard timeout", "layer", l.Type())
		return authz.LayerResult{
			Layer:   l.Type(),
			Success: false,
			Threat:  authz.ThreatOrange,
			Err:     authz.NewCoreError(authz.KindDependencyUnavailable, "layer exceeded hard timeout"),
		}
	}
}

// abortOrDeny handles a required layer's failure. A clean denial (the
// layer ran to completion and decided "no") is recorded as a normal
// deny. A throw (the layer itself could not produce a decision) aborts
// the chain and consults Emergency Recovery per spec §4.2 row 10.
func (o *Orchestrator) abortOrDeny(ctx context.Context, resp *authz.Response, req *authz.Request, start time.Time) (*authz.Response, error) {
	if isThrow(lastError(resp)) {
		return o.runEmergency(ctx, resp, req, start)
	}
	resp.Granted = false
	if resp.DenialReason == "" {
		resp.DenialReason = string(lastErrorSubcategory(resp))
	}
	o.run(ctx, resp, req, o.auditEmission)
	return o.finish(ctx, resp, req, start)
}

// runEmergency consults the fallback layer after a required layer has
// thrown, bypassing the rest of the normal chain. Its own audit
// emission is still attempted, at CRITICAL severity by construction of
// the fallback path.
func (o *Orchestrator) runEmergency(ctx context.Context, resp *authz.Response, req *authz.Request, start time.Time) (*authz.Response, error) {
	resp.SystemUsed = authz.SystemEmergency
	granted := o.run(ctx, resp, req, o.emergencyRecovery)
	resp.Granted = granted
	if granted {
		resp.Method = authz.MethodEmergency
	} else if resp.DenialReason == "" {
		resp.DenialReason = string(lastErrorSubcategory(resp))
	}
	o.run(ctx, resp, req, o.auditEmission)
	resp.ExecutionTime = time.Since(start)
	return resp, nil
}

func isThrow(err *authz.CoreError) bool {
	if err == nil {
		return false
	}
	switch err.Kind {
	case authz.KindDependencyUnavailable, authz.KindInternalError, authz.KindIntegrityViolation:
		return true
	default:
		return false
	}
}

func lastError(resp *authz.Response) *authz.CoreError {
	if len(resp.Layers) == 0 {
		return nil
	}
	return resp.Layers[len(resp.Layers)-1].Err
}

func (o *Orchestrator) finish(ctx context.Context, resp *authz.Response, req *authz.Request, start time.Time) (*authz.Response, error) {
	resp.ExecutionTime = time.Since(start)

	if o.decisions != nil && !resp.CacheHit {
		o.cacheDecision(ctx, req, resp)
	}
	return resp, nil
}

func (o *Orchestrator) cacheDecision(ctx context.Context, req *authz.Request, resp *authz.Response) {
	cd := cachedDecision{
		Granted:       resp.Granted,
		Threat:        int(resp.Threat),
		Method:        string(resp.Method),
		DenialReason:  resp.DenialReason,
		CorrelationID: resp.CorrelationID,
	}
	value, err := json.Marshal(cd)
	if err != nil {
		return
	}
	entry := &cache.Entry{
		Key:         decisionKey(req),
		Value:       value,
		PrincipalID: req.Principal.ID,
		ResourceID:  req.Resource.ID,
		ExpiresAt:   time.Now().Add(decisionCacheTTL),
		Tags: []cache.Tag{
			cache.UserTag(req.Principal.ID),
			cache.ResourceTag(req.Resource.ID),
		},
	}
	if err := o.decisions.Set(ctx, entry); err != nil {
		o.logger.Warn("decision cache set failed", "error", err)
	}
}

func lastMetadata(resp *authz.Response, key string) any {
	if len(resp.Layers) == 0 {
		return nil
	}
	return resp.Layers[len(resp.Layers)-1].Metadata[key]
}

func lastMetadataString(resp *authz.Response, key string) string {
	s, _ := lastMetadata(resp, key).(string)
	return s
}

func lastErrorSubcategory(resp *authz.Response) authz.Subcategory {
	if len(resp.Layers) == 0 {
		return ""
	}
	last := resp.Layers[len(resp.Layers)-1]
	if last.Err == nil {
		return ""
	}
	return last.Err.Subcategory
}
