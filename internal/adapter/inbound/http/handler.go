// Package http provides the HTTP transport adapter for the
// authorization core's Request Pipeline Gate.
package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/domain/resource"
	"github.com/velro/authz-core/internal/service/gate"
)

// authorizeRequestBody is the wire shape of a POST /v1/authorize body.
type authorizeRequestBody struct {
	ResourceID          string            `json:"resource_id"`
	ResourceType        string            `json:"resource_type"`
	Access              string            `json:"access"`
	MediaGrantRequested bool              `json:"media_grant_requested,omitempty"`
	ExpiresInSeconds    int64             `json:"expires_in_seconds,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
}

// authorizeResponseBody is the wire shape of the decision returned to
// the caller. It flattens authz.Response into stable field names rather
// than marshaling the domain type directly, so the wire contract does
// not shift every time an internal field is added to authz.Response.
type authorizeResponseBody struct {
	Granted       bool     `json:"granted"`
	Threat        string   `json:"threat"`
	Method        string   `json:"method,omitempty"`
	DenialReason  string   `json:"denial_reason,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	CacheHit      bool     `json:"cache_hit"`
	SystemUsed    string   `json:"system_used,omitempty"`
	ExecutionMS   float64  `json:"execution_time_ms"`
	LayersRun     []string `json:"layers_run,omitempty"`
}

// errorBody is the uniform error shape returned for malformed requests
// and internal failures alike (spec §7: no field-level detail leaks to
// the caller beyond a stable error code and message).
type errorBody struct {
	Error string `json:"error"`
}

// authorizeHandler builds an authz.Request from the HTTP request and
// drives it through the Gate, returning the decision as JSON.
func authorizeHandler(g *gate.Gate) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed")
			return
		}

		var body authorizeRequestBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "malformed_request_body")
			return
		}

		if body.ResourceID == "" || body.ResourceType == "" || body.Access == "" {
			writeError(w, http.StatusBadRequest, "missing_required_field")
			return
		}

		principal, _ := PrincipalFromContext(r.Context())
		logger := LoggerFromContext(r.Context())

		authReq := &authz.Request{
			Principal: principal,
			Resource: resource.Ref{
				ID:   body.ResourceID,
				Type: resource.Type(body.ResourceType),
			},
			Access:              resource.AccessType(body.Access),
			Security:            authz.NewSecurityContext(ClientIPFromContext(r.Context()), r.UserAgent()),
			MediaGrantRequested: body.MediaGrantRequested,
			Metadata:            body.Metadata,
		}
		if body.ExpiresInSeconds > 0 {
			authReq.ExpiresIn = time.Duration(body.ExpiresInSeconds) * time.Second
		}
		authReq.ContextHash = contextHash(authReq)

		// Body is already fully consumed by the JSON decode above, so
		// there is nothing left for the Gate's at-most-once body cache
		// to read; this endpoint has no downstream consumer of the raw
		// bytes the way a proxied body would.
		gateReq := &gate.Request{
			Path:   r.URL.Path,
			Method: r.Method,
			Auth:   authReq,
		}

		resp, err := g.Process(r.Context(), gateReq)
		if err != nil {
			logger.Error("gate processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "authorization_unavailable")
			return
		}

		status := http.StatusOK
		if !resp.Decision.Granted {
			status = http.StatusForbidden
		}
		writeJSON(w, status, toResponseBody(resp.Decision))
	})
}

func toResponseBody(decision *authz.Response) authorizeResponseBody {
	layers := make([]string, 0, len(decision.Layers))
	for _, l := range decision.Layers {
		layers = append(layers, string(l.Layer))
	}
	return authorizeResponseBody{
		Granted:       decision.Granted,
		Threat:        string(decision.Threat),
		Method:        string(decision.Method),
		DenialReason:  decision.DenialReason,
		CorrelationID: decision.CorrelationID,
		CacheHit:      decision.CacheHit,
		SystemUsed:    string(decision.SystemUsed),
		ExecutionMS:   float64(decision.ExecutionTime) / float64(time.Millisecond),
		LayersRun:     layers,
	}
}

// contextHash derives a stable idempotence key from the parts of the
// request that should collapse repeated identical calls into the same
// cached decision: principal, resource, access, and the security
// context's caller-visible fields. Risk score and flags are computed
// downstream of this point and deliberately excluded.
func contextHash(req *authz.Request) string {
	h := sha256.New()
	if req.Principal != nil {
		fmt.Fprintf(h, "%s|", req.Principal.ID)
	}
	fmt.Fprintf(h, "%s|%s|%s|", req.Resource.ID, req.Resource.Type, req.Access)
	if req.Security != nil {
		fmt.Fprintf(h, "%s|%s", req.Security.ClientIP, req.Security.UserAgent)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}
