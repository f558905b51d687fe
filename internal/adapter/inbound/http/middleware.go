// Package http provides the HTTP transport adapter for the
// authorization core's Request Pipeline Gate.
package http

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	outboundidentity "github.com/velro/authz-core/internal/adapter/outbound/identity"
	"github.com/velro/authz-core/internal/domain/identity"
)

type contextKey int

const (
	requestIDContextKey contextKey = iota
	loggerContextKey
	principalContextKey
	clientIPContextKey
)

// RequestIDKey is the context key for the request ID.
var RequestIDKey = requestIDContextKey

// RequestIDMiddleware extracts or generates a request ID and enriches the logger.
// The request ID is stored in context using RequestIDKey.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.New().String()
			}

			enrichedLogger := logger.With("request_id", requestID)

			ctx := context.WithValue(r.Context(), requestIDContextKey, requestID)
			ctx = context.WithValue(ctx, loggerContextKey, enrichedLogger)

			w.Header().Set("X-Request-ID", requestID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// LoggerFromContext retrieves the enriched logger from context.
// Returns slog.Default() if no logger is in context.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// DNSRebindingProtection validates the Origin header against an allowlist,
// preventing DNS rebinding attacks. If allowedOrigins is empty, any
// request carrying an Origin header is rejected (local-only mode).
// Requests without an Origin header pass through untouched.
func DNSRebindingProtection(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if _, ok := allowed[origin]; !ok {
				http.Error(w, "Forbidden: origin not allowed", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware extracts a bearer token from the Authorization header
// and validates it via the identity validator, storing the resulting
// identity.Principal in context. Requests without a valid token still
// reach the handler; PrincipalFromContext returns (nil, false) and the
// handler constructs an authz.Request with a nil Principal, which the
// orchestrator denies with reason "unauthenticated" before any layer runs
// (spec §7's uniform-error-shape policy: auth failure surfaces the same
// way an access-control denial does, not as a distinct HTTP error path).
func AuthMiddleware(validator *outboundidentity.Validator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.Validate(r.Context(), token)
			if err != nil {
				logger.Debug("bearer token rejected", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			principal := principalFromClaims(claims)
			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func principalFromClaims(claims outboundidentity.Claims) *identity.Principal {
	memberships := make([]identity.TeamMembership, 0, len(claims.Memberships))
	for teamID, roleName := range claims.Memberships {
		role, ok := identity.ParseRole(roleName)
		if !ok {
			continue
		}
		memberships = append(memberships, identity.TeamMembership{TeamID: teamID, Role: role})
	}
	return &identity.Principal{
		ID:          claims.PrincipalID,
		Memberships: memberships,
	}
}

// PrincipalFromContext retrieves the authenticated principal set by
// AuthMiddleware, if any.
func PrincipalFromContext(ctx context.Context) (*identity.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*identity.Principal)
	return p, ok
}

// RealIPMiddleware extracts the client's real IP address and stores it
// in context, for use in the security context's ClientIP field.
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), clientIPContextKey, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIPFromContext retrieves the client IP set by RealIPMiddleware.
func ClientIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPContextKey).(string); ok {
		return ip
	}
	return ""
}

// extractRealIP extracts the client's real IP address from the request.
// Only the first IP in X-Forwarded-For is trusted, to avoid spoofing by
// a downstream hop appending its own entry.
func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			if ip := strings.TrimSpace(ips[0]); ip != "" {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
