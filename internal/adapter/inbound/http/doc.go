// Package http provides the HTTP transport adapter for the
// authorization core's Request Pipeline Gate.
//
// # Usage
//
// Create and start an HTTP transport over a constructed Gate:
//
//	transport := http.NewHTTPTransport(gate,
//	    http.WithAddr(":8080"),
//	    http.WithTLS("cert.pem", "key.pem"),
//	    http.WithAllowedOrigins([]string{"https://example.com"}),
//	    http.WithLogger(logger),
//	)
//	err := transport.Start(ctx)
//
// # Endpoints
//
//	POST /v1/authorize  - Evaluate one authorization request, returns the decision
//	GET  /health         - Liveness/readiness check
//	GET  /metrics        - Prometheus metrics
//
// # Request Headers
//
//	Authorization: Bearer <token>    - Bearer token identifying the principal
//	X-Request-ID: <id>               - Optional client-supplied request ID, echoed back
//
// # Security Features
//
//   - TLS 1.2 minimum when HTTPS is enabled via WithTLS
//   - DNS rebinding protection: Origin header validated against an allowlist
//   - Bearer-token authentication via the identity validator, independent of
//     any per-request rate limiting the orchestrator chain itself performs
//   - Real IP extraction from X-Forwarded-For/X-Real-IP, used to populate
//     the security context's ClientIP for risk scoring and anomaly correlation
//
// # Middleware Chain
//
// Requests pass through middleware in this order (outermost first):
//
//  1. MetricsMiddleware - records request duration and status
//  2. RequestIDMiddleware - extracts/generates a request ID, enriches the logger
//  3. RealIPMiddleware - extracts client IP from proxy headers
//  4. DNSRebindingProtection - validates the Origin header
//  5. AuthMiddleware - validates the bearer token into an identity.Principal
//  6. authorizeHandler - builds an authz.Request and drives it through the Gate
//
// /health and /metrics are also registered as Gate fast-lane prefixes, so
// they skip the ten-layer chain entirely.
package http
