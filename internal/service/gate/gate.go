// Package gate implements the Request Pipeline Gate of spec §4.1: the
// single entry point that classifies a request as fast-lane or
// standard, guarantees at-most-one body read, and drives either a
// stripped chain or the full orchestrator.
package gate

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/velro/authz-core/internal/domain/authz"
)

// defaultMaxBodyBytes is the size ceiling above which the Gate gives up
// caching the body and degrades to body_cache_failed.
const defaultMaxBodyBytes = 50 << 20 // 50 MiB

// defaultFastLanePrefixes are conservative: only endpoints with no
// mutation surface on sensitive resources qualify. Mirrored by the
// upstream CSRF filter via FastLanePrefixes.
var defaultFastLanePrefixes = []string{
	"/auth/",
	"/health",
	"/metrics",
	"/e2e/",
}

// Orchestrator is the narrow slice of orchestrator.Orchestrator the Gate
// needs to drive the full chain on the standard path.
type Orchestrator interface {
	Authorize(ctx context.Context, req *authz.Request) (*authz.Response, error)
}

// FastLaneChecker runs the stripped fast-lane chain: basic rate limit
// plus allow-list check. It never touches the full layer stack.
type FastLaneChecker interface {
	Check(ctx context.Context, req *authz.Request) (*authz.Response, error)
}

// Body is the body-reading surface the Gate consumes exactly once.
// *http.Request satisfies this directly.
type Body interface {
	io.Reader
}

// CachedBody is the immutable, at-most-once-read result the Gate
// attaches to request state. Bytes is nil and Failed is true when the
// body exceeded the size limit; downstream code must treat that as "no
// body available", not as an empty body.
type CachedBody struct {
	Bytes  []byte
	Failed bool
}

// Request is the Gate's transport-agnostic view of an inbound call: a
// path for fast-lane classification, an HTTP-style method, the
// authorization request the chain will evaluate, and an optional body
// reader consumed at most once.
type Request struct {
	Path   string
	Method string
	Auth   *authz.Request
	Body   Body
}

// Response is the Gate's output: the authorization decision plus the
// cached body (nil if the method carries no body or the path is
// fast-lane), and which path served the request.
type Response struct {
	Decision   *authz.Response
	CachedBody *CachedBody
	FastLane   bool
}

// Gate wires the fast-lane and standard paths together.
type Gate struct {
	fastLane      FastLaneChecker
	orchestrator  Orchestrator
	fastLanePaths []string
	maxBodyBytes  int64
	logger        *slog.Logger
}

// Option configures non-default Gate behavior.
type Option func(*Gate)

// WithFastLanePrefixes overrides the default conservative prefix set.
func WithFastLanePrefixes(prefixes []string) Option {
	return func(g *Gate) { g.fastLanePaths = prefixes }
}

// WithMaxBodyBytes overrides the default 50 MiB body cache limit.
func WithMaxBodyBytes(n int64) Option {
	return func(g *Gate) { g.maxBodyBytes = n }
}

// New constructs a Gate. fastLane may be nil if no fast-lane path is
// wired yet, in which case fast-lane-classified requests fall through
// to the standard orchestrator path instead of panicking.
func New(fastLane FastLaneChecker, orchestrator Orchestrator, logger *slog.Logger, opts ...Option) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		fastLane:      fastLane,
		orchestrator:  orchestrator,
		fastLanePaths: append([]string(nil), defaultFastLanePrefixes...),
		maxBodyBytes:  defaultMaxBodyBytes,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// FastLanePrefixes returns the current fast-lane prefix set, read-only,
// so the upstream CSRF filter can mirror it exactly (SPEC_FULL §4.10).
func (g *Gate) FastLanePrefixes() []string {
	return append([]string(nil), g.fastLanePaths...)
}

// IsFastLane reports whether path qualifies for the stripped chain.
func (g *Gate) IsFastLane(path string) bool {
	for _, prefix := range g.fastLanePaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func hasBody(method string) bool {
	switch method {
	case "POST", "PUT", "PATCH":
		return true
	default:
		return false
	}
}

// Process classifies req and drives it through the fast-lane or
// standard path. It never re-reads req.Body more than once.
func (g *Gate) Process(ctx context.Context, req *Request) (*Response, error) {
	if g.IsFastLane(req.Path) {
		return g.processFastLane(ctx, req)
	}
	return g.processStandard(ctx, req)
}

func (g *Gate) processFastLane(ctx context.Context, req *Request) (*Response, error) {
	resp := &Response{FastLane: true}
	if g.fastLane == nil {
		decision, err := g.orchestrator.Authorize(ctx, req.Auth)
		if err != nil {
			return nil, err
		}
		resp.Decision = decision
		return resp, nil
	}
	decision, err := g.fastLane.Check(ctx, req.Auth)
	if err != nil {
		return nil, err
	}
	resp.Decision = decision
	return resp, nil
}

func (g *Gate) processStandard(ctx context.Context, req *Request) (*Response, error) {
	resp := &Response{}

	if hasBody(req.Method) && req.Body != nil {
		resp.CachedBody = g.cacheBody(req.Body)
	}

	decision, err := g.orchestrator.Authorize(ctx, req.Auth)
	if err != nil {
		return nil, err
	}
	resp.Decision = decision
	return resp, nil
}

// cacheBody reads req.Body exactly once. Size-limit overflow degrades
// to a failed cache rather than aborting the request (spec §4.1).
func (g *Gate) cacheBody(body Body) *CachedBody {
	limited := io.LimitReader(body, g.maxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		g.logger.Warn("body cache read failed", "error", err)
		return &CachedBody{Failed: true}
	}
	if int64(len(data)) > g.maxBodyBytes {
		g.logger.Warn("body exceeded cache limit", "limit_bytes", g.maxBodyBytes)
		return &CachedBody{Failed: true}
	}
	return &CachedBody{Bytes: data}
}

// BytesOrNil returns the cached bytes, or nil if caching failed or never ran.
func (c *CachedBody) BytesOrNil() []byte {
	if c == nil || c.Failed {
		return nil
	}
	return c.Bytes
}

