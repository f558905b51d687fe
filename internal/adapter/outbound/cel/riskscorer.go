package cel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/cel-go/cel"

	"github.com/velro/authz-core/internal/domain/authz"
	"github.com/velro/authz-core/internal/service/layers"
)

// Factor is one weighted boolean risk condition of spec §4.2 layer 3:
// a CEL expression over the risk environment, a weight added to the
// running score when it evaluates true, and the SecurityFlag it raises
// (empty if the factor contributes to scoring without its own named
// flag).
type Factor struct {
	Name       string
	Expression string
	Weight     float64
	Flag       authz.SecurityFlag
}

// DefaultFactors are the named risk factors spec §4.2 layer 3 lists:
// IP reputation (VPN/Tor), user-agent analysis, behavioral pattern
// (IP churn, excessive admin access), and time-of-day. Weights sum to
// 1.0 across a fully-triggered request; Score caps the total at 1.0
// regardless.
var DefaultFactors = []Factor{
	{Name: "vpn_or_tor", Expression: `is_vpn || is_tor`, Weight: 0.30, Flag: authz.FlagVPNOrTor},
	{Name: "bot_user_agent", Expression: `is_bot || header_contains(headers, "bot")`, Weight: 0.20, Flag: authz.FlagBotUserAgent},
	{Name: "rapid_ip_churn", Expression: `distinct_recent_ips > 3`, Weight: 0.25, Flag: authz.FlagRapidIPChurn},
	{Name: "excessive_admin_access", Expression: `recent_admin_count > 10`, Weight: 0.15, Flag: authz.FlagExcessiveAdminAccess},
	{Name: "off_hours_access", Expression: `request_hour < 6 || request_hour > 22`, Weight: 0.10, Flag: ""},
}

type compiledFactor struct {
	Factor
	program cel.Program
}

// RiskScorer implements layers.RiskScorer: a weighted sum of CEL
// factors evaluated against a request's SecurityContext.
type RiskScorer struct {
	evaluator *Evaluator
	factors   []compiledFactor
	logger    *slog.Logger
}

// NewRiskScorer compiles factors against the risk environment. Every
// factor expression is validated (length, nesting, compile) up front so
// a malformed factor fails fast at construction rather than on the
// first request.
func NewRiskScorer(factors []Factor, logger *slog.Logger) (*RiskScorer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	evaluator, err := NewEvaluator()
	if err != nil {
		return nil, err
	}

	compiled := make([]compiledFactor, 0, len(factors))
	for _, f := range factors {
		if err := evaluator.ValidateExpression(f.Expression); err != nil {
			return nil, fmt.Errorf("cel: invalid risk factor %q: %w", f.Name, err)
		}
		prg, err := evaluator.Compile(f.Expression)
		if err != nil {
			return nil, fmt.Errorf("cel: failed to compile risk factor %q: %w", f.Name, err)
		}
		compiled = append(compiled, compiledFactor{Factor: f, program: prg})
	}

	return &RiskScorer{evaluator: evaluator, factors: compiled, logger: logger}, nil
}

var _ layers.RiskScorer = (*RiskScorer)(nil)

// Score evaluates every factor against sc and returns the capped sum of
// triggered weights plus the flags those factors raise. A single
// factor's evaluation failure is logged and skipped rather than failing
// the whole score, since one bad expression must not block every
// request's context-validation layer.
func (r *RiskScorer) Score(ctx context.Context, sc *authz.SecurityContext) (float64, []authz.SecurityFlag, error) {
	activation := BuildActivation(sc)

	var score float64
	var flags []authz.SecurityFlag
	for _, f := range r.factors {
		matched, err := r.evaluator.Evaluate(ctx, f.program, activation)
		if err != nil {
			r.logger.Warn("risk factor evaluation failed", "factor", f.Name, "error", err)
			continue
		}
		if !matched {
			continue
		}
		score += f.Weight
		if f.Flag != "" {
			flags = append(flags, f.Flag)
		}
	}

	if score > 1 {
		score = 1
	}
	return score, flags, nil
}
