// Package cel provides a CEL-based expression evaluator for the risk
// scoring layer: weighted boolean factors compiled and evaluated over
// a request's security context, so the weighting formula of spec §4.2
// layer 3 is hot-reloadable without a binary rebuild.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// maxExpressionLength bounds a single factor expression.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit, preventing a pathological
// expression from exhausting evaluation time.
const maxCostBudget = 100_000

// maxNestingDepth bounds parenthesis/bracket/brace nesting.
const maxNestingDepth = 50

// evalTimeout bounds a single factor's evaluation time.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked during evaluation.
const interruptCheckFreq = 100

// Evaluator compiles and evaluates CEL boolean expressions against the
// risk-scoring environment (see risk_env.go).
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator constructs an Evaluator over the risk-scoring environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRiskEnvironment()
	if err != nil {
		return nil, fmt.Errorf("cel: failed to build risk environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile parses and type-checks expression, returning a compiled
// program with the cost budget and interrupt-check frequency applied.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cel: compilation failed: %w", issues.Err())
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("cel: program creation failed: %w", err)
	}
	return prg, nil
}

// validateNesting rejects expressions whose bracket nesting exceeds
// maxNestingDepth, a cheap guard against adversarially deep expressions
// before they ever reach the compiler.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("cel: expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// ValidateExpression checks that expr is syntactically valid, within
// length and nesting limits, and compiles cleanly.
func (e *Evaluator) ValidateExpression(expr string) error {
	if expr == "" {
		return errors.New("cel: expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("cel: expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	if _, err := e.Compile(expr); err != nil {
		return fmt.Errorf("cel: invalid expression: %w", err)
	}
	return nil
}

// Evaluate runs a compiled program against activation, bounding
// execution to evalTimeout beneath the caller's context.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, activation map[string]any) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, activation)
	if err != nil {
		return false, fmt.Errorf("cel: evaluation failed: %w", err)
	}

	boolResult, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cel: expression did not return a boolean, got %T", result.Value())
	}
	return boolResult, nil
}
