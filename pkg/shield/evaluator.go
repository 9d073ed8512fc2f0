package shield

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/exshield/exshield/pkg/domain"
	"github.com/exshield/exshield/pkg/expr"
)

// Evaluator evaluates single rules against per-request analysis views,
// compiling expressions through a shared bounded cache. Safe for concurrent
// use; each call's context and result are request-local.
type Evaluator struct {
	cache  *expr.Cache
	logger *slog.Logger
}

// NewEvaluator constructs an Evaluator with a compiled-expression cache
// bounded at cacheCapacity entries. Non-positive capacities select the
// default bound.
func NewEvaluator(cacheCapacity int, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		cache:  expr.NewCache(cacheCapacity),
		logger: logger.With("component", "shield"),
	}
}

// Cache exposes the compiled-expression cache, primarily for telemetry.
func (e *Evaluator) Cache() *expr.Cache {
	return e.cache
}

// Evaluate judges one rule against the supplied views.
//
// The gate expression is load-bearing: any compile or evaluation failure is
// returned as an error so the caller rejects the request rather than silently
// defaulting the rule to pass or fail. The value expression is advisory: a
// failure there is logged and swallowed, leaving ActualValue nil, and the
// gate result stands.
func (e *Evaluator) Evaluate(ctx context.Context, rule domain.Rule, views *domain.AnalysisViews) (domain.EvaluationResult, error) {
	scope := expr.NewViewContext(views)

	gate, err := e.cache.GetOrCompile(rule.Expression)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("%w: compile expression %q for rule %q: %w",
			domain.ErrRuleEvaluation, rule.Expression, rule.Name, err)
	}

	raw, err := gate.Evaluate(ctx, scope)
	if err != nil {
		return domain.EvaluationResult{}, fmt.Errorf("%w: evaluate expression %q for rule %q: %w",
			domain.ErrRuleEvaluation, rule.Expression, rule.Name, err)
	}
	passed := expr.Truthy(raw)

	var actualValue any
	if rule.HasValueExpression() {
		actualValue = e.evaluateValue(ctx, rule, scope)
	}

	if passed {
		return domain.Pass(actualValue), nil
	}
	return domain.Fail(actualValue), nil
}

func (e *Evaluator) evaluateValue(ctx context.Context, rule domain.Rule, scope *expr.Context) any {
	compiled, err := e.cache.GetOrCompile(rule.ValueExpression)
	if err == nil {
		var value any
		if value, err = compiled.Evaluate(ctx, scope); err == nil {
			return value
		}
	}
	e.logger.Warn("value expression evaluation failed",
		"rule", rule.Name,
		"expression", rule.ValueExpression,
		"error", err,
	)
	return nil
}
