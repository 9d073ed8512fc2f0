package domain

import (
	"fmt"
	"strings"
)

// Rule is a single admission rule. The gate Expression must evaluate to a
// boolean-like value; a false result rejects the request. ValueExpression is
// optional and evaluated purely to enrich rejection diagnostics. Rules are
// constructed once at configuration load time and never mutated, so a single
// Rule value is safe to share across concurrent evaluations.
type Rule struct {
	Name            string
	Expression      string
	ValueExpression string
	Message         string
}

// NewRule builds a Rule from raw configuration fields, trimming whitespace
// and rejecting blank required fields.
func NewRule(name, expression, valueExpression, message string) (Rule, error) {
	name = strings.TrimSpace(name)
	expression = strings.TrimSpace(expression)

	if name == "" {
		return Rule{}, fmt.Errorf("%w: rule 'name' is required and cannot be blank", ErrInvalidRule)
	}
	if expression == "" {
		return Rule{}, fmt.Errorf("%w: rule %q: 'expression' is required and cannot be blank", ErrInvalidRule, name)
	}

	return Rule{
		Name:            name,
		Expression:      expression,
		ValueExpression: strings.TrimSpace(valueExpression),
		Message:         strings.TrimSpace(message),
	}, nil
}

// HasValueExpression reports whether a diagnostic value expression is configured.
func (r Rule) HasValueExpression() bool {
	return r.ValueExpression != ""
}

// HasMessage reports whether an operator-facing annotation is configured.
func (r Rule) HasMessage() bool {
	return r.Message != ""
}

func (r Rule) String() string {
	return fmt.Sprintf("Rule{name=%q, expression=%q}", r.Name, r.Expression)
}
