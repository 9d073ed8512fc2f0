package domain

import "errors"

// Common domain errors
var (
	// ErrInvalidRule indicates a rule definition with missing or blank
	// required fields. Fatal at configuration load; a faulty rule must not
	// silently become a no-op.
	ErrInvalidRule = errors.New("invalid rule configuration")
	// ErrMissingAnalysis indicates that no analysis views were supplied for
	// a request while the shield is configured to require them.
	ErrMissingAnalysis = errors.New("request analysis not found")
	// ErrRuleEvaluation indicates a rule's gate expression failed to compile
	// or raised at evaluation time, so the rule could not be judged.
	ErrRuleEvaluation = errors.New("rule evaluation failed")
)
