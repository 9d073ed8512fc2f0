package domain

// EvaluationResult is the outcome of evaluating one rule against one request.
// Passed reflects the coerced gate expression result. ActualValue carries the
// diagnostic value expression result when one was configured and evaluated
// successfully; it is nil otherwise. Results are request-local and immutable.
type EvaluationResult struct {
	Passed      bool
	ActualValue any
}

// Pass constructs a passing result carrying an optional diagnostic value.
func Pass(actualValue any) EvaluationResult {
	return EvaluationResult{Passed: true, ActualValue: actualValue}
}

// Fail constructs a failing result carrying an optional diagnostic value.
func Fail(actualValue any) EvaluationResult {
	return EvaluationResult{Passed: false, ActualValue: actualValue}
}
