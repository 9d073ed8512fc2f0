// Package shield implements expression-based admission control for query
// serving pipelines.
//
// Architecture:
//
// evaluator.go  - Per-rule evaluation (gate + diagnostic value expressions)
// shield.go     - Admission controller: bypass, rule chain, verdict synthesis
// middleware.go - net/http middleware for in-process embedding
// handler.go    - Standalone POST /v1/check admission endpoint
//
// A Shield owns an ordered rule list and a bounded compiled-expression cache.
// Each request is checked synchronously on the caller's goroutine: the bypass
// flag is honoured first, then rules run in declared order and the chain stops
// at the first rule that fails or errors. The outcome is a tagged Verdict, not
// an error, so hosts in any transport handle admission uniformly.
package shield
