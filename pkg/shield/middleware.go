package shield

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/exshield/exshield/pkg/domain"
)

type analysisContextKey struct{}

// WithAnalysis returns a context carrying the analysis views for the current
// request. Upstream query analyzers call this before handing the request to
// the shield middleware.
func WithAnalysis(ctx context.Context, views *domain.AnalysisViews) context.Context {
	return context.WithValue(ctx, analysisContextKey{}, views)
}

// AnalysisFromContext extracts the analysis views placed by WithAnalysis,
// returning nil when no analyzer ran.
func AnalysisFromContext(ctx context.Context) *domain.AnalysisViews {
	views, _ := ctx.Value(analysisContextKey{}).(*domain.AnalysisViews)
	return views
}

// Machine-readable rejection codes carried in the JSON error body.
const (
	codeRuleRejected     = "RULE_REJECTED"
	codeEvaluationFailed = "RULE_EVALUATION_FAILED"
	codeAnalysisMissing  = "ANALYSIS_MISSING"
)

// rejectionBody is the stable JSON error model written on rejection. It
// avoids exposing internals while keeping a machine-readable code.
type rejectionBody struct {
	Code    string `json:"code"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

// Middleware wraps next with admission control for in-process embedding.
// The bypass flag is read from the request query parameters and the analysis
// views from the request context. Admitted requests pass through untouched;
// rejected ones receive a JSON error body with the verdict's HTTP status.
func (s *Shield) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		params := func(name string) (string, bool) {
			if !query.Has(name) {
				return "", false
			}
			return query.Get(name), true
		}

		verdict := s.Check(r.Context(), params, AnalysisFromContext(r.Context()))
		if verdict.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		writeRejection(w, verdict)
	})
}

func writeRejection(w http.ResponseWriter, verdict Verdict) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(verdict.Status)
	_ = json.NewEncoder(w).Encode(rejectionBody{
		Code:    rejectionCode(verdict.Kind),
		Rule:    verdict.RuleName,
		Message: verdict.Message,
	})
}

func rejectionCode(kind Kind) string {
	switch kind {
	case KindEvaluationError:
		return codeEvaluationFailed
	case KindMissingAnalysis:
		return codeAnalysisMissing
	default:
		return codeRuleRejected
	}
}
