package shield

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/exshield/exshield/pkg/domain"
)

func newTestShield(t *testing.T, cfg Config) *Shield {
	t.Helper()
	return New(cfg, testLogger())
}

func maxCountConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Rules: []domain.Rule{
			mustRule(t, "max-count", "query.count <= 100", "query.count", "Count must not exceed 100"),
		},
	}
}

func TestShield_AdmitsWhenRulesPass(t *testing.T) {
	s := newTestShield(t, maxCountConfig(t))

	verdict := s.Check(context.Background(), nil, countViews(42))
	require.True(t, verdict.Allowed)
	require.Empty(t, verdict.Message)
	require.Empty(t, verdict.RuleName)
}

func TestShield_RejectsWithSynthesizedMessage(t *testing.T) {
	s := newTestShield(t, maxCountConfig(t))

	verdict := s.Check(context.Background(), nil, countViews(150))
	require.False(t, verdict.Allowed)
	require.Equal(t, KindRuleFailed, verdict.Kind)
	require.Equal(t, http.StatusBadRequest, verdict.Status)
	require.Equal(t, "max-count", verdict.RuleName)
	require.Equal(t,
		"Query blocked by ExShield rule 'max-count': expression 'query.count <= 100' evaluated to false. "+
			"Actual value: 150 (Count must not exceed 100)",
		verdict.Message)
}

func TestShield_MessageWithoutOptionalParts(t *testing.T) {
	s := newTestShield(t, Config{
		Rules: []domain.Rule{
			mustRule(t, "max-count", "query.count <= 100", "", ""),
		},
	})

	verdict := s.Check(context.Background(), nil, countViews(150))
	require.False(t, verdict.Allowed)
	require.Equal(t,
		"Query blocked by ExShield rule 'max-count': expression 'query.count <= 100' evaluated to false.",
		verdict.Message)
}

func TestShield_FirstFailureShortCircuits(t *testing.T) {
	cfg := Config{
		Rules: []domain.Rule{
			mustRule(t, "first", "query.count <= 100", "", ""),
			mustRule(t, "second", "query.count <= 10", "", ""),
		},
	}
	s := newTestShield(t, cfg)
	ctx := context.Background()

	verdict := s.Check(ctx, nil, countViews(150))
	require.False(t, verdict.Allowed)
	require.Equal(t, "first", verdict.RuleName)

	verdict = s.Check(ctx, nil, countViews(50))
	require.False(t, verdict.Allowed)
	require.Equal(t, "second", verdict.RuleName)

	verdict = s.Check(ctx, nil, countViews(5))
	require.True(t, verdict.Allowed)
}

func TestShield_EvaluationErrorRejects(t *testing.T) {
	s := newTestShield(t, Config{
		Rules: []domain.Rule{
			mustRule(t, "broken", "filters.cost < 50", "", ""),
		},
	})

	verdict := s.Check(context.Background(), nil, countViews(1))
	require.False(t, verdict.Allowed)
	require.Equal(t, KindEvaluationError, verdict.Kind)
	require.Equal(t, http.StatusBadRequest, verdict.Status)
	require.Equal(t, "broken", verdict.RuleName)
	require.Contains(t, verdict.Message, "ExShield rule 'broken' evaluation failed")
}

func TestShield_NoRulesAdmits(t *testing.T) {
	s := newTestShield(t, Config{})

	// With nothing to enforce, even a missing analysis admits.
	require.True(t, s.Check(context.Background(), nil, nil).Allowed)
	require.True(t, s.Check(context.Background(), nil, countViews(1)).Allowed)
}

func TestShield_MissingAnalysis(t *testing.T) {
	ctx := context.Background()

	lenient := newTestShield(t, maxCountConfig(t))
	verdict := lenient.Check(ctx, nil, nil)
	require.True(t, verdict.Allowed)

	cfg := maxCountConfig(t)
	cfg.FailOnMissingAnalysis = true
	strict := newTestShield(t, cfg)
	verdict = strict.Check(ctx, nil, nil)
	require.False(t, verdict.Allowed)
	require.Equal(t, KindMissingAnalysis, verdict.Kind)
	require.Equal(t, http.StatusInternalServerError, verdict.Status)
	require.Empty(t, verdict.RuleName)
	require.Equal(t,
		"ExShield: request analysis not found in request context. "+
			"Ensure a query analyzer component runs before ExShield.",
		verdict.Message)
}

func TestShield_Bypass(t *testing.T) {
	ctx := context.Background()
	bypassOn := ParamsFromMap(map[string]string{DefaultBypassParam: "true"})

	cfg := maxCountConfig(t)
	cfg.BypassAllowed = true
	allowed := newTestShield(t, cfg)
	require.True(t, allowed.Check(ctx, bypassOn, countViews(150)).Allowed)

	// The same flag is inert when bypass is not enabled.
	denied := newTestShield(t, maxCountConfig(t))
	require.False(t, denied.Check(ctx, bypassOn, countViews(150)).Allowed)

	// Unparseable and false values do not bypass.
	require.False(t, allowed.Check(ctx, ParamsFromMap(map[string]string{DefaultBypassParam: "yes please"}), countViews(150)).Allowed)
	require.False(t, allowed.Check(ctx, ParamsFromMap(map[string]string{DefaultBypassParam: "false"}), countViews(150)).Allowed)

	// Bypass wins even over a missing analysis in strict mode.
	cfg = maxCountConfig(t)
	cfg.BypassAllowed = true
	cfg.FailOnMissingAnalysis = true
	strict := newTestShield(t, cfg)
	require.True(t, strict.Check(ctx, bypassOn, nil).Allowed)
}

func TestShield_CustomBypassParam(t *testing.T) {
	cfg := maxCountConfig(t)
	cfg.BypassAllowed = true
	cfg.BypassParam = "debug.skip"
	s := newTestShield(t, cfg)
	ctx := context.Background()

	require.True(t, s.Check(ctx, ParamsFromMap(map[string]string{"debug.skip": "true"}), countViews(150)).Allowed)
	require.False(t, s.Check(ctx, ParamsFromMap(map[string]string{DefaultBypassParam: "true"}), countViews(150)).Allowed)
}

func TestShield_MapShapedAnalysis(t *testing.T) {
	s := newTestShield(t, maxCountConfig(t))

	views := domain.ViewsFromMap(map[string]any{
		domain.QueryAnalysisKey: map[string]any{"count": float64(150)},
	})
	verdict := s.Check(context.Background(), nil, views)
	require.False(t, verdict.Allowed)
	require.Contains(t, verdict.Message, "Actual value: 150")
}

func TestShield_Deterministic(t *testing.T) {
	s := newTestShield(t, maxCountConfig(t))
	ctx := context.Background()

	first := s.Check(ctx, nil, countViews(150))
	for i := 0; i < 10; i++ {
		require.Equal(t, first, s.Check(ctx, nil, countViews(150)))
	}
}

func TestShield_CloseReleasesCacheMetrics(t *testing.T) {
	s := newTestShield(t, maxCountConfig(t))

	// Closing detaches the cache observation so a replacement shield's
	// cache becomes the observed one; closing twice stays safe.
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	replacement := newTestShield(t, maxCountConfig(t))
	require.True(t, replacement.Check(context.Background(), nil, countViews(42)).Allowed)
	require.NoError(t, replacement.Close())
}

func TestFormatValue(t *testing.T) {
	require.Equal(t, "150", formatValue(float64(150)))
	require.Equal(t, "2.5", formatValue(float64(2.5)))
	require.Equal(t, "high", formatValue("high"))
	require.Equal(t, "true", formatValue(true))
}
