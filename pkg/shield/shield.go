package shield

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/exshield/exshield/pkg/domain"
	"github.com/exshield/exshield/pkg/telemetry"
)

// DefaultBypassParam is the request parameter consulted for the bypass flag
// when no custom name is configured.
const DefaultBypassParam = "exshield.bypass"

// Kind classifies a rejection.
type Kind string

const (
	// KindRuleFailed marks a rule whose gate expression legitimately
	// evaluated to false.
	KindRuleFailed Kind = "rule_failed"
	// KindEvaluationError marks a gate expression that failed to compile or
	// raised at evaluation time; the rule could not be judged.
	KindEvaluationError Kind = "evaluation_error"
	// KindMissingAnalysis marks a request with no analysis views while the
	// shield requires them. Operational, not a rule-triggered rejection.
	KindMissingAnalysis Kind = "missing_analysis"
)

// Verdict is the tagged outcome of one admission check. Allowed verdicts
// carry no further fields; rejected verdicts carry the rejection kind, an
// HTTP-equivalent status, the failing rule's name where applicable, and the
// synthesized operator-facing message.
type Verdict struct {
	Allowed  bool   `json:"allowed"`
	Kind     Kind   `json:"kind,omitempty"`
	Status   int    `json:"status,omitempty"`
	RuleName string `json:"rule,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ParamLookup resolves request-scoped override parameters by name.
type ParamLookup func(name string) (string, bool)

// ParamsFromMap adapts a plain map into a ParamLookup.
func ParamsFromMap(params map[string]string) ParamLookup {
	return func(name string) (string, bool) {
		v, ok := params[name]
		return v, ok
	}
}

// Config carries the admission policy for a Shield. Immutable once the
// Shield is constructed.
type Config struct {
	Rules                 []domain.Rule
	BypassAllowed         bool
	BypassParam           string
	FailOnMissingAnalysis bool
	CacheCapacity         int
}

// Shield is the admission controller. It owns an ordered rule list plus the
// bypass policy, and shares one Evaluator (and its expression cache) across
// all concurrent request checks. The rule list is immutable after
// construction; reconfiguration means building a new Shield.
type Shield struct {
	rules         []domain.Rule
	bypassAllowed bool
	bypassParam   string
	failOnMissing bool
	evaluator     *Evaluator
	cacheMetrics  metric.Registration
	logger        *slog.Logger
}

// New constructs a Shield from the supplied policy.
func New(cfg Config, logger *slog.Logger) *Shield {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "shield")

	bypassParam := strings.TrimSpace(cfg.BypassParam)
	if bypassParam == "" {
		bypassParam = DefaultBypassParam
	}

	s := &Shield{
		rules:         append([]domain.Rule(nil), cfg.Rules...),
		bypassAllowed: cfg.BypassAllowed,
		bypassParam:   bypassParam,
		failOnMissing: cfg.FailOnMissingAnalysis,
		evaluator:     NewEvaluator(cfg.CacheCapacity, logger),
		logger:        logger,
	}
	s.cacheMetrics = telemetry.ObserveCache(s.evaluator.Cache())

	logger.Info("shield initialized",
		"rules", len(s.rules),
		"bypass_allowed", s.bypassAllowed,
		"bypass_param", s.bypassParam,
		"fail_on_missing_analysis", s.failOnMissing,
	)
	return s
}

// RuleCount reports the number of configured rules.
func (s *Shield) RuleCount() int {
	return len(s.rules)
}

// Evaluator exposes the underlying rule evaluator.
func (s *Shield) Evaluator() *Evaluator {
	return s.evaluator
}

// Close unregisters the cache metrics callback. A server swapping in a
// reconfigured Shield must close the superseded one, or its cache keeps
// being observed in place of the live cache.
func (s *Shield) Close() error {
	if s.cacheMetrics == nil {
		return nil
	}
	reg := s.cacheMetrics
	s.cacheMetrics = nil
	return reg.Unregister()
}

// Check runs the admission state machine for one request: bypass check,
// no-rules shortcut, analysis retrieval, then the rule chain in declared
// order with first-failure short-circuit. A nil views pointer means no
// analysis was supplied. The params lookup may be nil when the host exposes
// no override parameters.
func (s *Shield) Check(ctx context.Context, params ParamLookup, views *domain.AnalysisViews) Verdict {
	start := time.Now()
	verdict, outcome := s.check(ctx, params, views)

	telemetry.RecordCheck(ctx, outcome, string(verdict.Kind), verdict.RuleName, time.Since(start))
	telemetry.RecordVerdict(trace.SpanFromContext(ctx), verdict.Allowed, string(verdict.Kind), verdict.RuleName)
	return verdict
}

func (s *Shield) check(ctx context.Context, params ParamLookup, views *domain.AnalysisViews) (Verdict, string) {
	if s.bypassRequested(params) {
		s.logger.Debug("admission bypassed for request")
		return Verdict{Allowed: true}, telemetry.OutcomeBypassed
	}

	if len(s.rules) == 0 {
		s.logger.Debug("no rules configured, skipping admission check")
		return Verdict{Allowed: true}, telemetry.OutcomeAdmitted
	}

	if views == nil {
		if s.failOnMissing {
			s.logger.Error("request analysis not found in request context")
			return Verdict{
				Allowed: false,
				Kind:    KindMissingAnalysis,
				Status:  http.StatusInternalServerError,
				Message: "ExShield: request analysis not found in request context. " +
					"Ensure a query analyzer component runs before ExShield.",
			}, telemetry.OutcomeRejected
		}
		s.logger.Warn("request analysis not found, skipping rule evaluation")
		return Verdict{Allowed: true}, telemetry.OutcomeAdmitted
	}

	for _, rule := range s.rules {
		result, err := s.evaluator.Evaluate(ctx, rule, views)
		if err != nil {
			message := "ExShield rule '" + rule.Name + "' evaluation failed: " + err.Error()
			s.logger.Error("rule evaluation failed", "rule", rule.Name, "error", err)
			return Verdict{
				Allowed:  false,
				Kind:     KindEvaluationError,
				Status:   http.StatusBadRequest,
				RuleName: rule.Name,
				Message:  message,
			}, telemetry.OutcomeRejected
		}
		if !result.Passed {
			message := buildRejectionMessage(rule, result)
			s.logger.Info("request blocked", "rule", rule.Name, "message", message)
			return Verdict{
				Allowed:  false,
				Kind:     KindRuleFailed,
				Status:   http.StatusBadRequest,
				RuleName: rule.Name,
				Message:  message,
			}, telemetry.OutcomeRejected
		}
	}

	s.logger.Debug("all rules passed", "rules", len(s.rules))
	return Verdict{Allowed: true}, telemetry.OutcomeAdmitted
}

// bypassRequested reports whether bypass is both allowed and requested.
// The flag value is parsed leniently: an unparseable value means no bypass.
func (s *Shield) bypassRequested(params ParamLookup) bool {
	if !s.bypassAllowed || params == nil {
		return false
	}
	raw, ok := params(s.bypassParam)
	if !ok {
		return false
	}
	requested, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && requested
}

// buildRejectionMessage synthesizes the operator-facing rejection text. The
// shape is stable so monitoring can script against it: rule name, gate
// expression, actual value when known, configured annotation when present.
func buildRejectionMessage(rule domain.Rule, result domain.EvaluationResult) string {
	var sb strings.Builder
	sb.WriteString("Query blocked by ExShield rule '")
	sb.WriteString(rule.Name)
	sb.WriteString("': expression '")
	sb.WriteString(rule.Expression)
	sb.WriteString("' evaluated to false.")

	if result.ActualValue != nil {
		sb.WriteString(" Actual value: ")
		sb.WriteString(formatValue(result.ActualValue))
	}

	if rule.HasMessage() {
		sb.WriteString(" (")
		sb.WriteString(rule.Message)
		sb.WriteString(")")
	}

	return sb.String()
}

// formatValue renders a diagnostic value for the rejection message.
// JSON-decoded numbers arrive as float64; integral ones print as integers so
// "150" appears rather than "150.000000" variants.
func formatValue(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprint(v)
}
