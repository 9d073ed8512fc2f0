package domain

import (
	"errors"
	"testing"
)

func TestNewRule(t *testing.T) {
	rule, err := NewRule("  max-count ", " query.count <= 100 ", " query.count ", " Count must not exceed 100 ")
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if rule.Name != "max-count" {
		t.Fatalf("Name = %q, want %q", rule.Name, "max-count")
	}
	if rule.Expression != "query.count <= 100" {
		t.Fatalf("Expression = %q, want trimmed", rule.Expression)
	}
	if !rule.HasValueExpression() || !rule.HasMessage() {
		t.Fatalf("optional fields not retained: %v", rule)
	}
}

func TestNewRule_RequiredFields(t *testing.T) {
	tests := []struct {
		name       string
		ruleName   string
		expression string
	}{
		{name: "blank name", ruleName: "", expression: "query.count <= 100"},
		{name: "whitespace name", ruleName: "   ", expression: "query.count <= 100"},
		{name: "blank expression", ruleName: "max-count", expression: ""},
		{name: "whitespace expression", ruleName: "max-count", expression: "  \t "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRule(tt.ruleName, tt.expression, "", "")
			if !errors.Is(err, ErrInvalidRule) {
				t.Fatalf("NewRule() error = %v, want ErrInvalidRule", err)
			}
		})
	}
}

func TestNewRule_OptionalFieldsMayBeBlank(t *testing.T) {
	rule, err := NewRule("max-count", "query.count <= 100", "", "")
	if err != nil {
		t.Fatalf("NewRule() error = %v", err)
	}
	if rule.HasValueExpression() || rule.HasMessage() {
		t.Fatalf("blank optional fields reported as present: %v", rule)
	}
}

func TestViewsFromMap(t *testing.T) {
	views := ViewsFromMap(map[string]any{
		QueryAnalysisKey:   map[string]any{"count": float64(42)},
		FiltersAnalysisKey: map[string]any{"cost": float64(3)},
		MergedAnalysisKey:  map[string]any{"total": float64(45)},
	})
	if views == nil {
		t.Fatal("ViewsFromMap() = nil for populated payload")
	}
	if views.Query["count"] != float64(42) || views.Filters["cost"] != float64(3) || views.Total["total"] != float64(45) {
		t.Fatalf("views not mapped: %+v", views)
	}
}

func TestViewsFromMap_PartialAndMalformed(t *testing.T) {
	if ViewsFromMap(nil) != nil {
		t.Fatal("nil payload must yield nil views")
	}

	// Absent and non-map values yield nil views without erroring.
	views := ViewsFromMap(map[string]any{
		QueryAnalysisKey:   map[string]any{"count": float64(1)},
		FiltersAnalysisKey: "not a map",
	})
	if views == nil {
		t.Fatal("partial payload must still yield views")
	}
	if views.Query == nil {
		t.Fatal("query view lost")
	}
	if views.Filters != nil || views.Total != nil {
		t.Fatalf("malformed or absent views must be nil: %+v", views)
	}
}
