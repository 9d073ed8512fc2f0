package expr

import "github.com/exshield/exshield/pkg/domain"

// Context is the evaluation scope for one request. It exposes exactly three
// bindings ("query", "filters", and "total"), each bound to the supplied
// analysis map or to an explicit null when the view was not supplied. Absent
// views still resolve by name, so expressions such as "filters == null" work
// without raising an unknown-identifier error.
//
// A Context is a pure function of its inputs and carries no mutable state.
type Context struct {
	bindings map[string]any
}

// NewContext builds an evaluation context from the three optional views.
func NewContext(query, filters, total map[string]any) *Context {
	return &Context{bindings: map[string]any{
		"query":   normalize(query),
		"filters": normalize(filters),
		"total":   normalize(total),
	}}
}

// NewViewContext builds an evaluation context from an AnalysisViews value.
// A nil views pointer binds all three names to null.
func NewViewContext(views *domain.AnalysisViews) *Context {
	if views == nil {
		return NewContext(nil, nil, nil)
	}
	return NewContext(views.Query, views.Filters, views.Total)
}

// Resolve returns the binding for name; ok is false for names outside the
// three analysis views.
func (c *Context) Resolve(name string) (any, bool) {
	value, ok := c.bindings[name]
	return value, ok
}

// normalize strips the typed-nil wrapper so absent views compare equal to the
// null literal inside expressions.
func normalize(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}
