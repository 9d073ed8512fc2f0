package domain

// AnalysisViews carries the three per-request statistics mappings produced by
// an upstream query analyzer. Each view is independently optional; a nil map
// means the view was not supplied for this request. Values inside the maps may
// be primitives, nested maps, or opaque objects exposing named accessors.
//
// Views are created fresh per request, consumed once, and discarded.
type AnalysisViews struct {
	// Query holds the primary query statistics, exposed as 'query' in expressions.
	Query map[string]any
	// Filters holds filter-clause statistics, exposed as 'filters' in expressions.
	Filters map[string]any
	// Total holds the merged aggregate statistics, exposed as 'total' in expressions.
	Total map[string]any
}

// Map-shaped analysis payload keys accepted by ViewsFromMap.
const (
	QueryAnalysisKey   = "queryAnalysis"
	FiltersAnalysisKey = "filtersAnalysis"
	MergedAnalysisKey  = "mergedAnalysis"
)

// ViewsFromMap adapts a map-shaped analysis payload into AnalysisViews.
// Keys that are absent or not map-valued yield nil views rather than errors,
// mirroring how the host pipeline tolerates partial analysis data.
// A nil input yields nil, signalling that no analysis was supplied at all.
func ViewsFromMap(m map[string]any) *AnalysisViews {
	if m == nil {
		return nil
	}
	return &AnalysisViews{
		Query:   asStringMap(m[QueryAnalysisKey]),
		Filters: asStringMap(m[FiltersAnalysisKey]),
		Total:   asStringMap(m[MergedAnalysisKey]),
	}
}

func asStringMap(v any) map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return m
}
