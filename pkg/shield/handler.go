package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/exshield/exshield/pkg/domain"
)

// Source yields the Shield to use for the current request, letting servers
// swap in a freshly configured Shield on hot reload without restarting.
type Source func() *Shield

// CheckRequest is the JSON body accepted by the standalone check endpoint.
// Analysis uses the map-shaped keys queryAnalysis / filtersAnalysis /
// mergedAnalysis; a missing analysis object means no analyzer ran.
type CheckRequest struct {
	Params   map[string]string `json:"params,omitempty"`
	Analysis map[string]any    `json:"analysis,omitempty"`
}

// CheckHandler serves POST /v1/check: it decodes a CheckRequest, runs the
// admission check, and responds 200 with the Verdict as JSON. Transport-level
// problems (bad method, malformed body) use transport statuses; the admission
// outcome itself is carried in the body so callers distinguish "your request
// was malformed" from "your query was blocked".
func CheckHandler(source Source, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "check_handler")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			logger.Warn("malformed check request", "error", err)
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		verdict := source().Check(r.Context(), ParamsFromMap(req.Params), domain.ViewsFromMap(req.Analysis))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(verdict)
	})
}
