package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/loomworks/loom/history"
)

// RunHandler serves the run history endpoints.
type RunHandler struct {
	logger  *zap.Logger
	history *history.Store
}

// NewRunHandler creates the run history endpoints.
func NewRunHandler(logger *zap.Logger, hist *history.Store) *RunHandler {
	return &RunHandler{
		logger:  logger.With(zap.String("component", "run_api")),
		history: hist,
	}
}

// HandleList serves GET /api/runs?workflow=<name>&limit=<n>.
func (h *RunHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	records, err := h.history.List(r.URL.Query().Get("workflow"), limit)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"runs": records})
}

// HandleGet serves GET /api/runs/{id}, including the stored results.
func (h *RunHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.history.Get(r.PathValue("id"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"run":     rec,
		"results": rec.Results(),
	})
}
