package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/loomworks/loom/hitl"
)

// SuspensionHandler exposes pending human-input requests and the
// resume endpoint that unblocks them.
type SuspensionHandler struct {
	logger      *zap.Logger
	suspensions *hitl.Manager
}

// NewSuspensionHandler creates the suspension endpoints.
func NewSuspensionHandler(logger *zap.Logger, suspensions *hitl.Manager) *SuspensionHandler {
	return &SuspensionHandler{
		logger:      logger.With(zap.String("component", "suspension_api")),
		suspensions: suspensions,
	}
}

// HandleList serves GET /api/suspensions.
func (h *SuspensionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{"pending": h.suspensions.Pending()})
}

// HandleResume serves POST /api/resume/{id}. The body is the response
// payload handed to the waiting node; an empty body resumes with no
// data.
func (h *SuspensionHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	payload := map[string]any{}
	if r.ContentLength != 0 {
		if err := DecodeJSON(r, &payload, 1<<20); err != nil {
			WriteError(w, err, h.logger)
			return
		}
	}

	if err := h.suspensions.Resume(id, payload); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"resumed": id})
}

// HandleCancel serves DELETE /api/suspensions/{id}.
func (h *SuspensionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.suspensions.Cancel(id)
	WriteSuccess(w, map[string]any{"cancelled": id})
}
