package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/loomworks/loom/store"
	"github.com/loomworks/loom/types"
)

// WorkspaceHandler serves workspace management endpoints.
type WorkspaceHandler struct {
	logger     *zap.Logger
	workspaces *store.Workspaces

	// refresh re-scans schedules after a workspace switch changes
	// which workflows are visible.
	refresh func()
}

// NewWorkspaceHandler creates the workspace endpoints.
func NewWorkspaceHandler(logger *zap.Logger, workspaces *store.Workspaces, refresh func()) *WorkspaceHandler {
	if refresh == nil {
		refresh = func() {}
	}
	return &WorkspaceHandler{
		logger:     logger.With(zap.String("component", "workspace_api")),
		workspaces: workspaces,
		refresh:    refresh,
	}
}

// HandleList serves GET /api/workspaces.
func (h *WorkspaceHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.workspaces.List()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"workspaces": names,
		"active":     h.workspaces.Active(),
	})
}

// HandleCreate serves POST /api/workspaces.
func (h *WorkspaceHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := DecodeJSON(r, &req, 1<<16); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if req.Name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"workspace name is required", h.logger)
		return
	}
	if err := h.workspaces.Create(req.Name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"created": req.Name})
}

// HandleActivate serves POST /api/workspaces/{name}/activate.
func (h *WorkspaceHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.workspaces.SetActive(name); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.refresh()
	WriteSuccess(w, map[string]any{"active": name})
}

// HandleDelete serves DELETE /api/workspaces/{name}.
func (h *WorkspaceHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.workspaces.Delete(r.PathValue("name")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"deleted": r.PathValue("name")})
}
