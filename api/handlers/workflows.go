package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/loomworks/loom/history"
	"github.com/loomworks/loom/store"
	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// Runner executes a compiled graph; satisfied by *workflow.Engine.
type Runner interface {
	Run(ctx context.Context, g *workflow.Graph, opts ...workflow.RunOption) *workflow.RunResult
}

// WorkflowHandler serves the workflow CRUD and execution endpoints.
type WorkflowHandler struct {
	logger     *zap.Logger
	store      *store.WorkflowStore
	workspaces *store.Workspaces
	registry   *workflow.Registry
	engine     Runner
	history    *history.Store

	// refresh re-scans schedules after definitions change.
	refresh func()
}

// NewWorkflowHandler creates the workflow endpoints.
func NewWorkflowHandler(
	logger *zap.Logger,
	st *store.WorkflowStore,
	workspaces *store.Workspaces,
	registry *workflow.Registry,
	engine Runner,
	hist *history.Store,
	refresh func(),
) *WorkflowHandler {
	if refresh == nil {
		refresh = func() {}
	}
	return &WorkflowHandler{
		logger:     logger.With(zap.String("component", "workflow_api")),
		store:      st,
		workspaces: workspaces,
		registry:   registry,
		engine:     engine,
		history:    hist,
		refresh:    refresh,
	}
}

// HandleList serves GET /api/workflows.
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	names, err := h.store.List()
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{"workflows": names})
}

// HandleGet serves GET /api/workflows/{name}.
func (h *WorkflowHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	def, err := h.store.Read(r.PathValue("name"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, def)
}

// HandleSave serves POST /api/workflows. The definition is compiled
// before it is persisted so a broken graph is rejected up front.
func (h *WorkflowHandler) HandleSave(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := DecodeJSON(r, &def, 4<<20); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if def.Name == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"workflow name is required", h.logger)
		return
	}
	if _, err := workflow.Compile(&def, h.registry); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if err := h.store.Write(&def); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.refresh()
	WriteSuccess(w, map[string]any{"name": def.Name, "nodes": len(def.Nodes)})
}

// HandleDelete serves DELETE /api/workflows/{name}.
func (h *WorkflowHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.PathValue("name")); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.refresh()
	WriteSuccess(w, map[string]any{"deleted": r.PathValue("name")})
}

// HandleRun serves POST /api/workflows/{name}/run. The run executes
// synchronously on this request's goroutine; a suspended run holds
// the response open until resumed or timed out.
func (h *WorkflowHandler) HandleRun(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	def, err := h.store.Read(name)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.runAndReply(w, r, def)
}

// HandleRunInline serves POST /api/run with a definition in the body,
// letting the builder execute unsaved drafts.
func (h *WorkflowHandler) HandleRunInline(w http.ResponseWriter, r *http.Request) {
	var def workflow.Definition
	if err := DecodeJSON(r, &def, 4<<20); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if err := def.Validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	h.runAndReply(w, r, &def)
}

func (h *WorkflowHandler) runAndReply(w http.ResponseWriter, r *http.Request, def *workflow.Definition) {
	graph, err := workflow.Compile(def, h.registry)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	workspace := h.workspaces.Active()
	res := h.engine.Run(r.Context(), graph, workflow.WithNamespace(workspace))
	if h.history != nil {
		h.history.Record(res, workspace)
	}
	WriteSuccess(w, res)
}

// HandleSchemas serves GET /api/nodes: the node type catalog the
// builder palette renders.
func (h *WorkflowHandler) HandleSchemas(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, map[string]any{"nodes": h.registry.Schemas()})
}
