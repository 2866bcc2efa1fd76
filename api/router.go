// Package api exposes the platform over HTTP: workflow CRUD and
// execution, node schemas, suspensions, workspaces, run history and
// the websocket event stream.
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomworks/loom/api/handlers"
)

// Handlers groups the endpoint implementations the router mounts.
type Handlers struct {
	Workflows   *handlers.WorkflowHandler
	Suspensions *handlers.SuspensionHandler
	Workspaces  *handlers.WorkspaceHandler
	Runs        *handlers.RunHandler
	Health      *handlers.HealthHandler
	Hub         *handlers.Hub
}

// NewRouter mounts every endpoint on a fresh mux.
func NewRouter(h Handlers) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health.HandleHealth)
	mux.HandleFunc("GET /ready", h.Health.HandleReady)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/nodes", h.Workflows.HandleSchemas)

	mux.HandleFunc("GET /api/workflows", h.Workflows.HandleList)
	mux.HandleFunc("POST /api/workflows", h.Workflows.HandleSave)
	mux.HandleFunc("GET /api/workflows/{name}", h.Workflows.HandleGet)
	mux.HandleFunc("DELETE /api/workflows/{name}", h.Workflows.HandleDelete)
	mux.HandleFunc("POST /api/workflows/{name}/run", h.Workflows.HandleRun)
	mux.HandleFunc("POST /api/run", h.Workflows.HandleRunInline)

	mux.HandleFunc("GET /api/suspensions", h.Suspensions.HandleList)
	mux.HandleFunc("DELETE /api/suspensions/{id}", h.Suspensions.HandleCancel)
	mux.HandleFunc("POST /api/resume/{id}", h.Suspensions.HandleResume)

	mux.HandleFunc("GET /api/workspaces", h.Workspaces.HandleList)
	mux.HandleFunc("POST /api/workspaces", h.Workspaces.HandleCreate)
	mux.HandleFunc("POST /api/workspaces/{name}/activate", h.Workspaces.HandleActivate)
	mux.HandleFunc("DELETE /api/workspaces/{name}", h.Workspaces.HandleDelete)

	mux.HandleFunc("GET /api/runs", h.Runs.HandleList)
	mux.HandleFunc("GET /api/runs/{id}", h.Runs.HandleGet)

	mux.HandleFunc("GET /ws", h.Hub.HandleWS)

	return mux
}
