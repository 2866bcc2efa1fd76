package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// DefaultWorkspace always exists and cannot be deleted.
const DefaultWorkspace = "default"

var workspaceName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Workspaces manages named isolation units under a single root
// directory. Each workspace owns a workflows directory and a data
// directory; the active workspace is a process-level cursor the API
// switches.
type Workspaces struct {
	root   string
	logger *zap.Logger

	mu     sync.RWMutex
	active string
}

// NewWorkspaces opens the workspace root, creating it and the default
// workspace on first use.
func NewWorkspaces(root string, logger *zap.Logger) (*Workspaces, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Workspaces{
		root:   root,
		logger: logger.With(zap.String("component", "workspaces")),
		active: DefaultWorkspace,
	}
	if err := w.ensure(DefaultWorkspace); err != nil {
		return nil, fmt.Errorf("init workspace root: %w", err)
	}
	return w, nil
}

// Active returns the currently selected workspace name.
func (w *Workspaces) Active() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.active
}

// SetActive switches the process to an existing workspace.
func (w *Workspaces) SetActive(name string) error {
	if !w.Exists(name) {
		return types.NewErrorf(types.ErrNotFound, "workspace %q not found", name).WithHTTPStatus(404)
	}
	w.mu.Lock()
	w.active = name
	w.mu.Unlock()
	w.logger.Info("workspace activated", zap.String("workspace", name))
	return nil
}

// List returns all workspace names, sorted.
func (w *Workspaces) List() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "read workspace root").WithCause(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether the named workspace directory is present.
func (w *Workspaces) Exists(name string) bool {
	if !workspaceName.MatchString(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(w.root, name))
	return err == nil && info.IsDir()
}

// Create makes a new workspace. Names collide case-sensitively; an
// existing workspace is a conflict, not an idempotent success.
func (w *Workspaces) Create(name string) error {
	if !workspaceName.MatchString(name) {
		return types.NewErrorf(types.ErrInvalidRequest, "invalid workspace name %q", name).WithHTTPStatus(400)
	}
	if w.Exists(name) {
		return types.NewErrorf(types.ErrConflict, "workspace %q already exists", name).WithHTTPStatus(409)
	}
	if err := w.ensure(name); err != nil {
		return err
	}
	w.logger.Info("workspace created", zap.String("workspace", name))
	return nil
}

// Delete removes a workspace and everything in it. The default and the
// active workspace are protected.
func (w *Workspaces) Delete(name string) error {
	if name == DefaultWorkspace {
		return types.NewError(types.ErrInvalidRequest, "default workspace cannot be deleted").WithHTTPStatus(400)
	}
	if name == w.Active() {
		return types.NewError(types.ErrConflict, "active workspace cannot be deleted").WithHTTPStatus(409)
	}
	if !w.Exists(name) {
		return types.NewErrorf(types.ErrNotFound, "workspace %q not found", name).WithHTTPStatus(404)
	}
	if err := os.RemoveAll(filepath.Join(w.root, name)); err != nil {
		return types.NewErrorf(types.ErrStorage, "delete workspace %q", name).WithCause(err)
	}
	w.logger.Info("workspace deleted", zap.String("workspace", name))
	return nil
}

// WorkflowsDir returns the directory holding the workspace's workflow
// definitions.
func (w *Workspaces) WorkflowsDir(name string) string {
	return filepath.Join(w.root, name, "workflows")
}

// DataDir returns the workspace's scratch data directory.
func (w *Workspaces) DataDir(name string) string {
	return filepath.Join(w.root, name, "data")
}

func (w *Workspaces) ensure(name string) error {
	for _, dir := range []string{w.WorkflowsDir(name), w.DataDir(name)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.NewErrorf(types.ErrStorage, "create workspace %q", name).WithCause(err)
		}
	}
	return nil
}
