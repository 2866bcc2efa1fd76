package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// sanitizeName maps a workflow name onto a safe file stem.
func sanitizeName(name string) string {
	return unsafeFileChars.ReplaceAllString(strings.TrimSpace(name), "_")
}

// WorkflowStore reads and writes workflow definitions as JSON files in
// the active workspace. One definition per file, file stem derived
// from the workflow name.
type WorkflowStore struct {
	workspaces *Workspaces
	logger     *zap.Logger
}

// NewWorkflowStore creates a definition store over the given
// workspaces.
func NewWorkflowStore(workspaces *Workspaces, logger *zap.Logger) *WorkflowStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowStore{
		workspaces: workspaces,
		logger:     logger.With(zap.String("component", "workflow_store")),
	}
}

func (s *WorkflowStore) dir() string {
	return s.workspaces.WorkflowsDir(s.workspaces.Active())
}

func (s *WorkflowStore) path(name string) string {
	return filepath.Join(s.dir(), sanitizeName(name)+".json")
}

// List returns the stored workflow names, sorted.
func (s *WorkflowStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.NewError(types.ErrStorage, "read workflows directory").WithCause(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Read loads and validates one stored definition.
func (s *WorkflowStore) Read(name string) (*workflow.Definition, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewErrorf(types.ErrNotFound, "workflow %q not found", name).WithHTTPStatus(404)
		}
		return nil, types.NewErrorf(types.ErrStorage, "read workflow %q", name).WithCause(err)
	}
	def, err := workflow.ParseDefinition(data)
	if err != nil {
		return nil, err
	}
	if def.Name == "" {
		def.Name = name
	}
	return def, nil
}

// Write persists a definition, replacing any file with the same name.
// The write is atomic: a temp file in the same directory renamed over
// the target.
func (s *WorkflowStore) Write(def *workflow.Definition) error {
	if def.Name == "" {
		return types.NewError(types.ErrInvalidRequest, "workflow name is required").WithHTTPStatus(400)
	}
	if err := def.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(def, "", "  ")
	if err != nil {
		return types.NewErrorf(types.ErrStorage, "encode workflow %q", def.Name).WithCause(err)
	}

	target := s.path(def.Name)
	tmp, err := os.CreateTemp(s.dir(), ".workflow-*.tmp")
	if err != nil {
		return types.NewErrorf(types.ErrStorage, "write workflow %q", def.Name).WithCause(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return types.NewErrorf(types.ErrStorage, "write workflow %q", def.Name).WithCause(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return types.NewErrorf(types.ErrStorage, "write workflow %q", def.Name).WithCause(err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return types.NewErrorf(types.ErrStorage, "write workflow %q", def.Name).WithCause(err)
	}

	s.logger.Info("workflow saved",
		zap.String("workflow", def.Name),
		zap.Int("nodes", len(def.Nodes)),
	)
	return nil
}

// Delete removes a stored definition.
func (s *WorkflowStore) Delete(name string) error {
	if err := os.Remove(s.path(name)); err != nil {
		if os.IsNotExist(err) {
			return types.NewErrorf(types.ErrNotFound, "workflow %q not found", name).WithHTTPStatus(404)
		}
		return types.NewErrorf(types.ErrStorage, "delete workflow %q", name).WithCause(err)
	}
	s.logger.Info("workflow deleted", zap.String("workflow", name))
	return nil
}
