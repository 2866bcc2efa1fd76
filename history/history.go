// Package history records completed workflow runs in a local SQLite
// database for later inspection through the API.
package history

import (
	"encoding/json"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// RunRecord is one finished run as stored. Results are kept as a JSON
// blob; the row stays queryable by workflow, status and time.
type RunRecord struct {
	ID         uint      `gorm:"primaryKey" json:"-"`
	RunID      string    `gorm:"uniqueIndex;size:36" json:"run_id"`
	Workflow   string    `gorm:"index;size:255" json:"workflow"`
	Workspace  string    `gorm:"index;size:64" json:"workspace,omitempty"`
	Status     string    `gorm:"size:16" json:"status"`
	Error      string    `json:"error,omitempty"`
	ResultsRaw string    `gorm:"type:text" json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	CreatedAt  time.Time `json:"-"`
}

// TableName keeps the table name stable across gorm versions.
func (RunRecord) TableName() string { return "run_history" }

// Results decodes the stored results blob.
func (r RunRecord) Results() map[string]any {
	if r.ResultsRaw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(r.ResultsRaw), &out); err != nil {
		return nil
	}
	return out
}

// Store persists run records.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (or creates) the history database and migrates the
// schema.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewErrorf(types.ErrStorage, "open history database %s", path).WithCause(err)
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, types.NewError(types.ErrStorage, "migrate history schema").WithCause(err)
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "history")),
	}, nil
}

// Record stores one finished run. Failures are logged, not returned:
// history is an observer, never a reason to fail a run.
func (s *Store) Record(res *workflow.RunResult, workspace string) {
	raw, err := json.Marshal(res.Results)
	if err != nil {
		raw = nil
	}
	rec := RunRecord{
		RunID:      res.RunID,
		Workflow:   res.Workflow,
		Workspace:  workspace,
		Status:     string(res.Status),
		Error:      res.Error,
		ResultsRaw: string(raw),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		s.logger.Error("record run history",
			zap.String("run_id", res.RunID),
			zap.Error(err),
		)
	}
}

// List returns the most recent runs, newest first, optionally filtered
// by workflow name.
func (s *Store) List(workflowName string, limit int) ([]RunRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := s.db.Order("started_at desc").Limit(limit)
	if workflowName != "" {
		q = q.Where("workflow = ?", workflowName)
	}
	var out []RunRecord
	if err := q.Find(&out).Error; err != nil {
		return nil, types.NewError(types.ErrStorage, "list run history").WithCause(err)
	}
	return out, nil
}

// Get returns one run by its run id.
func (s *Store) Get(runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.Where("run_id = ?", runID).First(&rec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, types.NewErrorf(types.ErrNotFound, "run %q not found", runID).WithHTTPStatus(404)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStorage, "load run history").WithCause(err)
	}
	return &rec, nil
}
