package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"), zap.NewNop())
	require.NoError(t, err)
	return s
}

func finishedRun(id, name string, status workflow.Status, at time.Time) *workflow.RunResult {
	return &workflow.RunResult{
		RunID:      id,
		Workflow:   name,
		Status:     status,
		Results:    map[string]any{"Start": "Flow Started"},
		StartedAt:  at,
		FinishedAt: at.Add(time.Second),
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	s := newTestStore(t)

	run := finishedRun("run-1", "greeter", workflow.StatusCompleted, time.Now())
	s.Record(run, "default")

	rec, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "greeter", rec.Workflow)
	assert.Equal(t, "default", rec.Workspace)
	assert.Equal(t, string(workflow.StatusCompleted), rec.Status)
	assert.Equal(t, map[string]any{"Start": "Flow Started"}, rec.Results())
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get("no-such-run")
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 3; i++ {
		s.Record(finishedRun(fmt.Sprintf("run-%d", i), "wf", workflow.StatusCompleted,
			base.Add(time.Duration(i)*time.Minute)), "default")
	}

	recs, err := s.List("", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "run-2", recs[0].RunID)
	assert.Equal(t, "run-0", recs[2].RunID)
}

func TestStore_ListFilterAndLimit(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	s.Record(finishedRun("a1", "alpha", workflow.StatusCompleted, now), "default")
	s.Record(finishedRun("a2", "alpha", workflow.StatusError, now.Add(time.Minute)), "default")
	s.Record(finishedRun("b1", "beta", workflow.StatusCompleted, now), "default")

	recs, err := s.List("alpha", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.Equal(t, "alpha", rec.Workflow)
	}

	recs, err = s.List("", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	// Out-of-range limits fall back to the default of 50.
	recs, err = s.List("", 100000)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestStore_RecordErrorRun(t *testing.T) {
	s := newTestStore(t)

	run := finishedRun("failed", "wf", workflow.StatusError, time.Now())
	run.Error = "node step: boom"
	run.Results = nil
	s.Record(run, "")

	rec, err := s.Get("failed")
	require.NoError(t, err)
	assert.Equal(t, "node step: boom", rec.Error)
	assert.Nil(t, rec.Results())
}

func TestStore_DuplicateRunIDLoggedNotFatal(t *testing.T) {
	s := newTestStore(t)

	run := finishedRun("dup", "wf", workflow.StatusCompleted, time.Now())
	s.Record(run, "default")
	// The unique index rejects the second insert; Record swallows it.
	s.Record(run, "default")

	recs, err := s.List("", 0)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
