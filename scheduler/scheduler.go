// Package scheduler fires stored workflows on the triggers their
// schedule nodes declare. The job set is rebuilt wholesale on every
// refresh; a ticking job is never half-updated.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
	"github.com/loomworks/loom/workflow/nodes"
)

// Source lists and loads the workflow definitions to scan for
// schedule nodes; satisfied by *store.WorkflowStore.
type Source interface {
	List() ([]string, error)
	Read(name string) (*workflow.Definition, error)
}

// RunFunc executes one scheduled workflow by name.
type RunFunc func(ctx context.Context, name string)

// Scheduler scans stored workflows for schedule nodes and fires them
// through the provided RunFunc. Overlapping fires of the same
// workflow are skipped, not queued.
type Scheduler struct {
	source Source
	run    RunFunc
	logger *zap.Logger

	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running map[string]*sync.Mutex
}

// New creates a scheduler over the given workflow source.
func New(source Source, run RunFunc, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		source:  source,
		run:     run,
		logger:  logger.With(zap.String("component", "scheduler")),
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		running: make(map[string]*sync.Mutex),
	}
}

// Start begins firing jobs and performs the initial scan.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.Refresh()
}

// Stop halts the ticker and waits for in-flight jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Jobs returns the names of currently scheduled workflows.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Refresh atomically rebuilds the job set from the current workflow
// store: every existing entry is removed, then every stored workflow
// with a schedule node is re-registered. A workflow with a broken
// trigger spec is logged and skipped; it never blocks the others.
func (s *Scheduler) Refresh() {
	names, err := s.source.List()
	if err != nil {
		s.logger.Error("scheduler refresh: list workflows", zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, id := range s.entries {
		s.cron.Remove(id)
		delete(s.entries, name)
	}

	for _, name := range names {
		def, err := s.source.Read(name)
		if err != nil {
			s.logger.Warn("scheduler refresh: skip unreadable workflow",
				zap.String("workflow", name), zap.Error(err))
			continue
		}
		node := def.FindByType(nodes.ScheduleNodeType)
		if node == nil {
			continue
		}
		schedule, err := parseTrigger(workflow.Params(node.Data))
		if err != nil {
			s.logger.Warn("scheduler refresh: skip invalid trigger",
				zap.String("workflow", name), zap.Error(err))
			continue
		}

		workflowName := name
		id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(workflowName) }))
		s.entries[name] = id
		s.logger.Info("workflow scheduled",
			zap.String("workflow", name),
			zap.String("schedule_type", workflow.Params(node.Data).String("schedule_type", "Interval")),
		)
	}
	s.logger.Info("scheduler refreshed", zap.Int("jobs", len(s.entries)))
}

// fire runs one scheduled workflow. A panic or error inside the run is
// contained to this job; a fire that arrives while the previous run of
// the same workflow is still going is skipped.
func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	gate, ok := s.running[name]
	if !ok {
		gate = &sync.Mutex{}
		s.running[name] = gate
	}
	s.mu.Unlock()

	if !gate.TryLock() {
		s.logger.Warn("scheduled run still in progress, skipping fire",
			zap.String("workflow", name))
		return
	}
	defer gate.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled run panicked",
				zap.String("workflow", name),
				zap.Any("panic", r),
			)
		}
	}()

	started := time.Now()
	s.logger.Info("scheduled run firing", zap.String("workflow", name))
	s.run(context.Background(), name)
	s.logger.Info("scheduled run finished",
		zap.String("workflow", name),
		zap.Duration("duration", time.Since(started)),
	)
}

// parseTrigger turns a schedule node's config into a cron schedule.
func parseTrigger(cfg workflow.Params) (cron.Schedule, error) {
	switch cfg.String("schedule_type", "Interval") {
	case "Cron":
		expr := cfg.String("cron_expression", "")
		if expr == "" {
			return nil, types.NewError(types.ErrSchedulerJob, "cron schedule requires cron_expression")
		}
		schedule, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, types.NewErrorf(types.ErrSchedulerJob, "invalid cron expression %q", expr).WithCause(err)
		}
		return schedule, nil

	case "Interval":
		value := cfg.Int("interval_value", 0)
		if value <= 0 {
			return nil, types.NewError(types.ErrSchedulerJob, "interval schedule requires a positive interval_value")
		}
		var unit time.Duration
		switch cfg.String("interval_unit", "Minutes") {
		case "Seconds":
			unit = time.Second
		case "Minutes":
			unit = time.Minute
		case "Hours":
			unit = time.Hour
		default:
			return nil, fmt.Errorf("unknown interval unit %q", cfg.String("interval_unit", ""))
		}
		return cron.Every(time.Duration(value) * unit), nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", cfg.String("schedule_type", ""))
	}
}
