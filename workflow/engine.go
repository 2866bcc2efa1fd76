package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// Status is the terminal state of a run.
type Status string

const (
	// StatusCompleted indicates the walk finished without an
	// unhandled error.
	StatusCompleted Status = "completed"
	// StatusError indicates an unhandled error aborted the run.
	StatusError Status = "error"
)

// RunResult is the structured outcome of one run. Run-level failures
// are reported here rather than thrown across the API boundary.
type RunResult struct {
	RunID    string         `json:"run_id"`
	Workflow string         `json:"workflow,omitempty"`
	Status   Status         `json:"status"`
	Results  map[string]any `json:"results"`
	// ResultOrder lists result keys oldest to most recent.
	ResultOrder []string  `json:"result_order,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// EngineConfig bounds engine behavior.
type EngineConfig struct {
	// MaxSubWorkflowDepth caps nested sub-workflow invocations.
	MaxSubWorkflowDepth int `yaml:"max_sub_workflow_depth"`
}

// DefaultEngineConfig returns the default engine limits.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{MaxSubWorkflowDepth: 10}
}

// Engine walks compiled graphs. One Engine serves many concurrent
// runs; each run executes on its caller's goroutine with its own
// Context, so a suspended or slow run never blocks another.
type Engine struct {
	cfg    EngineConfig
	logger *zap.Logger
	sink   Sink
	store  KV
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineSink sets the default event sink for all runs.
func WithEngineSink(s Sink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithEngineStore sets the persistent KV collaborator handed to every
// run context.
func WithEngineStore(kv KV) EngineOption {
	return func(e *Engine) { e.store = kv }
}

// NewEngine creates an execution engine.
func NewEngine(cfg EngineConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSubWorkflowDepth <= 0 {
		cfg.MaxSubWorkflowDepth = DefaultEngineConfig().MaxSubWorkflowDepth
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "engine")),
		sink:   NopSink(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type runOptions struct {
	ec        *Context
	sink      Sink
	namespace string
}

// RunOption configures a single run.
type RunOption func(*runOptions)

// WithContext supplies an initial run context, typically a fork for a
// sub-workflow invocation.
func WithContext(ec *Context) RunOption {
	return func(o *runOptions) { o.ec = ec }
}

// WithSink attaches an additional event sink for this run only.
func WithSink(s Sink) RunOption {
	return func(o *runOptions) { o.sink = s }
}

// WithNamespace scopes the run's persistent store access.
func WithNamespace(ns string) RunOption {
	return func(o *runOptions) { o.namespace = ns }
}

// Run walks the graph from each root in declaration order against one
// shared context and returns the structured run outcome. Unhandled
// node errors produce a StatusError result, never a panic or a Go
// error across this boundary.
func (e *Engine) Run(ctx context.Context, g *Graph, opts ...RunOption) *RunResult {
	o := runOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	ec := o.ec
	if ec == nil {
		ec = NewContext()
	}
	if ec.Store == nil {
		ec.Store = e.store
	}
	if o.namespace != "" {
		ec.Namespace = o.namespace
	}

	sink := e.sink
	if o.sink != nil {
		sink = MultiSink(e.sink, o.sink)
	}
	ec.emit = func(event string, payload map[string]any) {
		notify(e.logger, sink, event, payload)
	}

	res := &RunResult{
		RunID:     uuid.NewString(),
		Workflow:  g.Name(),
		StartedAt: time.Now(),
	}
	log := e.logger.With(
		zap.String("run_id", res.RunID),
		zap.String("workflow", g.Name()),
	)

	if ec.Depth() > e.cfg.MaxSubWorkflowDepth {
		err := types.NewErrorf(types.ErrDepthExceeded,
			"sub-workflow depth %d exceeds limit %d", ec.Depth(), e.cfg.MaxSubWorkflowDepth)
		return e.finish(log, ec, res, err)
	}

	log.Info("workflow run starting", zap.Int("nodes", g.Len()))
	ec.Emit(EventWorkflowStart, map[string]any{
		"run_id":   res.RunID,
		"workflow": g.Name(),
	})

	var runErr error
	for _, root := range g.Roots() {
		if runErr = e.walk(ctx, g, root, ec); runErr != nil {
			break
		}
	}
	return e.finish(log, ec, res, runErr)
}

func (e *Engine) finish(log *zap.Logger, ec *Context, res *RunResult, runErr error) *RunResult {
	res.FinishedAt = time.Now()
	res.Results = ec.Results.Map()
	res.ResultOrder = ec.Results.Keys()

	if runErr != nil {
		res.Status = StatusError
		res.Error = runErr.Error()
		log.Error("workflow run failed", zap.Error(runErr))
		ec.Emit(EventWorkflowError, map[string]any{
			"run_id": res.RunID,
			"error":  runErr.Error(),
		})
		return res
	}

	res.Status = StatusCompleted
	log.Info("workflow run completed",
		zap.Int("results", len(res.Results)),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	)
	ec.Emit(EventWorkflowEnd, map[string]any{
		"run_id": res.RunID,
		"status": string(StatusCompleted),
	})
	return res
}

// walk follows transitions from node until a branch terminates. Fan-out
// nodes execute each target's chain sequentially and then end the
// branch themselves.
func (e *Engine) walk(ctx context.Context, g *Graph, node Node, ec *Context) error {
	cur := node
	for cur != nil {
		if branch, ok := cur.(*fanout); ok {
			for _, target := range branch.targets {
				if err := e.walk(ctx, g, target, ec); err != nil {
					return err
				}
			}
			return nil
		}

		transition, err := e.execute(ctx, cur, ec)
		if err != nil {
			return err
		}
		if transition == "" {
			transition = TransitionDefault
		}
		next, ok := g.Next(cur.ID(), transition)
		if !ok {
			return nil
		}
		cur = next
	}
	return nil
}

// execute drives one node through its lifecycle, emitting node_start,
// node_end and a state_update snapshot, or node_error on failure.
func (e *Engine) execute(ctx context.Context, node Node, ec *Context) (Transition, error) {
	ec.Emit(EventNodeStart, map[string]any{"node_id": node.ID()})
	started := time.Now()

	transition, err := e.lifecycle(ctx, node, ec)
	elapsed := time.Since(started)

	if err != nil {
		e.logger.Error("node execution failed",
			zap.String("node_id", node.ID()),
			zap.String("node", node.Name()),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		ec.Emit(EventNodeError, map[string]any{
			"node_id": node.ID(),
			"error":   err.Error(),
		})
		if types.GetErrorCode(err) != "" {
			return "", err
		}
		return "", types.NewErrorf(types.ErrNodeExecution, "node %s failed", node.ID()).WithCause(err)
	}

	ec.Emit(EventNodeEnd, map[string]any{
		"node_id":     node.ID(),
		"node_name":   node.Name(),
		"node_type":   node.Schema().Type,
		"duration_ms": elapsed.Milliseconds(),
	})
	ec.Emit(EventStateUpdate, ec.Snapshot())
	return transition, nil
}

// lifecycle runs Prepare, Compute and Finalize, converting panics from
// node implementations into execution errors.
func (e *Engine) lifecycle(ctx context.Context, node Node, ec *Context) (t Transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("node panic: %v", r)
		}
	}()

	prep, err := node.Prepare(ctx, ec)
	if err != nil {
		return "", fmt.Errorf("prepare: %w", err)
	}
	result, err := node.Compute(ctx, prep)
	if err != nil {
		return "", fmt.Errorf("compute: %w", err)
	}
	t, err = node.Finalize(ctx, ec, prep, result)
	if err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}
	return t, nil
}
