// Package loom provides a top-level convenience entry point for
// compiling and running workflow definitions with minimal
// boilerplate.
//
// Usage:
//
//	import "github.com/loomworks/loom"
//
//	res, err := loom.Run(ctx, def)
//	res, err := loom.Run(ctx, def, loom.WithLogger(logger))
//
// This wires the built-in node library into a fresh engine per call.
// Long-running services should assemble workflow.Engine and
// workflow.Registry directly and reuse them across runs.
package loom

import (
	"context"

	"go.uber.org/zap"

	"github.com/loomworks/loom/hitl"
	"github.com/loomworks/loom/workflow"
	"github.com/loomworks/loom/workflow/nodes"
)

// Option configures a one-shot run.
type Option func(*runConfig)

type runConfig struct {
	logger *zap.Logger
	store  workflow.KV
	deps   nodes.Deps
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *runConfig) { c.logger = logger }
}

// WithStore backs persistent memory nodes with the given store.
func WithStore(kv workflow.KV) Option {
	return func(c *runConfig) { c.store = kv }
}

// WithLoader lets sub-workflow nodes resolve stored definitions.
func WithLoader(loader nodes.Loader) Option {
	return func(c *runConfig) { c.deps.Loader = loader }
}

// WithSuspensions lets human-input nodes suspend against the given
// manager instead of a throwaway one.
func WithSuspensions(mgr *hitl.Manager) Option {
	return func(c *runConfig) { c.deps.Suspensions = mgr }
}

// Run compiles the definition against the built-in node library and
// executes it synchronously.
func Run(ctx context.Context, def *workflow.Definition, opts ...Option) (*workflow.RunResult, error) {
	cfg := runConfig{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.deps.Suspensions == nil {
		cfg.deps.Suspensions = hitl.NewManager(cfg.logger)
	}
	cfg.deps.Logger = cfg.logger

	registry := workflow.NewRegistry()

	var engineOpts []workflow.EngineOption
	if cfg.store != nil {
		engineOpts = append(engineOpts, workflow.WithEngineStore(cfg.store))
	}
	engine := workflow.NewEngine(workflow.DefaultEngineConfig(), cfg.logger, engineOpts...)
	cfg.deps.Runner = engine
	cfg.deps.Registry = registry
	nodes.Register(registry, cfg.deps)

	graph, err := workflow.Compile(def, registry)
	if err != nil {
		return nil, err
	}
	return engine.Run(ctx, graph), nil
}
