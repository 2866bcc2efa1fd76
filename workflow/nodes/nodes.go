// Package nodes is the built-in node library: the control-flow set
// (conditional, switch, loop, while, merge, try/catch, delay,
// dispatcher, sub-workflow, human input) plus the minimal leaf nodes
// the platform ships with. All are implementations of the uniform
// workflow.Node contract; anything heavier (LLM calls, web search,
// SQL) plugs in through the same contract from outside.
package nodes

import (
	"context"

	"go.uber.org/zap"

	"github.com/loomworks/loom/hitl"
	"github.com/loomworks/loom/workflow"
)

// Loader reads persisted workflow definitions by name; the
// sub-workflow node uses it to load its target.
type Loader interface {
	Read(name string) (*workflow.Definition, error)
}

// Runner executes a compiled graph; satisfied by *workflow.Engine.
type Runner interface {
	Run(ctx context.Context, g *workflow.Graph, opts ...workflow.RunOption) *workflow.RunResult
}

// Deps carries the collaborators injected into nodes that need them.
type Deps struct {
	Logger      *zap.Logger
	Suspensions *hitl.Manager
	Loader      Loader
	Runner      Runner
	Registry    *workflow.Registry
}

// Register populates the registry with every built-in node type.
func Register(reg *workflow.Registry, deps Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	reg.Register(func() workflow.Node { return &StartNode{} })
	reg.Register(func() workflow.Node { return &LogNode{logger: deps.Logger} })
	reg.Register(func() workflow.Node { return &ScheduleNode{} })
	reg.Register(func() workflow.Node { return &MemoryNode{} })

	reg.Register(func() workflow.Node { return &IfElseNode{logger: deps.Logger} })
	reg.Register(func() workflow.Node { return &SwitchNode{} })
	reg.Register(func() workflow.Node { return &LoopNode{} })
	reg.Register(func() workflow.Node { return &WhileNode{logger: deps.Logger} })
	reg.Register(func() workflow.Node { return &MergeNode{} })
	reg.Register(func() workflow.Node { return &TryCatchNode{} })
	reg.Register(func() workflow.Node { return &DelayNode{} })
	reg.Register(func() workflow.Node { return &JSONDispatcherNode{} })
	reg.Register(func() workflow.Node {
		return &SubWorkflowNode{loader: deps.Loader, runner: deps.Runner, registry: deps.Registry}
	})
	reg.Register(func() workflow.Node {
		return &HumanInputNode{suspensions: deps.Suspensions}
	})
}
