package nodes

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// SubWorkflowNode runs another stored workflow as a single node. The
// child runs with a forked context one level deeper; memory crosses
// the boundary only when pass_memory is set.
type SubWorkflowNode struct {
	workflow.BaseNode
	loader   Loader
	runner   Runner
	registry *workflow.Registry
}

func (n *SubWorkflowNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "sub_workflow",
		Description: "Run another workflow as a single step",
		Inputs:      []string{"default"},
		Outputs:     []string{"default"},
		Params: map[string]workflow.ParamSpec{
			"workflow_name": {Type: "string", Description: "Name of the stored workflow to run"},
			"pass_memory":   {Type: "bool", Default: false, Description: "Share memory with the child run"},
		},
	}
}

type subWorkflowPrep struct {
	graph *workflow.Graph
	child *workflow.Context
}

func (n *SubWorkflowNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	name := n.Config().String("workflow_name", "")
	if name == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "sub_workflow node requires workflow_name")
	}

	def, err := n.loader.Read(name)
	if err != nil {
		return nil, fmt.Errorf("load sub-workflow %q: %w", name, err)
	}
	graph, err := workflow.Compile(def, n.registry)
	if err != nil {
		return nil, fmt.Errorf("compile sub-workflow %q: %w", name, err)
	}

	passMemory := n.Config().Bool("pass_memory", false)
	return subWorkflowPrep{graph: graph, child: ec.Fork(passMemory)}, nil
}

func (n *SubWorkflowNode) Compute(ctx context.Context, prep any) (any, error) {
	p := prep.(subWorkflowPrep)
	result := n.runner.Run(ctx, p.graph, workflow.WithContext(p.child))
	if result.Status == workflow.StatusError {
		return nil, fmt.Errorf("sub-workflow %q: %s", p.graph.Name(), result.Error)
	}
	return result, nil
}

func (n *SubWorkflowNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	p := prep.(subWorkflowPrep)
	run := result.(*workflow.RunResult)

	if n.Config().Bool("pass_memory", false) {
		ec.MergeMemory(p.child)
	}
	n.Commit(ec, run.Results)
	return workflow.TransitionDefault, nil
}
