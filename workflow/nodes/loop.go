package nodes

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/loomworks/loom/workflow"
	"github.com/loomworks/loom/workflow/expr"
)

// loopState is the private per-node iteration state kept in the run
// context under the node's id.
type loopState struct {
	Items   []any
	Index   int
	LoopVar string
}

// LoopNode iterates over a materialized item list, taking the "loop"
// transition once per item and "done" when exhausted. Items are
// materialized once on first visit; each revisit picks up at the
// stored index. The current item and its index are published to
// memory under the configured loop variable.
type LoopNode struct {
	workflow.BaseNode
}

func (n *LoopNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "loop",
		Description: "Loop over items (JSON array or count)",
		Inputs:      []string{"default"},
		Outputs:     []string{"loop", "done"},
		Params: map[string]workflow.ParamSpec{
			"items":    {Type: "string", Description: `JSON array like ["a","b"] or a number for count`},
			"loop_var": {Type: "string", Default: "item", Description: "Memory key for the current item"},
		},
	}
}

func (n *LoopNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	if s, ok := ec.LoopState(n.ID()); ok {
		return s.(*loopState), nil
	}
	s := &loopState{
		Items:   materializeItems(n.Config().String("items", "[]")),
		LoopVar: n.Config().String("loop_var", "item"),
	}
	ec.SetLoopState(n.ID(), s)
	return s, nil
}

type loopStep struct {
	more    bool
	current any
	index   int
}

func (n *LoopNode) Compute(ctx context.Context, prep any) (any, error) {
	s := prep.(*loopState)
	if s.Index < len(s.Items) {
		return loopStep{more: true, current: s.Items[s.Index], index: s.Index}, nil
	}
	return loopStep{}, nil
}

func (n *LoopNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	s := prep.(*loopState)
	step := result.(loopStep)

	if step.more {
		ec.Memory[s.LoopVar] = step.current
		ec.Memory[s.LoopVar+"_index"] = step.index
		s.Index++
		n.Commit(ec, step.current)
		return "loop", nil
	}

	ec.ClearLoopState(n.ID())
	n.Commit(ec, "loop_complete")
	return "done", nil
}

// materializeItems turns the items parameter into a concrete list: a
// JSON array is used as-is, a number n becomes [0..n), any other
// scalar becomes a single-item list.
func materializeItems(raw string) []any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		switch v := parsed.(type) {
		case []any:
			return v
		case float64:
			return countItems(int(v))
		default:
			return []any{v}
		}
	}
	if count, err := strconv.Atoi(raw); err == nil {
		return countItems(count)
	}
	return nil
}

func countItems(count int) []any {
	if count <= 0 {
		return nil
	}
	items := make([]any, count)
	for i := range items {
		items[i] = float64(i)
	}
	return items
}

// whileState tracks the iteration counter for a WhileNode.
type whileState struct {
	Iteration int
}

// WhileNode loops while its condition holds, bounded by a hard
// iteration cap that wins even when the condition is still true.
// Evaluation errors terminate the loop rather than the run.
type WhileNode struct {
	workflow.BaseNode
	logger *zap.Logger
}

const defaultMaxIterations = 100

func (n *WhileNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "while_loop",
		Description: "Loop while a condition is true",
		Inputs:      []string{"default"},
		Outputs:     []string{"continue", "done"},
		Params: map[string]workflow.ParamSpec{
			"condition":      {Type: "string", Description: "Boolean expression over memory, iteration and input"},
			"max_iterations": {Type: "int", Default: defaultMaxIterations, Description: "Hard iteration cap"},
		},
	}
}

type whilePrep struct {
	state *whileState
	vars  map[string]any
}

func (n *WhileNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	var s *whileState
	if existing, ok := ec.LoopState(n.ID()); ok {
		s = existing.(*whileState)
	} else {
		s = &whileState{}
		ec.SetLoopState(n.ID(), s)
	}

	// Expression scope: memory plus the iteration counter and the
	// most recent result.
	vars := make(map[string]any, len(ec.Memory)+2)
	for k, v := range ec.Memory {
		vars[k] = v
	}
	vars["iteration"] = s.Iteration
	if input, ok := n.DefaultInput(ec); ok {
		vars["input"] = input
	}
	return whilePrep{state: s, vars: vars}, nil
}

func (n *WhileNode) Compute(ctx context.Context, prep any) (any, error) {
	p := prep.(whilePrep)
	if p.state.Iteration >= n.Config().Int("max_iterations", defaultMaxIterations) {
		return false, nil
	}

	condition := n.Config().String("condition", "false")
	condition = strings.ReplaceAll(condition, "{input}", "input")
	ok, err := expr.Evaluate(condition, p.vars)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("while condition failed, terminating loop",
				zap.String("node", n.Name()),
				zap.Error(err),
			)
		}
		return false, nil
	}
	return ok, nil
}

func (n *WhileNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	p := prep.(whilePrep)
	if result == true {
		p.state.Iteration++
		n.Commit(ec, p.state.Iteration)
		return "continue", nil
	}
	ec.ClearLoopState(n.ID())
	n.Commit(ec, "while_complete")
	return "done", nil
}
