package nodes

import (
	"context"
	"encoding/json"
	"time"

	"github.com/loomworks/loom/hitl"
	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// HumanInputNode suspends its run until an external caller resumes the
// registered request, or until the timeout elapses. A timeout is a
// terminal outcome for this node, not a run failure.
type HumanInputNode struct {
	workflow.BaseNode
	suspensions *hitl.Manager
}

func (n *HumanInputNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "human_input",
		Description: "Pause and wait for human input",
		Inputs:      []string{"default"},
		Outputs:     []string{"approved", "rejected"},
		Params: map[string]workflow.ParamSpec{
			"prompt":          {Type: "string", Default: "Input required", Description: "Question shown to the user"},
			"fields":          {Type: "string", Description: `JSON field list like [{"name":"approved","type":"boolean"}]`},
			"timeout_seconds": {Type: "float", Default: 0, Description: "Wait limit; 0 waits indefinitely"},
		},
	}
}

type humanPrep struct {
	requestID string
	timeout   time.Duration
}

func (n *HumanInputNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	if n.suspensions == nil {
		return nil, types.NewError(types.ErrInternal, "human_input node requires a suspension manager")
	}

	fields := parseFields(n.Config().String("fields", ""))
	prompt := n.Config().String("prompt", "Input required")
	data, _ := n.DefaultInput(ec)

	req := hitl.Request{
		NodeID:   n.ID(),
		NodeName: n.Name(),
		Prompt:   prompt,
		Fields:   fields,
		Data:     data,
	}
	id := n.suspensions.Register(req)

	ec.Emit(workflow.EventUserInputRequired, map[string]any{
		"request_id": id,
		"node_id":    n.ID(),
		"prompt":     prompt,
		"fields":     fields,
		"data":       data,
	})

	timeout := time.Duration(n.Config().Float("timeout_seconds", 0) * float64(time.Second))
	return humanPrep{requestID: id, timeout: timeout}, nil
}

type humanOutcome struct {
	timedOut bool
	payload  map[string]any
}

func (n *HumanInputNode) Compute(ctx context.Context, prep any) (any, error) {
	p := prep.(humanPrep)
	payload, err := n.suspensions.Await(ctx, p.requestID, p.timeout)
	if err != nil {
		if types.IsCode(err, types.ErrSuspensionTimeout) {
			return humanOutcome{timedOut: true}, nil
		}
		return nil, err
	}
	return humanOutcome{payload: payload}, nil
}

func (n *HumanInputNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	out := result.(humanOutcome)

	if out.timedOut {
		n.Commit(ec, "Error: human input timed out")
		return workflow.TransitionDefault, nil
	}

	for k, v := range out.payload {
		ec.Memory[k] = v
	}
	n.Commit(ec, out.payload)

	approved := true
	if v, ok := out.payload["approved"]; ok {
		if b, isBool := v.(bool); isBool {
			approved = b
		}
	}
	if approved {
		return "approved", nil
	}
	return "rejected", nil
}

// parseFields decodes the configured field list, falling back to a
// single approval checkbox when absent or malformed.
func parseFields(raw string) []hitl.Field {
	if raw != "" {
		var fields []hitl.Field
		if err := json.Unmarshal([]byte(raw), &fields); err == nil && len(fields) > 0 {
			return fields
		}
	}
	return []hitl.Field{{Name: "approved", Type: "boolean", Label: "Approve?"}}
}
