package nodes

import (
	"context"
	"fmt"

	"github.com/loomworks/loom/types"
	"github.com/loomworks/loom/workflow"
)

// MemoryNode reads and writes run memory, optionally backed by the
// persistent store so values survive across runs in the same
// workspace.
type MemoryNode struct {
	workflow.BaseNode
}

func (n *MemoryNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "memory",
		Description: "Get or set a memory value",
		Inputs:      []string{"default"},
		Outputs:     []string{"default"},
		Params: map[string]workflow.ParamSpec{
			"operation":  {Type: "string", Default: "get", Enum: []string{"get", "set"}, Description: "get or set"},
			"key":        {Type: "string", Description: "Memory key"},
			"value":      {Type: "string", Description: "Value to store; empty uses the incoming result"},
			"persistent": {Type: "bool", Default: false, Description: "Back the key with the external store"},
		},
	}
}

type memoryPrep struct {
	op    string
	key   string
	value any
}

func (n *MemoryNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	key := n.Config().String("key", "")
	if key == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "memory node requires key")
	}
	op := n.Config().String("operation", "get")

	switch op {
	case "get":
		if v, ok := ec.Memory[key]; ok {
			return memoryPrep{op: op, key: key, value: v}, nil
		}
		if n.Config().Bool("persistent", false) && ec.Store != nil {
			stored, ok, err := ec.Store.Get(ctx, ec.Namespace, key)
			if err != nil {
				return nil, fmt.Errorf("read persistent key %q: %w", key, err)
			}
			if ok {
				return memoryPrep{op: op, key: key, value: stored}, nil
			}
		}
		return memoryPrep{op: op, key: key}, nil

	case "set":
		value := any(n.Config().String("value", ""))
		if value == "" {
			if input, ok := n.DefaultInput(ec); ok {
				value = input
			}
		}
		return memoryPrep{op: op, key: key, value: value}, nil

	default:
		return nil, types.NewErrorf(types.ErrInvalidRequest, "memory node: unknown operation %q", op)
	}
}

func (n *MemoryNode) Compute(ctx context.Context, prep any) (any, error) {
	return prep.(memoryPrep).value, nil
}

func (n *MemoryNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	p := prep.(memoryPrep)

	if p.op == "set" {
		ec.Memory[p.key] = p.value
		if n.Config().Bool("persistent", false) && ec.Store != nil {
			if err := ec.Store.Set(ctx, ec.Namespace, p.key, stringOf(p.value)); err != nil {
				return "", fmt.Errorf("write persistent key %q: %w", p.key, err)
			}
		}
	}
	n.Commit(ec, p.value)
	return workflow.TransitionDefault, nil
}
