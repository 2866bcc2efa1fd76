package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/loomworks/loom/workflow"
	"github.com/loomworks/loom/workflow/expr"
)

// IfElseNode evaluates a boolean expression and routes to "true" or
// "false". Evaluation errors are swallowed and treated as false; a
// broken condition must never abort the run.
type IfElseNode struct {
	workflow.BaseNode
	logger *zap.Logger
}

func (n *IfElseNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "if_else",
		Description: "Branch based on a condition (true/false)",
		Inputs:      []string{"default"},
		Outputs:     []string{"true", "false"},
		Params: map[string]workflow.ParamSpec{
			"condition": {Type: "string", Description: "Boolean expression; use input for the previous result"},
			"value":     {Type: "string", Description: "Optional literal override of the input"},
		},
	}
}

func (n *IfElseNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	if override := n.Config().String("value", ""); override != "" {
		return override, nil
	}
	v, _ := n.DefaultInput(ec)
	return v, nil
}

func (n *IfElseNode) Compute(ctx context.Context, prep any) (any, error) {
	condition := n.Config().String("condition", "true")
	// Accept the builder's "{input}" placeholder as the input variable.
	condition = strings.ReplaceAll(condition, "{input}", "input")

	ok, err := expr.Evaluate(condition, map[string]any{"input": prep})
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("condition evaluation failed, treating as false",
				zap.String("node", n.Name()),
				zap.String("condition", condition),
				zap.Error(err),
			)
		}
		return false, nil
	}
	return ok, nil
}

func (n *IfElseNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	if result == true {
		return "true", nil
	}
	return "false", nil
}

// SwitchNode routes by exact (trimmed) string match of the input
// against up to three configured case values.
type SwitchNode struct {
	workflow.BaseNode
}

var switchCases = []string{"case_1", "case_2", "case_3"}

func (n *SwitchNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "switch",
		Description: "Route to different outputs based on value matching",
		Inputs:      []string{"default"},
		Outputs:     []string{"case_1", "case_2", "case_3", "default"},
		Params: map[string]workflow.ParamSpec{
			"case_1": {Type: "string", Description: "Value to match for case_1"},
			"case_2": {Type: "string", Description: "Value to match for case_2"},
			"case_3": {Type: "string", Description: "Value to match for case_3"},
		},
	}
}

func (n *SwitchNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	v, _ := n.DefaultInput(ec)
	return strings.TrimSpace(stringOf(v)), nil
}

func (n *SwitchNode) Compute(ctx context.Context, prep any) (any, error) {
	input := prep.(string)
	for _, name := range switchCases {
		caseVal := strings.TrimSpace(n.Config().String(name, ""))
		if caseVal != "" && input == caseVal {
			return name, nil
		}
	}
	return string(workflow.TransitionDefault), nil
}

func (n *SwitchNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	return workflow.Transition(result.(string)), nil
}

// MergeNode joins multiple branches by passing through whichever
// result is currently most recent. This is last-writer-wins, not a
// true join: there is no synchronization across inputs.
type MergeNode struct {
	workflow.BaseNode
}

func (n *MergeNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "merge",
		Description: "Combine multiple inputs into one output (last writer wins)",
		Inputs:      []string{"a", "b", "c"},
		Outputs:     []string{"default"},
	}
}

func (n *MergeNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	v, _ := ec.LastResult()
	return v, nil
}

func (n *MergeNode) Compute(ctx context.Context, prep any) (any, error) {
	return prep, nil
}

func (n *MergeNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	return "", nil
}

// TryCatchNode inspects the previous result for error markers and
// routes to "success" or "error". Matching is substring-based against
// a configurable comma-separated pattern list.
type TryCatchNode struct {
	workflow.BaseNode
}

const defaultErrorPatterns = "Error,error,Exception,Failed,failed"

func (n *TryCatchNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "try_catch",
		Description: "Route to success or error path based on the previous result",
		Inputs:      []string{"default"},
		Outputs:     []string{"success", "error"},
		Params: map[string]workflow.ParamSpec{
			"error_patterns": {
				Type:        "string",
				Default:     defaultErrorPatterns,
				Description: "Comma-separated substrings that mark a result as an error",
			},
		},
	}
}

func (n *TryCatchNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	v, _ := n.DefaultInput(ec)
	return v, nil
}

type tryCatchOutcome struct {
	isError bool
	value   any
	message string
}

func (n *TryCatchNode) Compute(ctx context.Context, prep any) (any, error) {
	input := ""
	if prep != nil {
		input = stringOf(prep)
	}
	for _, pattern := range strings.Split(n.Config().String("error_patterns", defaultErrorPatterns), ",") {
		pattern = strings.TrimSpace(pattern)
		if pattern != "" && strings.Contains(input, pattern) {
			return tryCatchOutcome{isError: true, value: prep, message: input}, nil
		}
	}
	return tryCatchOutcome{value: prep}, nil
}

func (n *TryCatchNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	out := result.(tryCatchOutcome)
	if out.isError {
		ec.Memory["last_error"] = out.message
		n.Commit(ec, out.message)
		return "error", nil
	}
	n.Commit(ec, out.value)
	return "success", nil
}

// DelayNode blocks its run's goroutine for the configured duration and
// passes the input through.
type DelayNode struct {
	workflow.BaseNode
}

func (n *DelayNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "delay",
		Description: "Pause execution for the configured number of seconds",
		Inputs:      []string{"default"},
		Outputs:     []string{"default"},
		Params: map[string]workflow.ParamSpec{
			"seconds": {Type: "float", Default: 1.0, Description: "Duration to wait"},
			"message": {Type: "string", Description: "Optional message logged while waiting"},
		},
	}
}

func (n *DelayNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	v, _ := n.DefaultInput(ec)
	return v, nil
}

func (n *DelayNode) Compute(ctx context.Context, prep any) (any, error) {
	seconds := n.Config().Float("seconds", 1.0)
	if seconds < 0 {
		seconds = 0
	}
	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return prep, nil
}

func (n *DelayNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	return "", nil
}

// JSONDispatcherNode parses the previous result as a JSON object and
// routes on the value under a configured key, matching up to three
// target values. Anything that is not a JSON object falls through to
// "default".
type JSONDispatcherNode struct {
	workflow.BaseNode
}

var dispatcherActions = []string{"action_1", "action_2", "action_3"}

func (n *JSONDispatcherNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "json_dispatcher",
		Description: "Route based on a key in a JSON object result",
		Inputs:      []string{"default"},
		Outputs:     []string{"action_1", "action_2", "action_3", "default"},
		Params: map[string]workflow.ParamSpec{
			"key":      {Type: "string", Default: "action", Description: "Object key to route on"},
			"action_1": {Type: "string", Description: "Value routing to action_1"},
			"action_2": {Type: "string", Description: "Value routing to action_2"},
			"action_3": {Type: "string", Description: "Value routing to action_3"},
		},
	}
}

func (n *JSONDispatcherNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	v, _ := n.DefaultInput(ec)
	return v, nil
}

type dispatchOutcome struct {
	transition string
	value      any
}

func (n *JSONDispatcherNode) Compute(ctx context.Context, prep any) (any, error) {
	obj, ok := asJSONObject(prep)
	if !ok {
		return dispatchOutcome{transition: string(workflow.TransitionDefault), value: prep}, nil
	}

	key := n.Config().String("key", "action")
	routed := strings.TrimSpace(stringOf(obj[key]))
	for _, name := range dispatcherActions {
		target := strings.TrimSpace(n.Config().String(name, ""))
		if target != "" && routed == target {
			return dispatchOutcome{transition: name, value: obj}, nil
		}
	}
	return dispatchOutcome{transition: string(workflow.TransitionDefault), value: obj}, nil
}

func (n *JSONDispatcherNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	out := result.(dispatchOutcome)
	n.Commit(ec, out.value)
	return workflow.Transition(out.transition), nil
}

// asJSONObject coerces the value into a JSON object, parsing strings
// and stripping fenced code-block markers LLM outputs tend to carry.
func asJSONObject(v any) (map[string]any, bool) {
	switch tv := v.(type) {
	case map[string]any:
		return tv, true
	case string:
		text := strings.TrimSpace(tv)
		if strings.HasPrefix(text, "```") {
			text = strings.TrimPrefix(text, "```json")
			text = strings.TrimPrefix(text, "```")
			text = strings.TrimSuffix(text, "```")
			text = strings.TrimSpace(text)
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, false
		}
		return obj, true
	default:
		return nil, false
	}
}

func stringOf(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	default:
		return fmt.Sprintf("%v", tv)
	}
}
