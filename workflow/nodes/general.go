package nodes

import (
	"context"

	"go.uber.org/zap"

	"github.com/loomworks/loom/workflow"
)

// StartNode is the entry point of a flow with an optional initial
// value.
type StartNode struct {
	workflow.BaseNode
}

func (n *StartNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "start",
		Description: "Entry point of the flow",
		Inputs:      []string{"default"},
		Outputs:     []string{"default"},
		Params: map[string]workflow.ParamSpec{
			"initial_value": {Type: "string", Description: "Optional initial input value"},
		},
	}
}

func (n *StartNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	return nil, nil
}

func (n *StartNode) Compute(ctx context.Context, prep any) (any, error) {
	if initial := n.Config().String("initial_value", ""); initial != "" {
		return initial, nil
	}
	return "Flow Started", nil
}

func (n *StartNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	return "", nil
}

// LogNode logs the previous result and passes it through.
type LogNode struct {
	workflow.BaseNode
	logger *zap.Logger
}

func (n *LogNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        "log",
		Description: "Log the input value",
		Inputs:      []string{"default"},
		Outputs:     []string{"default"},
		Params: map[string]workflow.ParamSpec{
			"prefix": {Type: "string", Description: "Prefix added to the log line"},
		},
	}
}

func (n *LogNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	v, _ := n.DefaultInput(ec)
	return v, nil
}

func (n *LogNode) Compute(ctx context.Context, prep any) (any, error) {
	if n.logger != nil {
		n.logger.Info("log node",
			zap.String("node", n.Name()),
			zap.String("prefix", n.Config().String("prefix", "")),
			zap.Any("value", prep),
		)
	}
	return prep, nil
}

func (n *LogNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	return "", nil
}

// ScheduleNode declares a time trigger for the workflow that contains
// it. The scheduler, not the node, acts on the trigger spec; when the
// flow actually runs the node is a plain entry passthrough.
type ScheduleNode struct {
	workflow.BaseNode
}

// ScheduleNodeType is the type name the scheduler scans for.
const ScheduleNodeType = "schedule"

func (n *ScheduleNode) Schema() workflow.NodeSchema {
	return workflow.NodeSchema{
		Type:        ScheduleNodeType,
		Description: "Run this workflow on a schedule (interval or cron)",
		Inputs:      []string{"default"},
		Outputs:     []string{"default"},
		Params: map[string]workflow.ParamSpec{
			"schedule_type": {
				Type:        "string",
				Enum:        []string{"Interval", "Cron"},
				Default:     "Interval",
				Description: "Type of schedule",
			},
			"interval_value": {Type: "int", Description: "Interval value (e.g. 5)"},
			"interval_unit": {
				Type:        "string",
				Enum:        []string{"Seconds", "Minutes", "Hours"},
				Default:     "Minutes",
				Description: "Interval unit",
			},
			"cron_expression": {Type: "string", Description: "Cron expression (e.g. '*/5 * * * *')"},
		},
	}
}

func (n *ScheduleNode) Prepare(ctx context.Context, ec *workflow.Context) (any, error) {
	return nil, nil
}

func (n *ScheduleNode) Compute(ctx context.Context, prep any) (any, error) {
	return "Schedule Triggered", nil
}

func (n *ScheduleNode) Finalize(ctx context.Context, ec *workflow.Context, prep, result any) (workflow.Transition, error) {
	n.Commit(ec, result)
	return "", nil
}
