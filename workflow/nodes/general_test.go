package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loomworks/loom/hitl"
	"github.com/loomworks/loom/workflow"
)

func TestStartNode(t *testing.T) {
	n := bindNode(&StartNode{}, "start", workflow.Params{})
	ec := workflow.NewContext()
	assert.Equal(t, workflow.Transition(""), step(t, n, ec))

	v, _ := ec.Results.Get("start")
	assert.Equal(t, "Flow Started", v)

	n = bindNode(&StartNode{}, "start", workflow.Params{"initial_value": "seed"})
	ec = workflow.NewContext()
	step(t, n, ec)
	v, _ = ec.Results.Get("start")
	assert.Equal(t, "seed", v)
}

func TestLogNode_PassesInputThrough(t *testing.T) {
	n := bindNode(&LogNode{logger: zap.NewNop()}, "log", workflow.Params{"prefix": "checkpoint"})
	ec := contextWithResult("prev", map[string]any{"k": "v"})
	step(t, n, ec)

	v, _ := ec.Results.Get("log")
	assert.Equal(t, map[string]any{"k": "v"}, v)
}

func TestScheduleNode(t *testing.T) {
	n := bindNode(&ScheduleNode{}, "sched", workflow.Params{"trigger_type": "interval", "interval_value": float64(5)})
	ec := workflow.NewContext()
	assert.Equal(t, workflow.Transition(""), step(t, n, ec))

	v, _ := ec.Results.Get("sched")
	assert.Equal(t, "Schedule Triggered", v)
}

func TestRegister_AllBuiltins(t *testing.T) {
	reg := workflow.NewRegistry()
	Register(reg, Deps{
		Logger:      zap.NewNop(),
		Suspensions: hitl.NewManager(zap.NewNop()),
	})

	for _, nodeType := range []string{
		"start", "log", "schedule", "memory",
		"if_else", "switch", "loop", "while_loop",
		"merge", "try_catch", "delay", "json_dispatcher",
		"sub_workflow", "human_input",
	} {
		_, ok := reg.Lookup(nodeType)
		assert.True(t, ok, "missing node type %q", nodeType)
	}

	require.Len(t, reg.Schemas(), 14)
}
