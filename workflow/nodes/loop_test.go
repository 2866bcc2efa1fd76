package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/workflow"
)

func TestLoopNode_IteratesOverArray(t *testing.T) {
	n := bindNode(&LoopNode{}, "loop", workflow.Params{
		"items":    `["a","b","c"]`,
		"loop_var": "fruit",
	})
	ec := workflow.NewContext()

	for i, want := range []string{"a", "b", "c"} {
		tr := step(t, n, ec)
		assert.Equal(t, workflow.Transition("loop"), tr, "iteration %d", i)
		assert.Equal(t, want, ec.Memory["fruit"])
		assert.Equal(t, i, ec.Memory["fruit_index"])

		v, _ := ec.Results.Get("loop")
		assert.Equal(t, want, v)
	}

	tr := step(t, n, ec)
	assert.Equal(t, workflow.Transition("done"), tr)

	v, _ := ec.Results.Get("loop")
	assert.Equal(t, "loop_complete", v)

	// A later visit starts over rather than staying exhausted.
	_, ok := ec.LoopState("loop")
	assert.False(t, ok)
	assert.Equal(t, workflow.Transition("loop"), step(t, n, ec))
}

func TestLoopNode_CountItems(t *testing.T) {
	n := bindNode(&LoopNode{}, "loop", workflow.Params{"items": "3"})
	ec := workflow.NewContext()

	loops := 0
	for step(t, n, ec) == "loop" {
		loops++
		require.LessOrEqual(t, loops, 3)
		assert.Equal(t, float64(loops-1), ec.Memory["item"])
	}
	assert.Equal(t, 3, loops)
}

func TestLoopNode_EmptyItems(t *testing.T) {
	for _, items := range []string{"", "[]", "0", "-2"} {
		n := bindNode(&LoopNode{}, "loop", workflow.Params{"items": items})
		ec := workflow.NewContext()
		assert.Equal(t, workflow.Transition("done"), step(t, n, ec), "items %q", items)
	}
}

func TestMaterializeItems(t *testing.T) {
	assert.Equal(t, []any{"x", float64(2)}, materializeItems(`["x", 2]`))
	assert.Equal(t, []any{float64(0), float64(1)}, materializeItems("2"))
	assert.Equal(t, []any{true}, materializeItems("true"))
	assert.Nil(t, materializeItems("not json"))
	assert.Nil(t, materializeItems(""))
}

func TestWhileNode_RunsUntilConditionFalse(t *testing.T) {
	n := bindNode(&WhileNode{}, "while", workflow.Params{"condition": "iteration < 3"})
	ec := workflow.NewContext()

	for i := 1; i <= 3; i++ {
		tr := step(t, n, ec)
		assert.Equal(t, workflow.Transition("continue"), tr, "iteration %d", i)

		v, _ := ec.Results.Get("while")
		assert.Equal(t, i, v)
	}

	assert.Equal(t, workflow.Transition("done"), step(t, n, ec))
	v, _ := ec.Results.Get("while")
	assert.Equal(t, "while_complete", v)

	_, ok := ec.LoopState("while")
	assert.False(t, ok)
}

func TestWhileNode_MaxIterationsCapWins(t *testing.T) {
	n := bindNode(&WhileNode{}, "while", workflow.Params{
		"condition":      "true",
		"max_iterations": float64(5),
	})
	ec := workflow.NewContext()

	continues := 0
	for step(t, n, ec) == "continue" {
		continues++
		require.LessOrEqual(t, continues, 5)
	}
	assert.Equal(t, 5, continues)
}

func TestWhileNode_ConditionSeesMemoryAndInput(t *testing.T) {
	n := bindNode(&WhileNode{}, "while", workflow.Params{
		"condition": "count < 2 && {input} == 'go'",
	})
	ec := contextWithResult("prev", "go")
	ec.Memory["count"] = float64(0)

	assert.Equal(t, workflow.Transition("continue"), step(t, n, ec))

	ec.Memory["count"] = float64(5)
	// The while node committed its iteration count; the condition
	// reads input from the most recent result, so restore it.
	ec.Results.Set("prev", "go")
	assert.Equal(t, workflow.Transition("done"), step(t, n, ec))
}

func TestWhileNode_EvalErrorTerminatesLoop(t *testing.T) {
	n := bindNode(&WhileNode{}, "while", workflow.Params{"condition": "1 +"})
	ec := workflow.NewContext()
	assert.Equal(t, workflow.Transition("done"), step(t, n, ec))
}
