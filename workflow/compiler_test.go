package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/types"
)

// ---------------------------------------------------------------------------
// Test node types
// ---------------------------------------------------------------------------

// emitNode commits a configured value and follows a configured
// transition, recording its execution in the shared trace.
type emitNode struct {
	BaseNode
	trace *[]string
}

func (n *emitNode) Schema() NodeSchema {
	return NodeSchema{Type: "emit", Inputs: []string{"default"}, Outputs: []string{"default"}}
}

func (n *emitNode) Prepare(ctx context.Context, ec *Context) (any, error) {
	v, _ := n.DefaultInput(ec)
	return v, nil
}

func (n *emitNode) Compute(ctx context.Context, prep any) (any, error) {
	if n.trace != nil {
		*n.trace = append(*n.trace, n.Name())
	}
	if v, ok := n.Config()["value"]; ok {
		return v, nil
	}
	return n.Name(), nil
}

func (n *emitNode) Finalize(ctx context.Context, ec *Context, prep, result any) (Transition, error) {
	n.Commit(ec, result)
	return Transition(n.Config().String("transition", "default")), nil
}

// failNode always fails its Compute phase.
type failNode struct {
	BaseNode
}

func (n *failNode) Schema() NodeSchema {
	return NodeSchema{Type: "fail", Inputs: []string{"default"}, Outputs: []string{"default"}}
}

func (n *failNode) Prepare(ctx context.Context, ec *Context) (any, error) { return nil, nil }
func (n *failNode) Compute(ctx context.Context, prep any) (any, error) {
	return nil, errors.New("boom")
}
func (n *failNode) Finalize(ctx context.Context, ec *Context, prep, result any) (Transition, error) {
	return TransitionDefault, nil
}

// panicNode panics mid-lifecycle.
type panicNode struct {
	BaseNode
}

func (n *panicNode) Schema() NodeSchema {
	return NodeSchema{Type: "panic", Inputs: []string{"default"}, Outputs: []string{"default"}}
}

func (n *panicNode) Prepare(ctx context.Context, ec *Context) (any, error) { return nil, nil }
func (n *panicNode) Compute(ctx context.Context, prep any) (any, error)   { panic("kaboom") }
func (n *panicNode) Finalize(ctx context.Context, ec *Context, prep, result any) (Transition, error) {
	return TransitionDefault, nil
}

func testRegistry(trace *[]string) *Registry {
	reg := NewRegistry()
	reg.Register(func() Node { return &emitNode{trace: trace} })
	reg.Register(func() Node { return &failNode{} })
	reg.Register(func() Node { return &panicNode{} })
	return reg
}

func emitDef(id string, data map[string]any) NodeDef {
	return NodeDef{ID: id, Type: "emit", Data: data}
}

func edge(source, target string) Edge {
	return Edge{Source: source, Target: target}
}

// ---------------------------------------------------------------------------
// Compile
// ---------------------------------------------------------------------------

func TestCompile_LinearChain(t *testing.T) {
	def := &Definition{
		Name:  "chain",
		Nodes: []NodeDef{emitDef("a", nil), emitDef("b", nil), emitDef("c", nil)},
		Edges: []Edge{edge("a", "b"), edge("b", "c")},
	}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	require.Len(t, g.Roots(), 1)
	assert.Equal(t, "a", g.Roots()[0].ID())

	next, ok := g.Next("a", TransitionDefault)
	require.True(t, ok)
	assert.Equal(t, "b", next.ID())

	_, ok = g.Next("c", TransitionDefault)
	assert.False(t, ok)
}

func TestCompile_NamedTransitions(t *testing.T) {
	def := &Definition{
		Name:  "branching",
		Nodes: []NodeDef{emitDef("cond", nil), emitDef("yes", nil), emitDef("no", nil)},
		Edges: []Edge{
			{Source: "cond", Target: "yes", SourceHandle: "out-true"},
			{Source: "cond", Target: "no", SourceHandle: "out-false"},
		},
	}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)

	next, ok := g.Next("cond", "true")
	require.True(t, ok)
	assert.Equal(t, "yes", next.ID())

	next, ok = g.Next("cond", "false")
	require.True(t, ok)
	assert.Equal(t, "no", next.ID())

	_, ok = g.Next("cond", "default")
	assert.False(t, ok)
}

func TestCompile_FanOutWrapsMultipleTargets(t *testing.T) {
	def := &Definition{
		Name:  "fanout",
		Nodes: []NodeDef{emitDef("src", nil), emitDef("t1", nil), emitDef("t2", nil)},
		Edges: []Edge{edge("src", "t1"), edge("src", "t2")},
	}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)

	next, ok := g.Next("src", TransitionDefault)
	require.True(t, ok)
	branch, isFanout := next.(*fanout)
	require.True(t, isFanout, "multi-target transition must be a fan-out node")
	require.Len(t, branch.targets, 2)
	assert.Equal(t, "t1", branch.targets[0].ID())
	assert.Equal(t, "t2", branch.targets[1].ID())
}

func TestCompile_InputSlotMapping(t *testing.T) {
	def := &Definition{
		Name: "slots",
		Nodes: []NodeDef{
			{ID: "p1", Type: "emit", Label: "First"},
			{ID: "p2", Type: "emit", Label: "Second"},
			emitDef("merge", nil),
		},
		Edges: []Edge{
			{Source: "p1", Target: "merge", TargetHandle: "in-a"},
			{Source: "p2", Target: "merge", TargetHandle: "in-b"},
		},
	}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)

	node, ok := g.Node("merge")
	require.True(t, ok)

	ec := NewContext()
	ec.Results.Set("First", "v1")
	ec.Results.Set("Second", "v2")

	base := node.(*emitNode)
	v, found := base.Input(ec, "a")
	require.True(t, found)
	assert.Equal(t, "v1", v)
	v, found = base.Input(ec, "b")
	require.True(t, found)
	assert.Equal(t, "v2", v)
}

func TestCompile_UnknownTypeFails(t *testing.T) {
	def := &Definition{
		Name:  "bad",
		Nodes: []NodeDef{emitDef("a", nil), {ID: "x", Type: "does_not_exist"}},
		Edges: []Edge{edge("a", "x")},
	}

	_, err := Compile(def, testRegistry(nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrCompile, types.GetErrorCode(err))
}

func TestCompile_SkipUnknownTypes(t *testing.T) {
	def := &Definition{
		Name:  "legacy",
		Nodes: []NodeDef{emitDef("a", nil), {ID: "x", Type: "does_not_exist"}, emitDef("b", nil)},
		Edges: []Edge{edge("a", "x"), edge("x", "b")},
	}

	g, err := Compile(def, testRegistry(nil), SkipUnknownTypes())
	require.NoError(t, err)

	assert.Equal(t, 2, g.Len())
	_, ok := g.Node("x")
	assert.False(t, ok)
	// b lost its only inbound edge, so it becomes a root too.
	assert.Len(t, g.Roots(), 2)
}

func TestCompile_CyclicWithoutEntryFails(t *testing.T) {
	def := &Definition{
		Name:  "cycle",
		Nodes: []NodeDef{emitDef("a", nil), emitDef("b", nil)},
		Edges: []Edge{edge("a", "b"), edge("b", "a")},
	}

	_, err := Compile(def, testRegistry(nil))
	require.Error(t, err)
	assert.Equal(t, types.ErrCompile, types.GetErrorCode(err))
	assert.Contains(t, err.Error(), "no start node")
}

func TestCompile_CycleWithEntryIsAllowed(t *testing.T) {
	// a -> b -> c -> b is legal: b revisits are part of the execution
	// model, only a graph with no entry at all is rejected.
	def := &Definition{
		Name: "loopback",
		Nodes: []NodeDef{
			emitDef("a", nil),
			emitDef("b", nil),
			emitDef("c", nil),
		},
		Edges: []Edge{edge("a", "b"), edge("b", "c"), edge("c", "b")},
	}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)
	require.Len(t, g.Roots(), 1)
	assert.Equal(t, "a", g.Roots()[0].ID())
}

func TestCompile_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		def  *Definition
	}{
		{"duplicate ids", &Definition{Nodes: []NodeDef{emitDef("a", nil), emitDef("a", nil)}}},
		{"empty id", &Definition{Nodes: []NodeDef{{ID: "", Type: "emit"}}}},
		{"edge to missing node", &Definition{
			Nodes: []NodeDef{emitDef("a", nil)},
			Edges: []Edge{edge("a", "ghost")},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Compile(tc.def, testRegistry(nil))
			require.Error(t, err)
			assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
		})
	}
}

func TestCompile_RootOrderFollowsDeclaration(t *testing.T) {
	var nodes []NodeDef
	for i := 0; i < 5; i++ {
		nodes = append(nodes, emitDef(fmt.Sprintf("r%d", i), nil))
	}
	def := &Definition{Name: "multi-root", Nodes: nodes}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)
	require.Len(t, g.Roots(), 5)
	for i, root := range g.Roots() {
		assert.Equal(t, fmt.Sprintf("r%d", i), root.ID())
	}
}
