package workflow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingSink captures event names in order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) Notify(event string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

func compileTestGraph(t *testing.T, def *Definition, trace *[]string) *Graph {
	t.Helper()
	g, err := Compile(def, testRegistry(trace))
	require.NoError(t, err)
	return g
}

func TestEngine_SingleNodeRun(t *testing.T) {
	def := &Definition{
		Name:  "single",
		Nodes: []NodeDef{emitDef("only", map[string]any{"value": "hello"})},
	}
	g := compileTestGraph(t, def, nil)

	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	res := e.Run(context.Background(), g)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "hello", res.Results["only"])
	assert.Empty(t, res.Error)
	assert.False(t, res.FinishedAt.Before(res.StartedAt))
}

func TestEngine_ChainExecutionOrder(t *testing.T) {
	var trace []string
	def := &Definition{
		Name: "chain",
		Nodes: []NodeDef{
			{ID: "a", Type: "emit", Label: "A"},
			{ID: "b", Type: "emit", Label: "B"},
			{ID: "c", Type: "emit", Label: "C"},
		},
		Edges: []Edge{edge("a", "b"), edge("b", "c")},
	}
	g := compileTestGraph(t, def, &trace)

	res := NewEngine(DefaultEngineConfig(), zap.NewNop()).Run(context.Background(), g)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"A", "B", "C"}, trace)
}

func TestEngine_FanOutRunsTargetsInEdgeOrder(t *testing.T) {
	var trace []string
	def := &Definition{
		Name: "fanout",
		Nodes: []NodeDef{
			{ID: "src", Type: "emit", Label: "Src"},
			{ID: "t1", Type: "emit", Label: "T1"},
			{ID: "t2", Type: "emit", Label: "T2"},
			{ID: "after", Type: "emit", Label: "After"},
		},
		Edges: []Edge{
			edge("src", "t1"),
			edge("src", "t2"),
			edge("t1", "after"),
		},
	}
	g := compileTestGraph(t, def, &trace)

	res := NewEngine(DefaultEngineConfig(), zap.NewNop()).Run(context.Background(), g)

	assert.Equal(t, StatusCompleted, res.Status)
	// The first branch runs to completion before the second starts.
	assert.Equal(t, []string{"Src", "T1", "After", "T2"}, trace)
}

func TestEngine_MissingTransitionEndsBranch(t *testing.T) {
	var trace []string
	def := &Definition{
		Name: "dead-end",
		Nodes: []NodeDef{
			{ID: "a", Type: "emit", Label: "A", Data: map[string]any{"transition": "nowhere"}},
			{ID: "b", Type: "emit", Label: "B"},
		},
		Edges: []Edge{edge("a", "b")},
	}
	g := compileTestGraph(t, def, &trace)

	res := NewEngine(DefaultEngineConfig(), zap.NewNop()).Run(context.Background(), g)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, []string{"A"}, trace, "unmatched transition terminates the branch")
}

func TestEngine_RevisitKeepsSingleResultEntry(t *testing.T) {
	// a -> b, then b revisited via c: the results map must hold one
	// entry for b, positioned last.
	def := &Definition{
		Name: "revisit",
		Nodes: []NodeDef{
			{ID: "a", Type: "emit", Label: "A"},
			{ID: "b", Type: "emit", Label: "B", Data: map[string]any{"transition": "next"}},
			{ID: "c", Type: "emit", Label: "C", Data: map[string]any{"transition": "back"}},
		},
		Edges: []Edge{
			edge("a", "b"),
			{Source: "b", Target: "c", SourceHandle: "out-next"},
			{Source: "c", Target: "b", SourceHandle: "out-back"},
		},
	}

	g, err := Compile(def, testRegistry(nil))
	require.NoError(t, err)

	ec := NewContext()
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())

	// Drive the revisit sequence directly so the loop stays bounded.
	for _, id := range []string{"a", "b", "c", "b"} {
		node, ok := g.Node(id)
		require.True(t, ok)
		_, err := e.execute(context.Background(), node, ec)
		require.NoError(t, err)
	}

	keys := ec.Results.Keys()
	count := 0
	for _, k := range keys {
		if k == "B" {
			count++
		}
	}
	assert.Equal(t, 1, count, "revisited node keeps one results entry")
	assert.Equal(t, "b", keys[len(keys)-1], "revisit moves the id entry to the end")
	assert.Equal(t, "B", keys[len(keys)-2], "revisit moves the name entry next to it")
}

func TestEngine_NodeErrorProducesErrorResult(t *testing.T) {
	def := &Definition{
		Name: "failing",
		Nodes: []NodeDef{
			{ID: "a", Type: "emit", Label: "A"},
			{ID: "bad", Type: "fail"},
		},
		Edges: []Edge{edge("a", "bad")},
	}
	g := compileTestGraph(t, def, nil)

	res := NewEngine(DefaultEngineConfig(), zap.NewNop()).Run(context.Background(), g)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "boom")
	// Results produced before the failure survive.
	assert.Equal(t, "A", res.Results["A"])
}

func TestEngine_NodePanicIsContained(t *testing.T) {
	def := &Definition{
		Name:  "panicking",
		Nodes: []NodeDef{{ID: "p", Type: "panic"}},
	}
	g := compileTestGraph(t, def, nil)

	res := NewEngine(DefaultEngineConfig(), zap.NewNop()).Run(context.Background(), g)

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "kaboom")
}

func TestEngine_EventOrder(t *testing.T) {
	sink := &recordingSink{}
	def := &Definition{
		Name:  "events",
		Nodes: []NodeDef{emitDef("n", nil)},
	}
	g := compileTestGraph(t, def, nil)

	e := NewEngine(DefaultEngineConfig(), zap.NewNop(), WithEngineSink(sink))
	res := e.Run(context.Background(), g)
	require.Equal(t, StatusCompleted, res.Status)

	assert.Equal(t, []string{
		EventWorkflowStart,
		EventNodeStart,
		EventNodeEnd,
		EventStateUpdate,
		EventWorkflowEnd,
	}, sink.names())
}

func TestEngine_ErrorEvents(t *testing.T) {
	sink := &recordingSink{}
	def := &Definition{
		Name:  "events-error",
		Nodes: []NodeDef{{ID: "bad", Type: "fail"}},
	}
	g := compileTestGraph(t, def, nil)

	e := NewEngine(DefaultEngineConfig(), zap.NewNop(), WithEngineSink(sink))
	res := e.Run(context.Background(), g)
	require.Equal(t, StatusError, res.Status)

	assert.Equal(t, []string{
		EventWorkflowStart,
		EventNodeStart,
		EventNodeError,
		EventWorkflowError,
	}, sink.names())
}

func TestEngine_PanickingSinkDoesNotAbortRun(t *testing.T) {
	sink := SinkFunc(func(event string, payload map[string]any) {
		panic("sink gone")
	})
	def := &Definition{
		Name:  "bad-sink",
		Nodes: []NodeDef{emitDef("n", nil)},
	}
	g := compileTestGraph(t, def, nil)

	e := NewEngine(DefaultEngineConfig(), zap.NewNop(), WithEngineSink(sink))
	res := e.Run(context.Background(), g)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestEngine_DepthLimit(t *testing.T) {
	def := &Definition{
		Name:  "deep",
		Nodes: []NodeDef{emitDef("n", nil)},
	}
	g := compileTestGraph(t, def, nil)

	ec := NewContext()
	for i := 0; i < 11; i++ {
		ec = ec.Fork(false)
	}

	e := NewEngine(DefaultEngineConfig(), zap.NewNop())
	res := e.Run(context.Background(), g, WithContext(ec))

	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.Error, "depth")
}

func TestEngine_ConcurrentRunsAreIsolated(t *testing.T) {
	def := &Definition{
		Name:  "concurrent",
		Nodes: []NodeDef{emitDef("n", map[string]any{"value": "v"})},
	}
	g := compileTestGraph(t, def, nil)
	e := NewEngine(DefaultEngineConfig(), zap.NewNop())

	const runs = 16
	var wg sync.WaitGroup
	results := make([]*RunResult, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = e.Run(context.Background(), g)
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, runs)
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, StatusCompleted, res.Status)
		assert.False(t, seen[res.RunID], "run ids must be unique")
		seen[res.RunID] = true
	}
}
