package workflow

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// CompileOption adjusts compiler behavior.
type CompileOption func(*compileOptions)

type compileOptions struct {
	skipUnknown bool
	logger      *zap.Logger
}

// SkipUnknownTypes makes the compiler drop nodes whose type is not
// registered, with a warning, instead of aborting. This mirrors the
// legacy builder behavior and can silently disconnect a graph; the
// default is to fail compilation.
func SkipUnknownTypes() CompileOption {
	return func(o *compileOptions) { o.skipUnknown = true }
}

// WithCompileLogger sets the logger used for compile warnings.
func WithCompileLogger(logger *zap.Logger) CompileOption {
	return func(o *compileOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Graph is a compiled, executable workflow: node instances, named
// transitions per (node, output label), and the set of roots the
// engine starts from.
type Graph struct {
	name  string
	nodes map[string]Node
	// succ maps node id -> output label -> next node. A multi-target
	// group is represented by a single synthetic fan-out node.
	succ  map[string]map[Transition]Node
	roots []Node
}

// Name returns the workflow name the graph was compiled from.
func (g *Graph) Name() string { return g.name }

// Roots returns the entry nodes in definition declaration order.
func (g *Graph) Roots() []Node { return g.roots }

// Next resolves the successor for a node's returned transition.
func (g *Graph) Next(nodeID string, t Transition) (Node, bool) {
	n, ok := g.succ[nodeID][t]
	return n, ok
}

// Node returns the compiled instance for a definition node id.
func (g *Graph) Node(id string) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Len returns the number of compiled nodes, excluding synthetic
// fan-out nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// fanout is the synthetic branch node bound to one (source, label)
// transition with multiple targets. The engine executes each target's
// chain sequentially, in edge-declaration order, against the shared
// context. It contributes no results entry and has no successors.
type fanout struct {
	BaseNode
	targets []Node
}

func (f *fanout) Schema() NodeSchema {
	return NodeSchema{Type: "fanout", Description: "Sequential branch fan-out"}
}

func (f *fanout) Prepare(ctx context.Context, ec *Context) (any, error) {
	return nil, nil
}

func (f *fanout) Compute(ctx context.Context, prep any) (any, error) {
	return nil, nil
}

func (f *fanout) Finalize(ctx context.Context, ec *Context, prep, result any) (Transition, error) {
	return TransitionDefault, nil
}

// Compile turns a workflow definition into an executable graph.
//
// Each node is instantiated through the registry and bound to its
// config data. Edges are grouped by (source, output label): a group
// with one target becomes a direct named transition, a group with
// several targets is wrapped in a fan-out node. Per target, the input
// slot written by each edge is mapped to the predecessor's display
// name. Roots are the nodes with in-degree zero; a graph without
// roots is cyclic or empty and fails compilation.
func Compile(def *Definition, reg *Registry, opts ...CompileOption) (*Graph, error) {
	o := compileOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}

	g := &Graph{
		name:  def.Name,
		nodes: make(map[string]Node, len(def.Nodes)),
		succ:  make(map[string]map[Transition]Node),
	}

	known := make(map[string]NodeDef, len(def.Nodes))
	for _, nd := range def.Nodes {
		if _, ok := reg.Lookup(nd.Type); !ok {
			if o.skipUnknown {
				o.logger.Warn("unknown node type, dropping node",
					zap.String("node_id", nd.ID),
					zap.String("type", nd.Type),
				)
				continue
			}
			return nil, types.NewErrorf(types.ErrCompile,
				"unknown node type %q (node %s)", nd.Type, nd.ID).
				WithHTTPStatus(http.StatusBadRequest)
		}
		known[nd.ID] = nd
	}

	// Input mappings: per target, which predecessor feeds each slot.
	inputs := make(map[string]map[string]string)
	for _, e := range def.Edges {
		source, ok := known[e.Source]
		if !ok {
			continue // endpoint dropped with SkipUnknownTypes
		}
		if _, ok := known[e.Target]; !ok {
			continue
		}
		if inputs[e.Target] == nil {
			inputs[e.Target] = make(map[string]string)
		}
		inputs[e.Target][e.InputSlot()] = source.DisplayName()
	}

	for _, nd := range def.Nodes {
		if _, ok := known[nd.ID]; !ok {
			continue
		}
		factory, _ := reg.Lookup(nd.Type)
		node := factory()
		node.Bind(Binding{
			ID:     nd.ID,
			Name:   nd.DisplayName(),
			Config: Params(nd.Data),
			Inputs: inputs[nd.ID],
		})
		g.nodes[nd.ID] = node
	}

	// Group edges by (source, output label), preserving declaration
	// order within each group.
	type groupKey struct {
		source string
		label  Transition
	}
	groups := make(map[groupKey][]Node)
	var order []groupKey

	for _, e := range def.Edges {
		if _, ok := g.nodes[e.Source]; !ok {
			continue
		}
		target, ok := g.nodes[e.Target]
		if !ok {
			continue
		}
		key := groupKey{source: e.Source, label: Transition(e.OutputLabel())}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], target)
	}

	for _, key := range order {
		targets := groups[key]
		if g.succ[key.source] == nil {
			g.succ[key.source] = make(map[Transition]Node)
		}
		if len(targets) == 1 {
			g.succ[key.source][key.label] = targets[0]
			continue
		}
		branch := &fanout{targets: targets}
		branch.Bind(Binding{ID: key.source + ":" + string(key.label), Name: "fanout"})
		g.succ[key.source][key.label] = branch
	}

	// Roots: in-degree zero over the edge set, in declaration order.
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = 0
	}
	for _, e := range def.Edges {
		if _, ok := g.nodes[e.Target]; ok {
			if _, ok := g.nodes[e.Source]; ok {
				indegree[e.Target]++
			}
		}
	}
	for _, nd := range def.Nodes {
		if deg, ok := indegree[nd.ID]; ok && deg == 0 {
			g.roots = append(g.roots, g.nodes[nd.ID])
		}
	}

	if len(g.roots) == 0 {
		return nil, types.NewError(types.ErrCompile,
			"no start node found (cyclic or empty workflow)").
			WithHTTPStatus(http.StatusBadRequest)
	}

	return g, nil
}
