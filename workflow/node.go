package workflow

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Transition is the named output label a node's Finalize returns. The
// engine uses it to pick the next edge. Empty means TransitionDefault.
type Transition string

// TransitionDefault is the implicit transition used when Finalize
// returns an empty transition or an edge has no source handle.
const TransitionDefault Transition = "default"

// ParamSpec describes one configuration parameter of a node type. It
// drives validation and builder UI; it is not enforced at runtime
// beyond type coercion.
type ParamSpec struct {
	Type        string   `json:"type"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
	Description string   `json:"description,omitempty"`
}

// NodeSchema is the static metadata of a node type, exposed to
// configuration tooling.
type NodeSchema struct {
	Type        string               `json:"type"`
	Description string               `json:"description"`
	Inputs      []string             `json:"inputs"`
	Outputs     []string             `json:"outputs"`
	Params      map[string]ParamSpec `json:"params,omitempty"`
}

// Params is a node's configuration data with coercing accessors.
type Params map[string]any

// String returns the string value for key, or def when absent.
func (p Params) String(key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	default:
		return def
	}
}

// Int returns the integer value for key, or def when absent or not
// coercible.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Float returns the float value for key, or def.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Bool returns the boolean value for key, or def.
func (p Params) Bool(key string, def bool) bool {
	switch v := p[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

// Binding attaches a compiled node instance to its definition: id,
// display name, configuration and the input-slot mapping the compiler
// derived from incoming edges.
type Binding struct {
	ID string
	// Name is the display name (label or id); results are keyed by it.
	Name   string
	Config Params
	// Inputs maps an input slot name to the display name of the
	// predecessor wired into that slot.
	Inputs map[string]string
}

// Node is the uniform contract every node type implements. A node
// instance is created per compiled graph node and driven through a
// three-phase lifecycle: Prepare reads the shared context, Compute
// does the work (and is the only phase expected to block), Finalize
// commits the result into the context and names the outgoing
// transition.
type Node interface {
	Schema() NodeSchema
	Bind(b Binding)
	ID() string
	Name() string

	Prepare(ctx context.Context, ec *Context) (any, error)
	Compute(ctx context.Context, prep any) (any, error)
	Finalize(ctx context.Context, ec *Context, prep, result any) (Transition, error)
}

// Factory creates a fresh, unbound node instance.
type Factory func() Node

// BaseNode carries the per-instance binding and result-commit helper.
// Node implementations embed it and implement the lifecycle.
type BaseNode struct {
	binding Binding
}

// Bind stores the instance binding. Called once by the compiler.
func (b *BaseNode) Bind(bind Binding) {
	if bind.Config == nil {
		bind.Config = Params{}
	}
	b.binding = bind
}

// ID returns the node's definition id.
func (b *BaseNode) ID() string { return b.binding.ID }

// Name returns the node's display name.
func (b *BaseNode) Name() string { return b.binding.Name }

// Config returns the node's configuration parameters.
func (b *BaseNode) Config() Params { return b.binding.Config }

// Commit stores value in the run's results under both the display
// name and the node id, per the results recency contract.
func (b *BaseNode) Commit(ec *Context, value any) {
	ec.Results.Set(b.binding.Name, value)
	if b.binding.ID != "" && b.binding.ID != b.binding.Name {
		ec.Results.Set(b.binding.ID, value)
	}
}

// Input resolves the value for a named input slot. When the compiler
// recorded a predecessor for the slot its result is returned;
// otherwise the most recent result is used.
func (b *BaseNode) Input(ec *Context, slot string) (any, bool) {
	if name, ok := b.binding.Inputs[slot]; ok {
		if v, found := ec.Results.Get(name); found {
			return v, true
		}
	}
	return ec.LastResult()
}

// DefaultInput resolves the "default" input slot.
func (b *BaseNode) DefaultInput(ec *Context) (any, bool) {
	return b.Input(ec, string(TransitionDefault))
}

// Registry maps a node type name to its factory. It is populated at
// startup; looking up an unknown type is a compile-time error, not a
// runtime one.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	schemas   map[string]NodeSchema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		schemas:   make(map[string]NodeSchema),
	}
}

// Register adds a factory under its schema type name. Registering the
// same type twice overwrites the previous factory.
func (r *Registry) Register(f Factory) {
	schema := f().Schema()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[schema.Type] = f
	r.schemas[schema.Type] = schema
}

// Lookup returns the factory for a type name.
func (r *Registry) Lookup(nodeType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[nodeType]
	return f, ok
}

// Schemas returns all registered node schemas sorted by type name.
func (r *Registry) Schemas() []NodeSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
