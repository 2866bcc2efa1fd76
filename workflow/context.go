package workflow

import (
	"context"
	"encoding/json"
	"fmt"
)

// KV is the external persistent key/value store collaborator. Values
// are namespaced; concurrent runs touching the same keys follow
// last-writer-wins with no transaction isolation.
type KV interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key, value string) error
	Delete(ctx context.Context, namespace, key string) error
}

// Context is the shared mutable state of one workflow run. It is owned
// by the run's goroutine and deliberately unsynchronized: fan-out
// branches execute sequentially, never concurrently.
type Context struct {
	// Results maps node name/id to the value it last produced,
	// most recent entry last.
	Results *Results

	// Memory is free-form scratch space written by nodes and readable
	// by any later node in the same run.
	Memory map[string]any

	// Store is the optional external persistent KV collaborator,
	// shared across runs. Nil when not configured.
	Store KV

	// Namespace scopes Store access, typically the workspace name.
	Namespace string

	// loop holds per-node private iteration state, keyed by node id.
	loop map[string]any

	// depth counts nested sub-workflow invocations.
	depth int

	emit func(event string, payload map[string]any)
}

// NewContext returns an empty run context.
func NewContext() *Context {
	return &Context{
		Results: NewResults(),
		Memory:  make(map[string]any),
		loop:    make(map[string]any),
	}
}

// LastResult returns the most recently produced node value.
func (c *Context) LastResult() (any, bool) {
	_, v, ok := c.Results.Last()
	return v, ok
}

// LoopState returns the private iteration state for the given node id.
func (c *Context) LoopState(nodeID string) (any, bool) {
	s, ok := c.loop[nodeID]
	return s, ok
}

// SetLoopState stores private iteration state for the given node id.
func (c *Context) SetLoopState(nodeID string, state any) {
	c.loop[nodeID] = state
}

// ClearLoopState removes the iteration state for the given node id.
func (c *Context) ClearLoopState(nodeID string) {
	delete(c.loop, nodeID)
}

// Depth returns the sub-workflow nesting depth of this context.
func (c *Context) Depth() int {
	return c.depth
}

// Fork creates a child context for a sub-workflow run: fresh results
// and loop state, depth incremented, the persistent store shared. The
// parent's memory is copied in when passMemory is set.
func (c *Context) Fork(passMemory bool) *Context {
	child := NewContext()
	child.Store = c.Store
	child.Namespace = c.Namespace
	child.depth = c.depth + 1
	child.emit = c.emit
	if passMemory {
		for k, v := range c.Memory {
			child.Memory[k] = v
		}
	}
	return child
}

// MergeMemory copies the child's memory back into this context.
func (c *Context) MergeMemory(child *Context) {
	for k, v := range child.Memory {
		c.Memory[k] = v
	}
}

// Emit sends a domain event through the run's event sink. It is a
// no-op outside an engine run. Delivery is best-effort; see Engine.
func (c *Context) Emit(event string, payload map[string]any) {
	if c.emit != nil {
		c.emit(event, payload)
	}
}

// Snapshot returns a JSON-safe view of results and memory for
// state_update events. Non-serializable values are stringified rather
// than dropped.
func (c *Context) Snapshot() map[string]any {
	results := make(map[string]any, c.Results.Len())
	for _, k := range c.Results.Keys() {
		v, _ := c.Results.Get(k)
		results[k] = jsonSafe(v)
	}
	memory := make(map[string]any, len(c.Memory))
	for k, v := range c.Memory {
		memory[k] = jsonSafe(v)
	}
	return map[string]any{"results": results, "memory": memory}
}

// jsonSafe returns v if it serializes cleanly, else its string form.
func jsonSafe(v any) any {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return v
}
