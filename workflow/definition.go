package workflow

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/loomworks/loom/types"
)

// Position is the node's location on the visual canvas. The engine
// ignores it; it is carried so definitions round-trip losslessly.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeDef is a single node in a workflow definition.
type NodeDef struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data,omitempty"`
}

// DisplayName returns the label, falling back to the node id.
func (n NodeDef) DisplayName() string {
	if n.Label != "" {
		return n.Label
	}
	return n.ID
}

// Edge connects a source node's output handle to a target node's
// input handle. Handles follow the builder convention "out-<label>"
// and "in-<label>"; an absent handle means "default".
type Edge struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
}

// OutputLabel extracts the transition label from the source handle.
func (e Edge) OutputLabel() string {
	return stripHandle(e.SourceHandle, "out-")
}

// InputSlot extracts the input slot name from the target handle.
func (e Edge) InputSlot() string {
	return stripHandle(e.TargetHandle, "in-")
}

func stripHandle(handle, prefix string) string {
	if strings.HasPrefix(handle, prefix) {
		if label := handle[len(prefix):]; label != "" {
			return label
		}
	}
	return string(TransitionDefault)
}

// Definition is a complete workflow definition as saved by the
// builder and persisted as JSON.
type Definition struct {
	Name  string    `json:"name,omitempty"`
	Nodes []NodeDef `json:"nodes"`
	Edges []Edge    `json:"edges"`
}

// ParseDefinition decodes a JSON workflow definition and validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "invalid workflow JSON").
			WithCause(err).WithHTTPStatus(http.StatusBadRequest)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural invariants: node ids are unique and every
// edge references existing node ids.
func (d *Definition) Validate() error {
	seen := make(map[string]struct{}, len(d.Nodes))
	for _, n := range d.Nodes {
		if n.ID == "" {
			return types.NewError(types.ErrInvalidRequest, "node with empty id").
				WithHTTPStatus(http.StatusBadRequest)
		}
		if _, dup := seen[n.ID]; dup {
			return types.NewErrorf(types.ErrInvalidRequest, "duplicate node id %q", n.ID).
				WithHTTPStatus(http.StatusBadRequest)
		}
		seen[n.ID] = struct{}{}
	}
	for _, e := range d.Edges {
		if _, ok := seen[e.Source]; !ok {
			return edgeError("source", e.Source)
		}
		if _, ok := seen[e.Target]; !ok {
			return edgeError("target", e.Target)
		}
	}
	return nil
}

func edgeError(end, id string) error {
	return types.NewErrorf(types.ErrInvalidRequest, "edge %s references unknown node %q", end, id).
		WithHTTPStatus(http.StatusBadRequest)
}

// Node lookup by id, nil if absent.
func (d *Definition) Node(id string) *NodeDef {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// FindByType returns the first node of the given type, nil if absent.
func (d *Definition) FindByType(nodeType string) *NodeDef {
	for i := range d.Nodes {
		if d.Nodes[i].Type == nodeType {
			return &d.Nodes[i]
		}
	}
	return nil
}
