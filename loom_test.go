package loom

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/store"
	"github.com/loomworks/loom/workflow"
)

func TestRun_MinimalDefinition(t *testing.T) {
	def := &workflow.Definition{
		Name: "hello",
		Nodes: []workflow.NodeDef{
			{ID: "s", Type: "start", Label: "Start", Data: map[string]any{"initial_value": "hi"}},
			{ID: "l", Type: "log", Label: "Log"},
		},
		Edges: []workflow.Edge{{Source: "s", Target: "l"}},
	}

	res, err := Run(context.Background(), def)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusCompleted, res.Status)
	assert.Equal(t, "hi", res.Results["Log"])
}

func TestRun_CompileErrorSurfaces(t *testing.T) {
	def := &workflow.Definition{
		Name:  "bad",
		Nodes: []workflow.NodeDef{{ID: "x", Type: "no_such_type"}},
	}
	_, err := Run(context.Background(), def)
	assert.Error(t, err)
}

func TestRun_WithStore(t *testing.T) {
	kv := store.NewMemoryKV()
	def := &workflow.Definition{
		Name: "persist",
		Nodes: []workflow.NodeDef{
			{ID: "m", Type: "memory", Label: "Save", Data: map[string]any{
				"operation":  "set",
				"key":        "greeting",
				"value":      "stored",
				"persistent": true,
			}},
		},
	}

	res, err := Run(context.Background(), def, WithStore(kv))
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, res.Status)

	v, ok, err := kv.Get(context.Background(), "", "greeting")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "stored", v)
}
