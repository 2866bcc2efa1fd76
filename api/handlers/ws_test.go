package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func muxFor(hub *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	return mux
}

func dialHub(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients, have %d", want, hub.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastsEvents(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(muxFor(hub))
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, "ws"+srv.URL[len("http"):]+"/ws")
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 1)

	hub.Notify("workflow_start", map[string]any{"run_id": "r1"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var frame struct {
		Type      string         `json:"type"`
		Payload   map[string]any `json:"payload"`
		Timestamp int64          `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, "workflow_start", frame.Type)
	assert.Equal(t, "r1", frame.Payload["run_id"])
	assert.NotZero(t, frame.Timestamp)
}

func TestHub_TracksConnectAndDisconnect(t *testing.T) {
	hub := NewHub(zap.NewNop())
	connects, disconnects := 0, 0
	hub.OnConnect = func() { connects++ }
	hub.OnDisconnect = func() { disconnects++ }

	srv := httptest.NewServer(muxFor(hub))
	defer srv.Close()

	conn := dialHub(t, "ws"+srv.URL[len("http"):]+"/ws")
	waitForClients(t, hub, 1)
	assert.Equal(t, 1, connects)

	conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 0)
	assert.Equal(t, 1, disconnects)
}

func TestHub_NotifyWithoutClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// Must not block or panic with nobody listening.
	hub.Notify("node_end", map[string]any{"node_id": "x"})
	assert.Equal(t, 0, hub.Len())
}

func TestHub_CloseDisconnectsAll(t *testing.T) {
	hub := NewHub(zap.NewNop())
	srv := httptest.NewServer(muxFor(hub))
	defer srv.Close()

	conn := dialHub(t, "ws"+srv.URL[len("http"):]+"/ws")
	defer conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, hub, 1)

	hub.Close()
	assert.Equal(t, 0, hub.Len())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err, "server closed the connection")
}
