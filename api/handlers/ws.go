package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// wsClient is one connected event stream subscriber. Writes are
// serialized by the mutex; websocket connections do not support
// concurrent writers.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// Hub broadcasts run events to every connected websocket client. It
// implements the engine's event sink contract: delivery is
// best-effort, a slow or dead client is dropped rather than allowed
// to stall a run.
type Hub struct {
	logger       *zap.Logger
	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[*wsClient]struct{}

	// OnConnect and OnDisconnect are optional gauge hooks.
	OnConnect    func()
	OnDisconnect func()
}

// NewHub creates an empty broadcast hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:       logger.With(zap.String("component", "event_hub")),
		writeTimeout: 5 * time.Second,
		clients:      make(map[*wsClient]struct{}),
	}
}

// Notify implements the event sink: one JSON frame per event, fanned
// out to every client.
func (h *Hub) Notify(event string, payload map[string]any) {
	frame, err := json.Marshal(map[string]any{
		"type":      event,
		"payload":   payload,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Warn("drop unserializable event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		if err := c.write(ctx, frame); err != nil {
			h.drop(c, "write failed")
		}
		cancel()
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS serves GET /ws: upgrades the connection and streams events
// until the client goes away.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The builder UI is served from a different origin in dev.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}

	client := &wsClient{conn: conn}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	if h.OnConnect != nil {
		h.OnConnect()
	}
	h.logger.Info("event stream client connected")

	// Reads are discarded; the socket is one-way. The read loop exists
	// to notice the close handshake.
	ctx := r.Context()
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}
	h.drop(client, "closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

// Close disconnects every client, typically at shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		if h.OnDisconnect != nil {
			h.OnDisconnect()
		}
	}
}

func (h *Hub) drop(c *wsClient, reason string) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if present {
		h.logger.Info("event stream client dropped", zap.String("reason", reason))
		if h.OnDisconnect != nil {
			h.OnDisconnect()
		}
	}
}
