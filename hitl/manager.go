// Package hitl provides the human-in-the-loop suspension registry:
// a node pauses its run pending external input, an API caller resumes
// it by request id. The registry is an owned, injected instance, never
// a process global.
package hitl

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/loomworks/loom/types"
)

// Field describes one input the user is asked to fill in.
type Field struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
}

// Request is one pending suspension, exposed to the API layer for
// display.
type Request struct {
	ID        string         `json:"request_id"`
	NodeID    string         `json:"node_id"`
	NodeName  string         `json:"node_name,omitempty"`
	Prompt    string         `json:"prompt"`
	Fields    []Field        `json:"fields,omitempty"`
	Data      any            `json:"data,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type pending struct {
	req Request
	// response carries the resume payload; buffered so Resume never
	// blocks on a racing timeout.
	response chan map[string]any
}

// Manager is the process-wide suspension registry, keyed by request
// id. Entries outlive individual runs only until resumed or expired.
// All operations are safe for concurrent callers.
type Manager struct {
	logger *zap.Logger
	mu     sync.Mutex
	open   map[string]*pending
}

// NewManager creates a suspension manager.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger.With(zap.String("component", "suspensions")),
		open:   make(map[string]*pending),
	}
}

// Register creates a registry entry and returns its opaque request id.
// The caller then blocks on Await.
func (m *Manager) Register(req Request) string {
	req.ID = uuid.NewString()
	req.CreatedAt = time.Now()

	m.mu.Lock()
	m.open[req.ID] = &pending{req: req, response: make(chan map[string]any, 1)}
	m.mu.Unlock()

	m.logger.Info("suspension registered",
		zap.String("request_id", req.ID),
		zap.String("node_id", req.NodeID),
	)
	return req.ID
}

// Await blocks the calling goroutine until the request is resumed or
// the timeout elapses. A non-positive timeout waits indefinitely. On
// timeout the entry is purged and a SUSPENSION_TIMEOUT error is
// returned; the caller is expected to treat it as a normal terminal
// outcome, not to propagate it as a failure.
func (m *Manager) Await(ctx context.Context, requestID string, timeout time.Duration) (map[string]any, error) {
	m.mu.Lock()
	p, ok := m.open[requestID]
	m.mu.Unlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "suspension %s not registered", requestID)
	}

	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case payload := <-p.response:
		m.logger.Info("suspension resumed", zap.String("request_id", requestID))
		return payload, nil
	case <-expire:
		m.purge(requestID)
		m.logger.Warn("suspension timed out",
			zap.String("request_id", requestID),
			zap.Duration("timeout", timeout),
		)
		return nil, types.NewErrorf(types.ErrSuspensionTimeout,
			"no response within %s", timeout)
	case <-ctx.Done():
		m.purge(requestID)
		return nil, ctx.Err()
	}
}

// Resume supplies the response for a pending request and signals the
// waiting goroutine. It is a pure write-then-signal operation, safe
// from any concurrent caller. Unknown or already-resumed ids yield a
// NOT_FOUND error.
func (m *Manager) Resume(requestID string, payload map[string]any) error {
	m.mu.Lock()
	p, ok := m.open[requestID]
	if ok {
		delete(m.open, requestID)
	}
	m.mu.Unlock()

	if !ok {
		return types.NewErrorf(types.ErrNotFound, "suspension %s not found", requestID).
			WithHTTPStatus(404)
	}
	p.response <- payload
	return nil
}

// Cancel removes a pending request without resuming it.
func (m *Manager) Cancel(requestID string) {
	m.purge(requestID)
}

// Pending returns a snapshot of all open suspensions, oldest first.
func (m *Manager) Pending() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, 0, len(m.open))
	for _, p := range m.open {
		out = append(out, p.req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Len returns the number of open suspensions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.open)
}

func (m *Manager) purge(requestID string) {
	m.mu.Lock()
	delete(m.open, requestID)
	m.mu.Unlock()
}
