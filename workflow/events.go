package workflow

import (
	"go.uber.org/zap"
)

// Lifecycle event names delivered to the run's Sink.
const (
	EventWorkflowStart = "workflow_start"
	EventWorkflowEnd   = "workflow_end"
	EventWorkflowError = "workflow_error"
	EventNodeStart     = "node_start"
	EventNodeEnd       = "node_end"
	EventNodeError     = "node_error"
	EventStateUpdate   = "state_update"

	// EventUserInputRequired is the domain event a human-input node
	// emits when it suspends, carrying the suspension request id,
	// prompt, field schema and a context snapshot.
	EventUserInputRequired = "user_input_required"
)

// Sink receives lifecycle and progress events from running workflows.
// Delivery is fire-and-forget: a failing sink never aborts the run.
// Implementations must be safe for calls from run goroutines.
type Sink interface {
	Notify(event string, payload map[string]any)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event string, payload map[string]any)

// Notify implements Sink.
func (f SinkFunc) Notify(event string, payload map[string]any) {
	f(event, payload)
}

// NopSink discards all events.
func NopSink() Sink {
	return SinkFunc(func(string, map[string]any) {})
}

// MultiSink fans events out to every sink in order.
func MultiSink(sinks ...Sink) Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

type multiSink []Sink

func (m multiSink) Notify(event string, payload map[string]any) {
	for _, s := range m {
		s.Notify(event, payload)
	}
}

// notify delivers one event, recovering from sink panics so event
// delivery can never fail a run.
func notify(logger *zap.Logger, sink Sink, event string, payload map[string]any) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("event sink panicked",
				zap.String("event", event),
				zap.Any("panic", r),
			)
		}
	}()
	safe := make(map[string]any, len(payload))
	for k, v := range payload {
		safe[k] = jsonSafe(v)
	}
	sink.Notify(event, safe)
}
