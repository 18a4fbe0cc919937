package runtime

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// EventKind identifies the type of event emitted by the executor.
type EventKind string

const (
	// EventRunStarted is emitted when a run begins executing.
	EventRunStarted EventKind = "run.started"

	// EventNodeStarted is emitted before a node function is invoked.
	EventNodeStarted EventKind = "node.started"

	// EventNodeFinished is emitted when a node function returns successfully.
	EventNodeFinished EventKind = "node.finished"

	// EventNodeFailed is emitted when a node function returns an error.
	EventNodeFailed EventKind = "node.failed"

	// EventRouteDecision is emitted when an edge selects the next node.
	EventRouteDecision EventKind = "route.decision"

	// EventRunFinished is emitted when a run reaches a terminal status.
	EventRunFinished EventKind = "run.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Event is a structured record of what happened during execution. Events
// are observability only; they never affect traversal.
type Event struct {
	// Kind identifies the event type.
	Kind EventKind

	// RunID is the unique identifier for this run.
	RunID string

	// Node is the node that produced this event (empty for run-level events).
	Node string

	// Step is the step index for node-level events.
	Step int

	// Time is when the event occurred.
	Time time.Time

	// Elapsed is the duration since the run or node started.
	Elapsed time.Duration

	// Payload contains event-specific data. Keep it small.
	Payload map[string]any

	// Seq is a monotonic sequence number per run (1-indexed).
	Seq uint64

	// TraceID is the OpenTelemetry trace ID (hex, empty when OTel inactive).
	TraceID string

	// SpanID is the OpenTelemetry span ID (hex, empty when OTel inactive).
	SpanID string
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, runID string) Event {
	return Event{
		Kind:    kind,
		RunID:   runID,
		Time:    time.Now(),
		Payload: make(map[string]any),
	}
}

// WithNode sets the originating node and step index on the event.
func (e Event) WithNode(node string, step int) Event {
	e.Node = node
	e.Step = step
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// WithPayload adds a key-value pair to the event payload.
func (e Event) WithPayload(key string, value any) Event {
	if e.Payload == nil {
		e.Payload = make(map[string]any)
	}
	e.Payload[key] = value
	return e
}

// eventSeq numbers the events of one execution. The first event gets 1;
// Execute creates a fresh counter per call, so sequences restart per run.
type eventSeq struct {
	n atomic.Uint64
}

func (s *eventSeq) next() uint64 {
	return s.n.Add(1)
}

// EventEmitter is a function type for emitting events.
type EventEmitter func(Event)

// EventEmitterDecorator wraps an emitter to add cross-cutting behavior,
// such as enriching events with trace metadata.
type EventEmitterDecorator func(EventEmitter) EventEmitter

// EventHandler receives events during execution. Implementations can log,
// aggregate, or forward events as needed.
type EventHandler func(Event)

// MultiEventHandler combines multiple handlers into one.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}

// ChannelEventHandler returns a handler that sends events to a channel.
// Events are dropped if the channel is full.
func ChannelEventHandler(ch chan<- Event) EventHandler {
	return func(e Event) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full
		}
	}
}

// LogHandler returns a handler that logs events through the given logger.
// Run-level events log at info, node-level events at debug.
func LogHandler(logger *slog.Logger) EventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(e Event) {
		attrs := []any{"run_id", e.RunID, "seq", e.Seq}
		if e.Node != "" {
			attrs = append(attrs, "node", e.Node, "step", e.Step)
		}
		if errMsg, ok := e.Payload["error"]; ok {
			attrs = append(attrs, "error", errMsg)
		}
		switch e.Kind {
		case EventRunStarted, EventRunFinished:
			logger.Info(e.Kind.String(), attrs...)
		default:
			logger.Debug(e.Kind.String(), attrs...)
		}
	}
}
