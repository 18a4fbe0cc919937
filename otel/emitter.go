package otel

import (
	"github.com/corvid-labs/graphrun/runtime"
)

// EnrichEmitter wraps an EventEmitter with trace context. Node-level
// events get the IDs of the active node span; everything else falls back
// to the run's root span. Events pass through unchanged when no span is
// active.
func EnrichEmitter(emit runtime.EventEmitter, tracing *TracingHandler) runtime.EventEmitter {
	return func(e runtime.Event) {
		if e.Node != "" {
			sc := tracing.ActiveSpanContext(e.RunID, e.Step)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		if e.TraceID == "" && e.RunID != "" {
			sc := tracing.ActiveRunSpanContext(e.RunID)
			if sc.IsValid() {
				e.TraceID = sc.TraceID().String()
				e.SpanID = sc.SpanID().String()
			}
		}
		emit(e)
	}
}

// EnrichDecorator adapts EnrichEmitter to the runtime's decorator shape so
// it can be handed to engine or executor options directly.
func EnrichDecorator(tracing *TracingHandler) runtime.EventEmitterDecorator {
	return func(next runtime.EventEmitter) runtime.EventEmitter {
		return EnrichEmitter(next, tracing)
	}
}
