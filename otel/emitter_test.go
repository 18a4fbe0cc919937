package otel_test

import (
	"testing"
	"time"

	grotel "github.com/corvid-labs/graphrun/otel"
	"github.com/corvid-labs/graphrun/runtime"
)

func TestEnrichEmitter_NodeEventsGetNodeSpanIDs(t *testing.T) {
	_, tp := newTestTracer()
	h := grotel.NewTracingHandler(tp.Tracer("test"))

	now := time.Now()
	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "run-1", Time: now})
	h.Handle(runtime.Event{Kind: runtime.EventNodeStarted, RunID: "run-1", Node: "a", Step: 0, Time: now})

	var got runtime.Event
	emit := grotel.EnrichEmitter(func(e runtime.Event) { got = e }, h)

	emit(runtime.Event{Kind: runtime.EventNodeStarted, RunID: "run-1", Node: "a", Step: 0})

	if got.TraceID == "" || got.SpanID == "" {
		t.Fatal("node event not enriched with trace context")
	}

	nodeSC := h.ActiveSpanContext("run-1", 0)
	if got.SpanID != nodeSC.SpanID().String() {
		t.Errorf("SpanID = %s, want the node span %s", got.SpanID, nodeSC.SpanID())
	}
}

func TestEnrichEmitter_RunEventsFallBackToRunSpan(t *testing.T) {
	_, tp := newTestTracer()
	h := grotel.NewTracingHandler(tp.Tracer("test"))

	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "run-1", Time: time.Now()})

	var got runtime.Event
	emit := grotel.EnrichEmitter(func(e runtime.Event) { got = e }, h)
	emit(runtime.Event{Kind: runtime.EventRunFinished, RunID: "run-1"})

	runSC := h.ActiveRunSpanContext("run-1")
	if got.SpanID != runSC.SpanID().String() {
		t.Errorf("SpanID = %s, want the run span %s", got.SpanID, runSC.SpanID())
	}
}

func TestEnrichEmitter_NoActiveSpanPassesThrough(t *testing.T) {
	_, tp := newTestTracer()
	h := grotel.NewTracingHandler(tp.Tracer("test"))

	var got runtime.Event
	emit := grotel.EnrichEmitter(func(e runtime.Event) { got = e }, h)
	emit(runtime.Event{Kind: runtime.EventRunStarted, RunID: "untracked"})

	if got.TraceID != "" || got.SpanID != "" {
		t.Error("event without active spans must pass through unchanged")
	}
}

func TestEnrichDecorator_ShapesAsRuntimeDecorator(t *testing.T) {
	_, tp := newTestTracer()
	h := grotel.NewTracingHandler(tp.Tracer("test"))
	h.Handle(runtime.Event{Kind: runtime.EventRunStarted, RunID: "run-1", Time: time.Now()})

	var dec runtime.EventEmitterDecorator = grotel.EnrichDecorator(h)

	var got runtime.Event
	emit := dec(func(e runtime.Event) { got = e })
	emit(runtime.Event{Kind: runtime.EventRunFinished, RunID: "run-1"})

	if got.TraceID == "" {
		t.Error("decorator did not enrich the event")
	}
}
