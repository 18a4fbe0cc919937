// Package otel translates graphrun runtime events into OpenTelemetry
// spans and metrics.
package otel

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corvid-labs/graphrun/runtime"
)

// TracingHandler maintains one root span per active run and one child span
// per in-flight node invocation, opening and closing them from event kinds.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	runSpans  map[string]trace.Span      // runID -> root span
	runCtxs   map[string]context.Context // runID -> context carrying the root span
	nodeSpans map[string]trace.Span      // runID:step -> node span
}

// NewTracingHandler creates a TracingHandler emitting spans through tracer.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		runSpans:  make(map[string]trace.Span),
		runCtxs:   make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes a runtime event. It implements runtime.EventHandler
// semantics.
func (h *TracingHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventRunStarted:
		h.handleRunStarted(e)
	case runtime.EventNodeStarted:
		h.handleNodeStarted(e)
	case runtime.EventNodeFinished:
		h.handleNodeFinished(e)
	case runtime.EventNodeFailed:
		h.handleNodeFailed(e)
	case runtime.EventRouteDecision:
		h.handleRouteDecision(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *TracingHandler) handleRunStarted(e runtime.Event) {
	graphID := payloadString(e, "graph_id")

	spanName := "run:" + e.RunID
	if graphID != "" {
		spanName = "run:" + graphID
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("graphrun.run_id", e.RunID),
		),
		trace.WithTimestamp(e.Time),
	)
	if graphID != "" {
		span.SetAttributes(attribute.String("graphrun.graph_id", graphID))
	}

	h.mu.Lock()
	h.runSpans[e.RunID] = span
	h.runCtxs[e.RunID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e runtime.Event) {
	h.mu.RLock()
	parentCtx, ok := h.runCtxs[e.RunID]
	h.mu.RUnlock()
	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.Node,
		trace.WithAttributes(
			attribute.String("graphrun.run_id", e.RunID),
			attribute.String("graphrun.node", e.Node),
			attribute.Int("graphrun.step", e.Step),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[nodeSpanKey(e.RunID, e.Step)] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeFinished(e runtime.Event) {
	span, ok := h.takeNodeSpan(e.RunID, e.Step)
	if !ok {
		return
	}
	if route := payloadString(e, "route"); route != "" {
		span.SetAttributes(attribute.String("graphrun.route", route))
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeFailed(e runtime.Event) {
	span, ok := h.takeNodeSpan(e.RunID, e.Step)
	if !ok {
		return
	}
	errMsg := payloadString(e, "error")
	if errMsg == "" {
		errMsg = "node failed"
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	span.End(trace.WithTimestamp(e.Time))
}

// handleRouteDecision adds a span event on the run span; the node span for
// this step is already closed by the time the edge is resolved.
func (h *TracingHandler) handleRouteDecision(e runtime.Event) {
	h.mu.RLock()
	span, ok := h.runSpans[e.RunID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	span.AddEvent("route.decision",
		trace.WithTimestamp(e.Time),
		trace.WithAttributes(
			attribute.String("graphrun.node", e.Node),
			attribute.String("graphrun.route", payloadString(e, "route")),
			attribute.String("graphrun.next", payloadString(e, "next")),
		),
	)
}

func (h *TracingHandler) handleRunFinished(e runtime.Event) {
	h.mu.Lock()
	span, ok := h.runSpans[e.RunID]
	if ok {
		delete(h.runSpans, e.RunID)
		delete(h.runCtxs, e.RunID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	status := payloadString(e, "status")
	span.SetAttributes(attribute.String("graphrun.status", status))

	if status == string(runtime.StatusFailed) {
		errMsg := payloadString(e, "error")
		if errMsg == "" {
			errMsg = "run failed"
		}
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext for the in-flight node span at
// the given step, or an empty SpanContext when none is active.
func (h *TracingHandler) ActiveSpanContext(runID string, step int) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[nodeSpanKey(runID, step)]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveRunSpanContext returns the SpanContext for the run's root span, or
// an empty SpanContext when none is active.
func (h *TracingHandler) ActiveRunSpanContext(runID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.runSpans[runID]
	h.mu.RUnlock()
	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func (h *TracingHandler) takeNodeSpan(runID string, step int) (trace.Span, bool) {
	key := nodeSpanKey(runID, step)
	h.mu.Lock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	h.mu.Unlock()
	return span, ok
}

// nodeSpanKey keys node spans by step rather than node name: a loop visits
// the same node many times and each visit gets its own span.
func nodeSpanKey(runID string, step int) string {
	return runID + ":" + strconv.Itoa(step)
}

func payloadString(e runtime.Event, key string) string {
	if v, ok := e.Payload[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

type spanError string

func (e spanError) Error() string { return string(e) }
