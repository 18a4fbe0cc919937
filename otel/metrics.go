package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/corvid-labs/graphrun/runtime"
)

// MetricsHandler records counters and histograms for node executions and
// run outcomes from runtime events.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	runDuration    metric.Float64Histogram
	runOutcomes    metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler with instruments registered on
// meter.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("graphrun.node.executions",
		metric.WithDescription("Number of node function invocations"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("graphrun.node.failures",
		metric.WithDescription("Number of node function invocations that returned an error"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("graphrun.node.duration",
		metric.WithDescription("Duration of one node invocation in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runDur, err := meter.Float64Histogram("graphrun.run.duration",
		metric.WithDescription("Duration of one run in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runOut, err := meter.Int64Counter("graphrun.run.outcomes",
		metric.WithDescription("Number of runs reaching each terminal status"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeDuration:   nodeDur,
		runDuration:    runDur,
		runOutcomes:    runOut,
	}, nil
}

// Handle processes a runtime event and records the appropriate metrics.
// It implements runtime.EventHandler semantics.
func (h *MetricsHandler) Handle(e runtime.Event) {
	switch e.Kind {
	case runtime.EventNodeFinished:
		h.handleNodeFinished(e)
	case runtime.EventNodeFailed:
		h.handleNodeFailed(e)
	case runtime.EventRunFinished:
		h.handleRunFinished(e)
	}
}

func (h *MetricsHandler) handleNodeFinished(e runtime.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node", e.Node),
	)
	h.nodeExecutions.Add(ctx, 1, attrs)
	h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

func (h *MetricsHandler) handleNodeFailed(e runtime.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node", e.Node),
	)
	h.nodeExecutions.Add(ctx, 1, attrs)
	h.nodeFailures.Add(ctx, 1, attrs)
	h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

func (h *MetricsHandler) handleRunFinished(e runtime.Event) {
	ctx := context.Background()
	status := payloadString(e, "status")
	h.runDuration.Record(ctx, e.Elapsed.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	h.runOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
