// Package runtime provides the execution engine for graphrun workflows:
// the traversal loop that walks a graph definition from its start node,
// invoking node functions and following edges until a terminal condition
// or the step ceiling is reached.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/corvid-labs/graphrun/core"
	"github.com/corvid-labs/graphrun/graph"
	"github.com/corvid-labs/graphrun/registry"
)

// Traversal errors. They are recorded on the run record, never returned to
// the submitting caller.
var (
	ErrNodeNotFound      = errors.New("node not found in registry")
	ErrUnroutableOutcome = errors.New("no route for outcome")
	ErrStepLimitExceeded = errors.New("step limit exceeded")
)

// DefaultMaxSteps is the hard ceiling on node invocations per run. It is a
// blunt but total substitute for cycle detection: any run, looping or not,
// terminates. Long-but-finite workflows above the ceiling are misclassified
// as failed; raise MaxSteps in Options for those.
const DefaultMaxSteps = 50

// Options controls execution behavior.
type Options struct {
	// MaxSteps bounds node invocations per run (default: DefaultMaxSteps).
	MaxSteps int

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	EventEmitterDecorator EventEmitterDecorator

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time

	// Logger receives run-level log lines. If nil, uses slog.Default.
	Logger *slog.Logger
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		MaxSteps: DefaultMaxSteps,
	}
}

// Executor walks graph definitions. It is stateless apart from the node
// registry reference and safe for concurrent use by many runs.
type Executor struct {
	registry *registry.Registry
}

// NewExecutor creates an executor resolving node names via reg.
func NewExecutor(reg *registry.Registry) *Executor {
	return &Executor{registry: reg}
}

// Execute traverses def, mutating run in place until it reaches COMPLETED
// or FAILED. The returned error is the traversal failure, if any, for the
// caller's logging; it is already recorded on the run record.
func (x *Executor) Execute(ctx context.Context, def graph.Definition, run *Run, opts Options) error {
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var seq eventSeq
	emit := func(e Event) {
		e.Seq = seq.next()
		if opts.EventHandler != nil {
			opts.EventHandler(e)
		}
	}
	if opts.EventEmitterDecorator != nil {
		emit = opts.EventEmitterDecorator(emit)
	}

	runStart := opts.Now()
	run.begin(def.Start, runStart)
	emit(NewEvent(EventRunStarted, run.ID()).
		WithPayload("graph_id", run.GraphID()).
		WithPayload("start", def.Start))

	err := x.runLoop(ctx, def, run, opts, emit)
	elapsed := opts.Now().Sub(runStart)

	if err != nil {
		run.fail(err.Error(), opts.Now())
		emit(NewEvent(EventRunFinished, run.ID()).
			WithElapsed(elapsed).
			WithPayload("status", string(StatusFailed)).
			WithPayload("error", err.Error()))
		logger.Warn("run failed",
			"run_id", run.ID(), "graph_id", run.GraphID(),
			"steps", run.steps(), "error", err)
		return err
	}

	emit(NewEvent(EventRunFinished, run.ID()).
		WithElapsed(elapsed).
		WithPayload("status", string(StatusCompleted)))
	logger.Info("run completed",
		"run_id", run.ID(), "graph_id", run.GraphID(), "steps", run.steps())
	return nil
}

// runLoop is the traversal proper. A nil return means the run was marked
// COMPLETED inside the loop; any error return means the caller marks it
// FAILED.
func (x *Executor) runLoop(ctx context.Context, def graph.Definition, run *Run, opts Options, emit EventEmitter) error {
	current := def.Start

	for step := 0; step < opts.MaxSteps; step++ {
		fn, ok := x.registry.Resolve(current)
		if !ok {
			return fmt.Errorf("%w: %q", ErrNodeNotFound, current)
		}

		nodeStart := opts.Now()
		emit(NewEvent(EventNodeStarted, run.ID()).WithNode(current, step))

		route, err := run.applyNode(ctx, current, step, fn)
		if err != nil {
			emit(NewEvent(EventNodeFailed, run.ID()).
				WithNode(current, step).
				WithElapsed(opts.Now().Sub(nodeStart)).
				WithPayload("error", err.Error()))
			return fmt.Errorf("node %q: %w", current, err)
		}
		emit(NewEvent(EventNodeFinished, run.ID()).
			WithNode(current, step).
			WithElapsed(opts.Now().Sub(nodeStart)).
			WithPayload("route", route))

		edge, ok := def.Edges[current]
		if !ok {
			// No outgoing edge: implicit termination.
			run.complete(current, opts.Now())
			return nil
		}

		next, stop, err := nextHop(edge, route)
		if err != nil {
			return fmt.Errorf("node %q: %w", current, err)
		}
		if stop {
			// The conditional edge mapped the key to a terminal route.
			run.complete(current, opts.Now())
			return nil
		}

		emit(NewEvent(EventRouteDecision, run.ID()).
			WithNode(current, step).
			WithPayload("route", route).
			WithPayload("next", next))
		run.advance(next)
		current = next
	}

	return fmt.Errorf("%w after %d steps", ErrStepLimitExceeded, opts.MaxSteps)
}

// nextHop resolves the outgoing edge for the routing key a node returned.
// Simple edges ignore the key entirely; conditional edges treat an empty
// key as the literal default key.
func nextHop(edge graph.Edge, route string) (next string, stop bool, err error) {
	if target, ok := edge.Simple(); ok {
		return target, false, nil
	}

	key := route
	if key == "" {
		key = core.DefaultRouteKey
	}
	r, ok := edge.Route(key)
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrUnroutableOutcome, key)
	}
	if r.Terminal {
		return "", true, nil
	}
	return r.Target, false, nil
}
