package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/graphrun/core"
	"github.com/corvid-labs/graphrun/graph"
	"github.com/corvid-labs/graphrun/registry"
	"github.com/corvid-labs/graphrun/runtime"
)

// Config carries the engine's collaborators. Zero-value fields get
// in-memory defaults from New.
type Config struct {
	// Graphs stores graph definitions. Defaults to NewMemGraphStore.
	Graphs GraphStore

	// Runs stores run records. Defaults to NewMemRunStore.
	Runs RunStore

	// Registry resolves node names to functions. Defaults to an empty
	// registry.
	Registry *registry.Registry

	// MaxSteps bounds node invocations per run. Zero means
	// runtime.DefaultMaxSteps.
	MaxSteps int

	// EventHandler receives runtime events from all runs.
	EventHandler runtime.EventHandler

	// EventEmitterDecorator wraps every run's event emitter.
	EventEmitterDecorator runtime.EventEmitterDecorator

	// Logger receives engine log lines. Defaults to slog.Default.
	Logger *slog.Logger
}

// Engine owns graph and run storage and executes submitted runs on
// background goroutines. All methods are safe for concurrent use.
type Engine struct {
	graphs   GraphStore
	runs     RunStore
	registry *registry.Registry
	executor *runtime.Executor
	opts     runtime.Options
	logger   *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// New creates an engine from cfg, filling unset fields with defaults.
func New(cfg Config) *Engine {
	if cfg.Graphs == nil {
		cfg.Graphs = NewMemGraphStore()
	}
	if cfg.Runs == nil {
		cfg.Runs = NewMemRunStore()
	}
	if cfg.Registry == nil {
		cfg.Registry = registry.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	opts := runtime.DefaultOptions()
	if cfg.MaxSteps > 0 {
		opts.MaxSteps = cfg.MaxSteps
	}
	opts.EventHandler = cfg.EventHandler
	opts.EventEmitterDecorator = cfg.EventEmitterDecorator
	opts.Logger = cfg.Logger

	return &Engine{
		graphs:   cfg.Graphs,
		runs:     cfg.Runs,
		registry: cfg.Registry,
		executor: runtime.NewExecutor(cfg.Registry),
		opts:     opts,
		logger:   cfg.Logger,
	}
}

// Registry returns the engine's node registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// CreateGraph stores def under a freshly generated ID. The definition is
// accepted as-is; unknown nodes and dangling edges surface when a run
// reaches them.
func (e *Engine) CreateGraph(ctx context.Context, def graph.Definition) (GraphRecord, error) {
	rec := GraphRecord{
		ID:         uuid.NewString(),
		Definition: def,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.graphs.Create(ctx, rec); err != nil {
		return GraphRecord{}, err
	}
	e.logger.Info("graph created", "graph_id", rec.ID, "nodes", len(def.Nodes))
	return rec, nil
}

// PutGraph stores def under a caller-chosen ID. Used for graphs preloaded
// from configuration at startup.
func (e *Engine) PutGraph(ctx context.Context, id string, def graph.Definition) (GraphRecord, error) {
	rec := GraphRecord{
		ID:         id,
		Definition: def,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.graphs.Create(ctx, rec); err != nil {
		return GraphRecord{}, err
	}
	e.logger.Info("graph loaded", "graph_id", rec.ID, "nodes", len(def.Nodes))
	return rec, nil
}

// GetGraph returns the graph record stored under id.
func (e *Engine) GetGraph(ctx context.Context, id string) (GraphRecord, error) {
	rec, ok, err := e.graphs.Get(ctx, id)
	if err != nil {
		return GraphRecord{}, err
	}
	if !ok {
		return GraphRecord{}, fmt.Errorf("%w: %q", ErrGraphNotFound, id)
	}
	return rec, nil
}

// ListGraphs returns all stored graph records.
func (e *Engine) ListGraphs(ctx context.Context) ([]GraphRecord, error) {
	return e.graphs.List(ctx)
}

// SubmitRun creates a run against the graph stored under graphID and
// starts executing it on a background goroutine. The returned snapshot
// reflects the run at submission time (status SUBMITTED); poll GetRun for
// progress. If the graph does not exist, no run record is created.
func (e *Engine) SubmitRun(ctx context.Context, graphID string, initial core.State) (runtime.Snapshot, error) {
	rec, ok, err := e.graphs.Get(ctx, graphID)
	if err != nil {
		return runtime.Snapshot{}, err
	}
	if !ok {
		return runtime.Snapshot{}, fmt.Errorf("%w: %q", ErrGraphNotFound, graphID)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return runtime.Snapshot{}, ErrEngineClosed
	}
	e.wg.Add(1)
	e.mu.Unlock()

	run := runtime.NewRun(uuid.NewString(), graphID, initial)
	if err := e.runs.Create(ctx, run); err != nil {
		e.wg.Done()
		return runtime.Snapshot{}, err
	}
	snap := run.Snapshot()

	go func() {
		defer e.wg.Done()
		// The run outlives the submitting request, so it cannot use the
		// request's context.
		_ = e.executor.Execute(context.Background(), rec.Definition, run, e.opts)
	}()

	e.logger.Info("run submitted", "run_id", snap.RunID, "graph_id", graphID)
	return snap, nil
}

// GetRun returns a point-in-time snapshot of the run stored under id. The
// snapshot is consistent: its history never runs ahead of its state.
func (e *Engine) GetRun(ctx context.Context, id string) (runtime.Snapshot, error) {
	run, ok, err := e.runs.Get(ctx, id)
	if err != nil {
		return runtime.Snapshot{}, err
	}
	if !ok {
		return runtime.Snapshot{}, fmt.Errorf("%w: %q", ErrRunNotFound, id)
	}
	return run.Snapshot(), nil
}

// Stats summarizes the engine's stores for health reporting.
type Stats struct {
	Graphs int `json:"graphs"`
	Runs   int `json:"runs"`
	Nodes  int `json:"nodes"`
}

// Stats returns current store counts.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	graphs, err := e.graphs.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	runs, err := e.runs.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Graphs: graphs, Runs: runs, Nodes: e.registry.Len()}, nil
}

// Close stops accepting new runs and waits for in-flight runs to finish,
// or for ctx to expire, whichever comes first.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
