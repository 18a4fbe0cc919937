package runtime

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/corvid-labs/graphrun/core"
	"github.com/corvid-labs/graphrun/graph"
	"github.com/corvid-labs/graphrun/registry"
)

func constNode(route string) core.NodeFunc {
	return func(_ context.Context, _ core.State) (string, error) {
		return route, nil
	}
}

func execute(t *testing.T, reg *registry.Registry, def graph.Definition, initial core.State, opts Options) (*Run, error) {
	t.Helper()
	run := NewRun("run-1", "graph-1", initial)
	err := NewExecutor(reg).Execute(context.Background(), def, run, opts)
	return run, err
}

func TestExecute_LinearGraphCompletes(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode(""))
	reg.Register("b", constNode(""))
	reg.Register("c", constNode(""))

	def := graph.Definition{
		Nodes: []string{"a", "b", "c"},
		Start: "a",
		Edges: map[string]graph.Edge{
			"a": graph.SimpleEdge("b"),
			"b": graph.SimpleEdge("c"),
			// c has no edge entry: implicit termination
		},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", snap.Status)
	}
	if len(snap.History) != 3 {
		t.Errorf("history length = %d, want 3", len(snap.History))
	}
	if snap.CurrentNode == nil || *snap.CurrentNode != "c" {
		t.Errorf("CurrentNode = %v, want c", snap.CurrentNode)
	}
}

func TestExecute_TerminalRouteCompletesAtNode(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode("done"))

	def := graph.Definition{
		Nodes: []string{"a"},
		Start: "a",
		Edges: map[string]graph.Edge{
			"a": graph.ConditionalEdge(map[string]graph.Route{"done": graph.End()}),
		},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", snap.Status)
	}
	if snap.CurrentNode == nil || *snap.CurrentNode != "a" {
		t.Errorf("CurrentNode = %v, want a", snap.CurrentNode)
	}
}

func TestExecute_SimpleEdgeIgnoresRoutingKey(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode("anything-at-all"))
	reg.Register("b", constNode(""))

	def := graph.Definition{
		Nodes: []string{"a", "b"},
		Start: "a",
		Edges: map[string]graph.Edge{"a": graph.SimpleEdge("b")},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	snap := run.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", snap.Status)
	}
	if snap.History[0].Route != "anything-at-all" {
		t.Errorf("history should record the returned key even on simple edges, got %q", snap.History[0].Route)
	}
}

func TestExecute_EmptyRouteUsesDefaultKey(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode(""))
	reg.Register("b", constNode("stop"))

	def := graph.Definition{
		Nodes: []string{"a", "b"},
		Start: "a",
		Edges: map[string]graph.Edge{
			"a": graph.ConditionalEdge(map[string]graph.Route{core.DefaultRouteKey: graph.To("b")}),
			"b": graph.ConditionalEdge(map[string]graph.Route{"stop": graph.End()}),
		},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status() != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", run.Status())
	}
}

func TestExecute_UnroutableKeyFailsAndPreservesHistory(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode(""))
	reg.Register("b", constNode("surprise"))

	def := graph.Definition{
		Nodes: []string{"a", "b"},
		Start: "a",
		Edges: map[string]graph.Edge{
			"a": graph.SimpleEdge("b"),
			"b": graph.ConditionalEdge(map[string]graph.Route{"pass": graph.End()}),
		},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if !errors.Is(err, ErrUnroutableOutcome) {
		t.Fatalf("err = %v, want ErrUnroutableOutcome", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", snap.Status)
	}
	if !strings.Contains(snap.Error, "surprise") {
		t.Errorf("Error = %q, want the unroutable key mentioned", snap.Error)
	}
	// History up to and including the failing step is preserved.
	if len(snap.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(snap.History))
	}
	if snap.History[1].Node != "b" || snap.History[1].Route != "surprise" {
		t.Errorf("failing entry = %+v", snap.History[1])
	}
}

func TestExecute_UnregisteredNodeFails(t *testing.T) {
	reg := registry.New()

	def := graph.Definition{
		Nodes: []string{"ghost"},
		Start: "ghost",
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("err = %v, want ErrNodeNotFound", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", snap.Status)
	}
	if len(snap.History) != 0 {
		t.Errorf("history = %v, want empty (node never invoked)", snap.History)
	}
}

func TestExecute_NodeErrorFailsRun(t *testing.T) {
	reg := registry.New()
	reg.Register("boom", func(_ context.Context, _ core.State) (string, error) {
		return "", errors.New("disk on fire")
	})

	def := graph.Definition{
		Nodes: []string{"boom"},
		Start: "boom",
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err == nil {
		t.Fatal("expected error")
	}

	snap := run.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", snap.Status)
	}
	if !strings.Contains(snap.Error, "disk on fire") {
		t.Errorf("Error = %q, want node error recorded", snap.Error)
	}
	// The invocation happened, so it is in the history.
	if len(snap.History) != 1 || snap.History[0].Node != "boom" {
		t.Errorf("history = %+v, want the failing invocation recorded", snap.History)
	}
}

func TestExecute_StepLimitStopsInfiniteLoop(t *testing.T) {
	reg := registry.New()
	reg.Register("spin", constNode("again"))

	def := graph.Definition{
		Nodes: []string{"spin"},
		Start: "spin",
		Edges: map[string]graph.Edge{
			"spin": graph.ConditionalEdge(map[string]graph.Route{"again": graph.To("spin")}),
		},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if !errors.Is(err, ErrStepLimitExceeded) {
		t.Fatalf("err = %v, want ErrStepLimitExceeded", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", snap.Status)
	}
	if len(snap.History) != DefaultMaxSteps {
		t.Errorf("history length = %d, want exactly %d", len(snap.History), DefaultMaxSteps)
	}
}

func TestExecute_MaxStepsConfigurable(t *testing.T) {
	reg := registry.New()
	reg.Register("spin", constNode("again"))

	def := graph.Definition{
		Nodes: []string{"spin"},
		Start: "spin",
		Edges: map[string]graph.Edge{
			"spin": graph.ConditionalEdge(map[string]graph.Route{"again": graph.To("spin")}),
		},
	}

	opts := DefaultOptions()
	opts.MaxSteps = 7
	run, err := execute(t, reg, def, nil, opts)
	if !errors.Is(err, ErrStepLimitExceeded) {
		t.Fatalf("err = %v, want ErrStepLimitExceeded", err)
	}
	if got := len(run.Snapshot().History); got != 7 {
		t.Errorf("history length = %d, want 7", got)
	}
}

func TestExecute_HistoryStrictlyIncreasing(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode(""))
	reg.Register("b", constNode("back"))

	def := graph.Definition{
		Nodes: []string{"a", "b"},
		Start: "a",
		Edges: map[string]graph.Edge{
			"a": graph.SimpleEdge("b"),
			"b": graph.ConditionalEdge(map[string]graph.Route{"back": graph.To("a")}),
		},
	}

	run, _ := execute(t, reg, def, nil, DefaultOptions())
	history := run.Snapshot().History
	for i, entry := range history {
		if entry.Step != i {
			t.Fatalf("history[%d].Step = %d, want %d", i, entry.Step, i)
		}
	}
}

// retryGraph is the two-node loop used by the retry scenarios: a has a
// simple edge to b; b routes "pass" to termination and "retry" back to a.
func retryGraph() graph.Definition {
	return graph.Definition{
		Nodes: []string{"a", "b", "c"},
		Start: "a",
		Edges: map[string]graph.Edge{
			"a": graph.SimpleEdge("b"),
			"b": graph.ConditionalEdge(map[string]graph.Route{
				"pass":  graph.End(),
				"retry": graph.To("a"),
			}),
		},
	}
}

func TestExecute_RetryLoopConvergesAndCompletes(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode("next"))
	reg.Register("b", func(_ context.Context, state core.State) (string, error) {
		count, _ := state["count"].(int)
		if count >= 3 {
			return "pass", nil
		}
		state["count"] = count + 1
		return "retry", nil
	})

	run, err := execute(t, reg, retryGraph(), core.State{"count": 0}, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", snap.Status)
	}
	if snap.CurrentNode == nil || *snap.CurrentNode != "b" {
		t.Errorf("CurrentNode = %v, want b", snap.CurrentNode)
	}
	if len(snap.History) != 8 {
		t.Errorf("history length = %d, want 8", len(snap.History))
	}
	if snap.State["count"] != 3 {
		t.Errorf("count = %v, want 3", snap.State["count"])
	}

	visitsToB := 0
	for _, entry := range snap.History {
		if entry.Node == "b" {
			visitsToB++
		}
	}
	if visitsToB != 4 {
		t.Errorf("visits to b = %d, want 4", visitsToB)
	}
}

func TestExecute_RetryLoopThatNeverPassesHitsStepLimit(t *testing.T) {
	reg := registry.New()
	reg.Register("a", constNode("next"))
	reg.Register("b", constNode("retry"))

	run, err := execute(t, reg, retryGraph(), core.State{}, DefaultOptions())
	if !errors.Is(err, ErrStepLimitExceeded) {
		t.Fatalf("err = %v, want ErrStepLimitExceeded", err)
	}

	snap := run.Snapshot()
	if snap.Status != StatusFailed {
		t.Errorf("Status = %s, want FAILED", snap.Status)
	}
	if len(snap.History) != 50 {
		t.Errorf("history length = %d, want 50", len(snap.History))
	}
}

func TestExecute_StateMutationsVisibleAcrossSteps(t *testing.T) {
	reg := registry.New()
	reg.Register("writer", func(_ context.Context, state core.State) (string, error) {
		state["written"] = "yes"
		return "", nil
	})
	reg.Register("reader", func(_ context.Context, state core.State) (string, error) {
		if state["written"] != "yes" {
			return "", errors.New("mutation from previous step not visible")
		}
		return "", nil
	})

	def := graph.Definition{
		Nodes: []string{"writer", "reader"},
		Start: "writer",
		Edges: map[string]graph.Edge{"writer": graph.SimpleEdge("reader")},
	}

	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status() != StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", run.Status())
	}
}

func TestNewRun_ClonesInitialState(t *testing.T) {
	initial := core.State{"count": 0}
	run := NewRun("r", "g", initial)

	initial["count"] = 99
	if got := run.Snapshot().State["count"]; got != 0 {
		t.Errorf("run state count = %v, want 0 (initial state must be copied)", got)
	}
}

func TestRun_SnapshotBeforeExecution(t *testing.T) {
	run := NewRun("r", "g", nil)
	snap := run.Snapshot()

	if snap.Status != StatusSubmitted {
		t.Errorf("Status = %s, want SUBMITTED", snap.Status)
	}
	if snap.CurrentNode != nil {
		t.Errorf("CurrentNode = %v, want nil before execution", snap.CurrentNode)
	}
	if snap.StartedAt != nil || snap.CompletedAt != nil {
		t.Error("timestamps should be unset before execution")
	}
}

func TestRun_SnapshotIsolatedFromLiveState(t *testing.T) {
	reg := registry.New()
	reg.Register("a", func(_ context.Context, state core.State) (string, error) {
		state["list"] = []any{"x"}
		return "", nil
	})

	def := graph.Definition{Nodes: []string{"a"}, Start: "a"}
	run, err := execute(t, reg, def, nil, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	snap := run.Snapshot()
	snap.State["list"].([]any)[0] = "mutated"

	if run.Snapshot().State["list"].([]any)[0] != "x" {
		t.Error("mutating a snapshot must not affect the run record")
	}
}
