package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/corvid-labs/graphrun/core"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusSubmitted is the initial status, before the executor picks the
	// run up.
	StatusSubmitted Status = "SUBMITTED"

	// StatusRunning means the executor is traversing the graph.
	StatusRunning Status = "RUNNING"

	// StatusCompleted means the run reached a terminal node.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means traversal stopped on an error or the step ceiling.
	StatusFailed Status = "FAILED"
)

// HistoryEntry records one node invocation. Entries are appended in
// execution order and never modified afterwards.
type HistoryEntry struct {
	Node  string `json:"node"`
	Route string `json:"route,omitempty"` // routing key returned; empty when the node returned none
	Step  int    `json:"step"`
}

// Run is the mutable record of one graph execution. The executor holds it
// while running; the run store owns it for its entire lifetime. All access
// goes through mutex-guarded methods so that a concurrent Snapshot never
// observes a half-applied step.
type Run struct {
	mu          sync.Mutex
	id          string
	graphID     string
	status      Status
	state       core.State
	history     []HistoryEntry
	currentNode string
	started     bool
	errMsg      string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// NewRun creates a run in SUBMITTED status. The initial state is deep
// copied so the caller's map is never shared with the executor.
func NewRun(id, graphID string, initial core.State) *Run {
	state := initial.Clone()
	if state == nil {
		state = core.State{}
	}
	return &Run{
		id:        id,
		graphID:   graphID,
		status:    StatusSubmitted,
		state:     state,
		createdAt: time.Now().UTC(),
	}
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// GraphID returns the identifier of the graph this run traverses.
func (r *Run) GraphID() string {
	return r.graphID
}

// Status returns the current lifecycle status.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot is an immutable copy of a run record, safe to hand to callers
// while the executor keeps mutating the live record.
type Snapshot struct {
	RunID       string         `json:"run_id"`
	GraphID     string         `json:"graph_id"`
	Status      Status         `json:"status"`
	State       core.State     `json:"state"`
	History     []HistoryEntry `json:"history"`
	CurrentNode *string        `json:"current_node"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// Snapshot returns a deep copy of the run record.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		RunID:     r.id,
		GraphID:   r.graphID,
		Status:    r.status,
		State:     r.state.Clone(),
		History:   make([]HistoryEntry, len(r.history)),
		Error:     r.errMsg,
		CreatedAt: r.createdAt,
	}
	copy(snap.History, r.history)

	if r.started {
		node := r.currentNode
		snap.CurrentNode = &node
		at := r.startedAt
		snap.StartedAt = &at
	}
	if !r.completedAt.IsZero() {
		at := r.completedAt
		snap.CompletedAt = &at
	}
	return snap
}

// begin transitions the run to RUNNING at the start node.
func (r *Run) begin(start string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusRunning
	r.currentNode = start
	r.started = true
	r.startedAt = now.UTC()
}

// applyNode invokes the node function against the shared state and appends
// the history entry for this step. The lock is held across the invocation:
// node functions are synchronous and quick, and holding it keeps a
// concurrent Snapshot from seeing state mutated ahead of its history.
// On error the entry is still appended (the invocation happened) before
// the error is returned.
func (r *Run) applyNode(ctx context.Context, node string, step int, fn core.NodeFunc) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route, err := fn(ctx, r.state)
	if err != nil {
		r.history = append(r.history, HistoryEntry{Node: node, Step: step})
		return "", err
	}
	r.history = append(r.history, HistoryEntry{Node: node, Route: route, Step: step})
	return route, nil
}

// advance moves the cursor to the next node.
func (r *Run) advance(next string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentNode = next
}

// complete marks the run COMPLETED at the given node.
func (r *Run) complete(at string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusCompleted
	r.currentNode = at
	r.completedAt = now.UTC()
}

// fail marks the run FAILED with the given reason.
func (r *Run) fail(reason string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusFailed
	r.errMsg = reason
	r.completedAt = now.UTC()
}

// steps returns the number of history entries recorded so far.
func (r *Run) steps() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}
