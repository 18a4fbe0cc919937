// Package engine ties the pieces together: it owns the graph and run
// stores, the node registry, and the background goroutines that execute
// submitted runs.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/corvid-labs/graphrun/graph"
	"github.com/corvid-labs/graphrun/runtime"
)

// Sentinel errors for store operations.
var (
	ErrGraphExists   = errors.New("graph already exists")
	ErrGraphNotFound = errors.New("graph not found")
	ErrRunNotFound   = errors.New("run not found")
	ErrEngineClosed  = errors.New("engine closed")
)

// GraphRecord is a stored graph definition.
type GraphRecord struct {
	ID         string           `json:"graph_id"`
	Definition graph.Definition `json:"definition"`
	CreatedAt  time.Time        `json:"created_at"`
}

// GraphStore provides CRUD operations for graph records.
type GraphStore interface {
	List(ctx context.Context) ([]GraphRecord, error)
	Get(ctx context.Context, id string) (GraphRecord, bool, error)
	Create(ctx context.Context, rec GraphRecord) error
	Count(ctx context.Context) (int, error)
}

// RunStore tracks run records for lookup by ID.
type RunStore interface {
	Get(ctx context.Context, id string) (*runtime.Run, bool, error)
	Create(ctx context.Context, run *runtime.Run) error
	Count(ctx context.Context) (int, error)
}
