package engine

import (
	"context"
	"sync"

	"github.com/corvid-labs/graphrun/runtime"
)

// MemGraphStore is an in-memory graph store. List preserves insertion
// order so clients see graphs in the order they were created.
type MemGraphStore struct {
	mu    sync.RWMutex
	items map[string]GraphRecord
	order []string
}

// NewMemGraphStore creates an empty in-memory graph store.
func NewMemGraphStore() *MemGraphStore {
	return &MemGraphStore{
		items: make(map[string]GraphRecord),
	}
}

// List returns all graph records in insertion order.
func (s *MemGraphStore) List(ctx context.Context) ([]GraphRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]GraphRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id])
	}
	return out, nil
}

// Get returns one graph record by ID.
func (s *MemGraphStore) Get(ctx context.Context, id string) (GraphRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return GraphRecord{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[id]
	return rec, ok, nil
}

// Create stores a new graph record. The ID must be unused.
func (s *MemGraphStore) Create(ctx context.Context, rec GraphRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[rec.ID]; exists {
		return ErrGraphExists
	}
	s.items[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	return nil
}

// Count returns the number of stored graphs.
func (s *MemGraphStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

var _ GraphStore = (*MemGraphStore)(nil)

// MemRunStore is an in-memory run store. It holds the live run records;
// callers read state through Run.Snapshot, which is safe while the
// executor mutates the record on another goroutine.
type MemRunStore struct {
	mu    sync.RWMutex
	items map[string]*runtime.Run
}

// NewMemRunStore creates an empty in-memory run store.
func NewMemRunStore() *MemRunStore {
	return &MemRunStore{
		items: make(map[string]*runtime.Run),
	}
}

// Get returns one run by ID.
func (s *MemRunStore) Get(ctx context.Context, id string) (*runtime.Run, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.items[id]
	return run, ok, nil
}

// Create stores a new run record.
func (s *MemRunStore) Create(ctx context.Context, run *runtime.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[run.ID()] = run
	return nil
}

// Count returns the number of stored runs.
func (s *MemRunStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

var _ RunStore = (*MemRunStore)(nil)
