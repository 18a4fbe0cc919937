package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/corvid-labs/graphrun/core"
)

var (
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrScheduleNotFound = errors.New("schedule not found")
)

// Schedule is a recurring run trigger for one graph, driven by a standard
// 5-field UTC cron expression.
type Schedule struct {
	ID           string     `json:"id"`
	GraphID      string     `json:"graph_id"`
	Cron         string     `json:"cron"`
	Enabled      bool       `json:"enabled"`
	InitialState core.State `json:"initial_state,omitempty"`

	NextRunAt time.Time  `json:"next_run_at"`
	LastRunAt *time.Time `json:"last_run_at,omitempty"`
	LastRunID string     `json:"last_run_id,omitempty"`
	LastError string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleStore provides CRUD plus due-schedule queries.
type ScheduleStore interface {
	ListAll(ctx context.Context) ([]Schedule, error)
	List(ctx context.Context, graphID string) ([]Schedule, error)
	Get(ctx context.Context, graphID, scheduleID string) (Schedule, bool, error)
	Create(ctx context.Context, sched Schedule) error
	Update(ctx context.Context, sched Schedule) error
	Delete(ctx context.Context, graphID, scheduleID string) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]Schedule, error)
}

// MemScheduleStore is an in-memory schedule store.
type MemScheduleStore struct {
	mu    sync.RWMutex
	items map[string]Schedule
}

// NewMemScheduleStore creates an empty in-memory schedule store.
func NewMemScheduleStore() *MemScheduleStore {
	return &MemScheduleStore{items: make(map[string]Schedule)}
}

// ListAll returns every schedule, ordered by creation time.
func (s *MemScheduleStore) ListAll(ctx context.Context) ([]Schedule, error) {
	return s.list(ctx, func(Schedule) bool { return true })
}

// List returns the schedules attached to graphID, ordered by creation time.
func (s *MemScheduleStore) List(ctx context.Context, graphID string) ([]Schedule, error) {
	return s.list(ctx, func(sched Schedule) bool { return sched.GraphID == graphID })
}

func (s *MemScheduleStore) list(ctx context.Context, keep func(Schedule) bool) ([]Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Schedule, 0, len(s.items))
	for _, sched := range s.items {
		if keep(sched) {
			out = append(out, cloneSchedule(sched))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Get returns one schedule scoped to its graph.
func (s *MemScheduleStore) Get(ctx context.Context, graphID, scheduleID string) (Schedule, bool, error) {
	if err := ctx.Err(); err != nil {
		return Schedule{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.items[scheduleID]
	if !ok || sched.GraphID != graphID {
		return Schedule{}, false, nil
	}
	return cloneSchedule(sched), true, nil
}

// Create stores a new schedule. The ID must be unused.
func (s *MemScheduleStore) Create(ctx context.Context, sched Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[sched.ID]; exists {
		return ErrScheduleExists
	}
	s.items[sched.ID] = cloneSchedule(sched)
	return nil
}

// Update replaces an existing schedule.
func (s *MemScheduleStore) Update(ctx context.Context, sched Schedule) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[sched.ID]; !exists {
		return ErrScheduleNotFound
	}
	s.items[sched.ID] = cloneSchedule(sched)
	return nil
}

// Delete removes one schedule scoped to its graph.
func (s *MemScheduleStore) Delete(ctx context.Context, graphID, scheduleID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.items[scheduleID]
	if !ok || sched.GraphID != graphID {
		return ErrScheduleNotFound
	}
	delete(s.items, scheduleID)
	return nil
}

// ListDue returns enabled schedules whose NextRunAt is at or before now,
// soonest first, capped at limit.
func (s *MemScheduleStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Schedule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Schedule, 0)
	for _, sched := range s.items {
		if sched.Enabled && !sched.NextRunAt.After(now) {
			out = append(out, cloneSchedule(sched))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRunAt.Before(out[j].NextRunAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ ScheduleStore = (*MemScheduleStore)(nil)

func cloneSchedule(in Schedule) Schedule {
	out := in
	out.InitialState = in.InitialState.Clone()
	if in.LastRunAt != nil {
		at := *in.LastRunAt
		out.LastRunAt = &at
	}
	return out
}
