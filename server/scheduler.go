package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/corvid-labs/graphrun/engine"
)

const (
	defaultSchedulePollInterval = 5 * time.Second
	defaultScheduleBatchLimit   = 100
)

// SchedulerConfig configures the background schedule runner.
type SchedulerConfig struct {
	Engine       *engine.Engine
	Store        ScheduleStore
	PollInterval time.Duration
	BatchLimit   int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically submits runs for due schedules. Submission is
// asynchronous through the engine, so one slow run never delays the poll
// loop.
type Scheduler struct {
	engine       *engine.Engine
	store        ScheduleStore
	pollInterval time.Duration
	batchLimit   int
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("scheduler engine is nil")
	}
	if cfg.Store == nil {
		return nil, errors.New("scheduler store is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultScheduleBatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		engine:       cfg.Engine,
		store:        cfg.Store,
		pollInterval: cfg.PollInterval,
		batchLimit:   cfg.BatchLimit,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}, nil
}

// Start begins background polling. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop halts background polling and waits for the loop to exit, or for ctx
// to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass: every due schedule gets its
// next fire time advanced and a run submitted.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.store.ListDue(ctx, now, s.batchLimit)
	if err != nil {
		return err
	}

	for _, sched := range due {
		s.processDue(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) processDue(ctx context.Context, sched Schedule, now time.Time) {
	next, err := nextCronRunUTC(sched.Cron, now)
	if err != nil {
		// Unparseable expressions would fire every poll; disable instead.
		sched.Enabled = false
		sched.LastError = err.Error()
		sched.UpdatedAt = now
		s.persist(ctx, sched)
		s.logger.Error("schedule disabled", "schedule_id", sched.ID, "error", err)
		return
	}
	sched.NextRunAt = next

	snap, err := s.engine.SubmitRun(ctx, sched.GraphID, sched.InitialState)
	at := now
	sched.LastRunAt = &at
	sched.UpdatedAt = now

	switch {
	case errors.Is(err, engine.ErrGraphNotFound):
		// The graph is gone for good; stop firing.
		sched.Enabled = false
		sched.LastError = err.Error()
		s.logger.Warn("schedule disabled, graph missing", "schedule_id", sched.ID, "graph_id", sched.GraphID)
	case err != nil:
		sched.LastError = err.Error()
		s.logger.Error("scheduled submit failed", "schedule_id", sched.ID, "graph_id", sched.GraphID, "error", err)
	default:
		sched.LastRunID = snap.RunID
		sched.LastError = ""
		s.logger.Info("scheduled run submitted", "schedule_id", sched.ID, "run_id", snap.RunID)
	}

	s.persist(ctx, sched)
}

func (s *Scheduler) persist(ctx context.Context, sched Schedule) {
	if err := s.store.Update(ctx, sched); err != nil {
		s.logger.Error("persist schedule", "schedule_id", sched.ID, "error", err)
	}
}
