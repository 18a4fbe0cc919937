package server

import (
	"context"
	"testing"
	"time"

	"github.com/corvid-labs/graphrun/core"
	"github.com/corvid-labs/graphrun/engine"
	"github.com/corvid-labs/graphrun/graph"
	"github.com/corvid-labs/graphrun/registry"
)

func schedulerFixture(t *testing.T) (*engine.Engine, *MemScheduleStore, *Scheduler, *time.Time) {
	t.Helper()
	reg := registry.New()
	reg.Register("a", func(_ context.Context, _ core.State) (string, error) {
		return "", nil
	})
	eng := engine.New(engine.Config{Registry: reg})

	store := NewMemScheduleStore()
	clock := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	sched, err := NewScheduler(SchedulerConfig{
		Engine: eng,
		Store:  store,
		Now:    func() time.Time { return clock },
	})
	if err != nil {
		t.Fatal(err)
	}
	return eng, store, sched, &clock
}

func putLinearGraph(t *testing.T, eng *engine.Engine, id string) {
	t.Helper()
	_, err := eng.PutGraph(context.Background(), id, graph.Definition{
		Nodes: []string{"a"},
		Start: "a",
	})
	if err != nil {
		t.Fatal(err)
	}
}

func putSchedule(t *testing.T, store *MemScheduleStore, sched Schedule) {
	t.Helper()
	if err := store.Create(context.Background(), sched); err != nil {
		t.Fatal(err)
	}
}

func TestScheduler_DueScheduleSubmitsRun(t *testing.T) {
	eng, store, sched, clock := schedulerFixture(t)
	ctx := context.Background()
	putLinearGraph(t, eng, "g")
	putSchedule(t, store, Schedule{
		ID:        "s1",
		GraphID:   "g",
		Cron:      "* * * * *",
		Enabled:   true,
		NextRunAt: clock.Add(-time.Minute),
	})

	if err := sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	got, ok, err := store.Get(ctx, "g", "s1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.LastRunID == "" {
		t.Error("LastRunID not recorded")
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q", got.LastError)
	}
	if !got.NextRunAt.After(*clock) {
		t.Errorf("NextRunAt = %v, want advanced past %v", got.NextRunAt, clock)
	}

	closeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := eng.Close(closeCtx); err != nil {
		t.Fatal(err)
	}
	snap, err := eng.GetRun(ctx, got.LastRunID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.GraphID != "g" {
		t.Errorf("run graph = %s", snap.GraphID)
	}
}

func TestScheduler_FutureScheduleNotFired(t *testing.T) {
	eng, store, sched, clock := schedulerFixture(t)
	ctx := context.Background()
	putLinearGraph(t, eng, "g")
	putSchedule(t, store, Schedule{
		ID:        "s1",
		GraphID:   "g",
		Cron:      "* * * * *",
		Enabled:   true,
		NextRunAt: clock.Add(time.Hour),
	})

	if err := sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	got, _, _ := store.Get(ctx, "g", "s1")
	if got.LastRunID != "" {
		t.Error("future schedule fired early")
	}
}

func TestScheduler_DisabledScheduleSkipped(t *testing.T) {
	eng, store, sched, clock := schedulerFixture(t)
	ctx := context.Background()
	putLinearGraph(t, eng, "g")
	putSchedule(t, store, Schedule{
		ID:        "s1",
		GraphID:   "g",
		Cron:      "* * * * *",
		Enabled:   false,
		NextRunAt: clock.Add(-time.Minute),
	})

	if err := sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}
	got, _, _ := store.Get(ctx, "g", "s1")
	if got.LastRunID != "" {
		t.Error("disabled schedule fired")
	}
}

func TestScheduler_MissingGraphDisablesSchedule(t *testing.T) {
	_, store, sched, clock := schedulerFixture(t)
	ctx := context.Background()
	putSchedule(t, store, Schedule{
		ID:        "s1",
		GraphID:   "gone",
		Cron:      "* * * * *",
		Enabled:   true,
		NextRunAt: clock.Add(-time.Minute),
	})

	if err := sched.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	got, _, _ := store.Get(ctx, "gone", "s1")
	if got.Enabled {
		t.Error("schedule for a missing graph should be disabled")
	}
	if got.LastError == "" {
		t.Error("LastError not recorded")
	}
}

func TestScheduler_StartStop(t *testing.T) {
	_, _, sched, _ := schedulerFixture(t)

	sched.Start()
	sched.Start() // idempotent

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sched.Stop(ctx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestMemScheduleStore_ListDueOrderAndLimit(t *testing.T) {
	store := NewMemScheduleStore()
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	putSchedule(t, store, Schedule{ID: "late", GraphID: "g", Enabled: true, NextRunAt: now.Add(-time.Minute)})
	putSchedule(t, store, Schedule{ID: "early", GraphID: "g", Enabled: true, NextRunAt: now.Add(-time.Hour)})
	putSchedule(t, store, Schedule{ID: "off", GraphID: "g", Enabled: false, NextRunAt: now.Add(-time.Hour)})

	due, err := store.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != "early" || due[1].ID != "late" {
		t.Fatalf("due = %v", due)
	}

	due, err = store.ListDue(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "early" {
		t.Fatalf("limited due = %v", due)
	}
}

func TestMemScheduleStore_GraphScoping(t *testing.T) {
	store := NewMemScheduleStore()
	ctx := context.Background()

	putSchedule(t, store, Schedule{ID: "s1", GraphID: "g1", CreatedAt: time.Now()})

	if _, ok, _ := store.Get(ctx, "g2", "s1"); ok {
		t.Error("schedule visible under the wrong graph")
	}
	if err := store.Delete(ctx, "g2", "s1"); err == nil {
		t.Error("delete under the wrong graph should fail")
	}
	if err := store.Delete(ctx, "g1", "s1"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}
