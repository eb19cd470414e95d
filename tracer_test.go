package causez

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewTracer(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	if tracer.Builder() == nil || tracer.Reporter() == nil || tracer.Spans() == nil {
		t.Error("Expected builder, reporter and span tracker to be initialized")
	}
	if !tracer.Reporter().Alive() {
		t.Error("Expected reporter to be alive")
	}
}

func TestTracerNewTask(t *testing.T) {
	tracer := New(nil)
	defer tracer.Close()

	a := tracer.NewTask()
	b := tracer.NewTask()
	idA, _ := a.TaskID()
	idB, _ := b.TaskID()
	if idA == 0 || idA == idB {
		t.Errorf("Expected distinct non-zero task ids, got %d and %d", idA, idB)
	}
	if !equalIDs(a.ParentEventIDs(), []int64{0}) {
		t.Errorf("Expected causal root parent, got %v", a.ParentEventIDs())
	}

	tenant := tracer.NewTenantTask(4)
	if tc, ok := tenant.TenantClass(); !ok || tc != 4 {
		t.Errorf("Expected tenant 4, got %d", tc)
	}

	if tracer.NewPropagationTask().ParentCount() != 0 {
		t.Error("Expected propagation task without parents")
	}
}

// Metadata with a task id and no parents reports events without causality.
func TestTracerEndToEndWithoutParents(t *testing.T) {
	tracer, collector := newTestTracer(t)
	ctx, cell := NewContext(context.Background(), "main")
	cell.Set(NewTaskMetadata(42, false))

	log := tracer.Logger("svc")
	log.Log(ctx, "hello")
	log.Log(ctx, "world")

	events := flush(t, tracer, collector)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	for i, label := range []string{"hello", "world"} {
		e := events[i]
		if e.Label != label || e.Agent != "svc" {
			t.Errorf("Event %d: expected svc/%s, got %s/%s", i, label, e.Agent, e.Label)
		}
		if e.TaskID != 42 {
			t.Errorf("Event %d: expected task 42, got %d", i, e.TaskID)
		}
		if e.HasEventID() || len(e.ParentEventIDs) != 0 {
			t.Errorf("Event %d: expected no causality, got id %d parents %v", i, e.EventID, e.ParentEventIDs)
		}
	}
}

func TestTracerEndToEndCausal(t *testing.T) {
	tracer, collector := newTestTracer(t)
	ctx, cell := NewContext(context.Background(), "main")
	cell.Set(tracer.NewTask())

	log := tracer.DefaultLogger()
	log.Log(ctx, "one", 1)
	log.Log(ctx, "two", nil)

	events := flush(t, tracer, collector)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Agent != DefaultAgent {
		t.Errorf("Expected default agent, got %s", events[0].Agent)
	}
	if !equalIDs(events[1].ParentEventIDs, []int64{events[0].EventID}) {
		t.Errorf("Expected second event to descend from first, got %v", events[1].ParentEventIDs)
	}
	if events[1].Values[0] != "null" {
		t.Errorf("Expected nil field rendered as null, got %q", events[1].Values[0])
	}
}

func TestTracerLogWithoutTask(t *testing.T) {
	tracer, collector := newTestTracer(t)
	log := tracer.Logger("svc")

	ctx, cell := NewContext(context.Background(), "main")
	if log.Valid(ctx) {
		t.Error("Expected Valid false on empty cell")
	}
	log.Log(ctx, "dropped")
	log.Log(context.Background(), "dropped")

	cell.Set(TenantMetadata(1))
	log.Log(ctx, "dropped")

	if events := flush(t, tracer, collector); len(events) != 0 {
		t.Errorf("Expected no events, got %d", len(events))
	}
}

func TestTracerDecorator(t *testing.T) {
	tracer, collector := newTestTracer(t,
		WithDecorator(func(e *Event) *Event {
			e.SetTag("env", "first")
			return e
		}),
		WithDecorator(func(e *Event) *Event {
			e.SetTag("env", "prod")
			return e
		}),
	)
	ctx, cell := NewContext(context.Background(), "main")
	cell.Set(tracer.NewTask())
	tracer.DefaultLogger().Log(ctx, "x")

	events := flush(t, tracer, collector)
	if v, _ := events[0].Tag("env"); v != "prod" {
		t.Errorf("Expected last decorator to apply, got %q", v)
	}
}

func TestTracerWithFakeClock(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockz.NewFakeClockAt(start)
	tracer, collector := newTestTracer(t, WithClock(clock))

	ctx, cell := NewContext(context.Background(), "main")
	cell.Set(tracer.NewTask())
	clock.Advance(time.Second)
	tracer.DefaultLogger().Log(ctx, "tick")

	events := flush(t, tracer, collector)
	if events[0].Timestamp != start.Add(time.Second).UnixMilli() {
		t.Errorf("Expected fake clock timestamp, got %d", events[0].Timestamp)
	}
}

func TestTracerWarnsOnSpanWithoutTrace(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	tracer, _ := newTestTracer(t, WithLogger(zap.New(core)))

	ctx, cell := NewContext(context.Background(), "main")
	cell.Set(tracer.NewTask())
	tracer.Spans().StartSpan(ctx, "orphan")

	if logs.FilterMessage("starting span without an enclosing trace").Len() != 1 {
		t.Errorf("Expected one warning, got %v", logs.All())
	}
}

func TestTracerConcurrentCells(t *testing.T) {
	tracer, collector := newTestTracer(t)
	log := tracer.DefaultLogger()

	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cell := NewContext(context.Background(), "")
			cell.Set(tracer.NewTask())
			for i := 0; i < 50; i++ {
				log.Log(ctx, "step", i)
			}
		}()
	}
	wg.Wait()

	events := flush(t, tracer, collector)
	if len(events) != 500 {
		t.Fatalf("Expected 500 events, got %d", len(events))
	}

	// Within a task every event descends from the previous one.
	last := make(map[int64]int64)
	for _, e := range events {
		if prev, ok := last[e.TaskID]; ok && !equalIDs(e.ParentEventIDs, []int64{prev}) {
			t.Fatalf("Task %s: expected parent %d, got %v", e.TaskIDString(), prev, e.ParentEventIDs)
		}
		last[e.TaskID] = e.EventID
	}
	if len(last) != 10 {
		t.Errorf("Expected 10 tasks, got %d", len(last))
	}
}

func TestTracerClose(t *testing.T) {
	tracer := New(nil)
	if err := tracer.Close(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if tracer.Reporter().Alive() {
		t.Error("Expected reporter stopped")
	}
	// Multiple closes should be safe.
	if err := tracer.Close(); err != nil {
		t.Errorf("Unexpected error on second close: %v", err)
	}
}

func TestTracerStartTask(t *testing.T) {
	tracer, collector := newTestTracer(t)

	ctx, cell := NewContext(context.Background(), "main")
	cell.SetTenantClass(6)
	tracer.StartTask(ctx, true)
	first, ok := cell.TaskID()
	if !ok || first == 0 {
		t.Fatalf("Expected a fresh task id, got %d", first)
	}

	tracer.StartTask(ctx, true)
	if again, _ := cell.TaskID(); again != first {
		t.Errorf("Expected task %d kept, got %d", first, again)
	}

	tracer.Logger("svc").Log(ctx, "started")
	events := flush(t, tracer, collector)
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	if events[0].TenantClass != 6 || !events[0].HasTenantClass {
		t.Errorf("Expected tenant 6 on event, got %d", events[0].TenantClass)
	}
	if !events[0].HasEventID() {
		t.Error("Expected causal task to assign an event id")
	}

	tracer.StartTask(context.Background(), true)
}

func TestDefaultLoggerFollowsEnabledByDefault(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		real   bool
	}{
		{"enabled by default", DefaultPolicy(), true},
		{"disabled list ignored", Policy{EnabledByDefault: true, Disabled: []string{DefaultAgent}}, true},
		{"enabled list ignored", Policy{Enabled: []string{DefaultAgent}}, false},
		{"off by default", Policy{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tracer := New(nil, WithPolicy(tc.policy))
			defer tracer.Close()
			if got := tracer.DefaultLogger() != NopLogger; got != tc.real {
				t.Errorf("Expected real logger %v, got %v", tc.real, got)
			}
		})
	}
}
