package reliability

import (
	"context"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/causez"
)

// Tracer lifecycle tests - verify startup, use after close, and goroutine
// cleanup across many tracer instances.

func TestTracerLifecycle(t *testing.T) {
	config := getReliabilityConfig()

	switch config.Level {
	case "basic":
		t.Run("startup_shutdown", testStartupShutdown)
		t.Run("use_after_close", testUseAfterClose)
	case "stress":
		t.Run("rapid_cycling", testRapidCycling)
		t.Run("concurrent_lifecycle", testConcurrentLifecycle)
	default:
		t.Skip("CAUSEZ_RELIABILITY_LEVEL not set, skipping reliability tests")
	}
}

func testStartupShutdown(t *testing.T) {
	collector := causez.NewCollector("lifecycle")
	tracer := causez.New(collector)

	ctx, _ := causez.NewContext(context.Background(), "startup")
	root, ok := tracer.Spans().StartTrace(ctx, "lifecycle", "startup-test")
	if !ok {
		t.Fatal("Trace failed immediately after tracer startup")
	}
	tracer.Spans().Stop(ctx, root)

	if err := tracer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !collector.Closed() {
		t.Error("Expected transport released on close")
	}
	if len(collector.Export()) != 2 {
		t.Error("Expected both span events flushed")
	}
}

func testUseAfterClose(t *testing.T) {
	tracer := causez.New(nil)
	tracer.Close()

	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Panic after tracer close: %v", r)
			}
		}()

		ctx, cell := causez.NewContext(context.Background(), "late")
		cell.Set(tracer.NewTask())
		tracer.DefaultLogger().Log(ctx, "late event")
		root, _ := tracer.Spans().StartTrace(ctx, "late", "late-trace")
		tracer.Spans().Stop(ctx, root)
	}()

	if tracer.Reporter().Dropped() == 0 {
		t.Error("Expected events after close to be dropped")
	}
}

func testRapidCycling(t *testing.T) {
	runtime.GC()
	before := runtime.NumGoroutine()

	for i := 0; i < 200; i++ {
		tracer := causez.New(causez.NewCollector("cycle"))
		ctx, cell := causez.NewContext(context.Background(), "")
		cell.Set(tracer.NewTask())
		tracer.DefaultLogger().Log(ctx, "cycle")
		tracer.Close()
	}

	time.Sleep(50 * time.Millisecond)
	runtime.GC()
	after := runtime.NumGoroutine()
	if after > before+5 {
		t.Errorf("Goroutine leak: %d -> %d", before, after)
	}
}

func testConcurrentLifecycle(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector := causez.NewCollector("concurrent")
			tracer := causez.New(collector)
			ctx, cell := causez.NewContext(context.Background(), "")
			cell.Set(tracer.NewTask())
			for j := 0; j < 100; j++ {
				tracer.DefaultLogger().Log(ctx, "work")
			}
			tracer.Close()
			if got := len(collector.Export()); got != 100 {
				t.Errorf("Expected 100 events, got %d", got)
			}
		}()
	}
	wg.Wait()
}
