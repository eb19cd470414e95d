package causez

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestReporterFlushesOnClose(t *testing.T) {
	collector := NewCollector("test")
	r := NewReporter(collector)

	const n = 1000
	for i := 0; i < n; i++ {
		if !r.Submit(&Event{EventID: int64(i + 1)}) {
			t.Fatalf("Submit %d rejected", i)
		}
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Unexpected close error: %v", err)
	}

	events := collector.Export()
	if len(events) != n {
		t.Fatalf("Expected %d events after close, got %d", n, len(events))
	}
	seen := make(map[int64]bool, n)
	for i, e := range events {
		if seen[e.EventID] {
			t.Fatalf("Duplicate event %d", e.EventID)
		}
		seen[e.EventID] = true
		if e.EventID != int64(i+1) {
			t.Fatalf("Expected FIFO order, event %d at position %d", e.EventID, i)
		}
	}
	if !collector.Closed() {
		t.Error("Expected transport closed after flush")
	}
	if r.Forwarded() != n {
		t.Errorf("Expected %d forwarded, got %d", n, r.Forwarded())
	}
}

func TestReporterSubmitDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	var forwarded atomic.Int64
	blocked := TransportFunc(func(context.Context, Agent, *Event) error {
		<-release
		forwarded.Add(1)
		return nil
	})
	r := NewReporter(blocked)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			r.Submit(&Event{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a stalled transport")
	}

	close(release)
	if err := r.Close(); err != nil {
		t.Fatalf("Unexpected close error: %v", err)
	}
	if forwarded.Load() != 500 {
		t.Errorf("Expected 500 forwarded, got %d", forwarded.Load())
	}
}

func TestReporterDropsAfterClose(t *testing.T) {
	collector := NewCollector("test")
	r := NewReporter(collector)
	r.Close()

	if r.Alive() {
		t.Error("Expected reporter not alive after close")
	}
	if r.Submit(&Event{}) {
		t.Error("Expected Submit after close to be rejected")
	}
	if r.Dropped() != 1 {
		t.Errorf("Expected 1 dropped, got %d", r.Dropped())
	}
	if collector.Count() != 0 {
		t.Errorf("Expected nothing forwarded, got %d", collector.Count())
	}

	// Closing twice is safe.
	if err := r.Close(); err != nil {
		t.Errorf("Unexpected error on second close: %v", err)
	}
}

func TestReporterTransportErrorsAreContained(t *testing.T) {
	var calls atomic.Int64
	failing := TransportFunc(func(context.Context, Agent, *Event) error {
		calls.Add(1)
		return errors.New("unreachable")
	})
	r := NewReporter(failing)

	r.Submit(&Event{})
	r.Submit(&Event{})
	r.Close()

	if r.Failed() != 2 {
		t.Errorf("Expected 2 failed, got %d", r.Failed())
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 attempts without retry, got %d", calls.Load())
	}
}

func TestReporterRetry(t *testing.T) {
	var calls atomic.Int64
	flaky := TransportFunc(func(context.Context, Agent, *Event) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	metrics := NewMetrics("test")
	r := NewReporter(flaky,
		WithRetry(RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}),
		WithMetrics(metrics),
	)

	r.Submit(&Event{})
	r.Close()

	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if r.Forwarded() != 1 || r.Failed() != 0 {
		t.Errorf("Expected 1 forwarded and 0 failed, got %d/%d", r.Forwarded(), r.Failed())
	}
	if got := testutil.ToFloat64(metrics.Retried); got != 2 {
		t.Errorf("Expected 2 retries recorded, got %v", got)
	}
}

func TestReporterRetryGivesUp(t *testing.T) {
	var calls atomic.Int64
	failing := TransportFunc(func(context.Context, Agent, *Event) error {
		calls.Add(1)
		return errors.New("down")
	})
	r := NewReporter(failing, WithRetry(RetryPolicy{MaxAttempts: 3}))

	r.Submit(&Event{})
	r.Close()

	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
	if r.Failed() != 1 {
		t.Errorf("Expected 1 failed, got %d", r.Failed())
	}
}

func TestReporterRecoversTransportPanic(t *testing.T) {
	var recovered atomic.Value
	calls := 0
	panicky := TransportFunc(func(context.Context, Agent, *Event) error {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return nil
	})
	r := NewReporter(panicky, WithPanicHook(func(p interface{}) {
		recovered.Store(p)
	}))

	r.Submit(&Event{})
	r.Submit(&Event{})
	r.Close()

	if recovered.Load() != "boom" {
		t.Errorf("Expected panic hook to receive boom, got %v", recovered.Load())
	}
	if r.Failed() != 1 || r.Forwarded() != 1 {
		t.Errorf("Expected 1 failed and 1 forwarded, got %d/%d", r.Failed(), r.Forwarded())
	}
}

func TestReporterQueueLimit(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	blocked := TransportFunc(func(context.Context, Agent, *Event) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	})
	metrics := NewMetrics("test")
	r := NewReporter(blocked, WithQueueLimit(2), WithMetrics(metrics))

	r.Submit(&Event{})
	<-started // worker holds the first event

	if !r.Submit(&Event{}) || !r.Submit(&Event{}) {
		t.Fatal("Expected two events to fit in the queue")
	}
	if r.Submit(&Event{}) {
		t.Error("Expected submit beyond the limit to be dropped")
	}
	if r.QueueDepth() != 2 {
		t.Errorf("Expected queue depth 2, got %d", r.QueueDepth())
	}
	if got := testutil.ToFloat64(metrics.QueueDepth); got != 2 {
		t.Errorf("Expected queue depth gauge 2, got %v", got)
	}

	close(release)
	r.Close()

	if r.Forwarded() != 3 || r.Dropped() != 1 {
		t.Errorf("Expected 3 forwarded and 1 dropped, got %d/%d", r.Forwarded(), r.Dropped())
	}
	if got := testutil.ToFloat64(metrics.Dropped); got != 1 {
		t.Errorf("Expected dropped counter 1, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Submitted); got != 3 {
		t.Errorf("Expected submitted counter 3, got %v", got)
	}
}

func TestReporterShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	blocked := TransportFunc(func(context.Context, Agent, *Event) error {
		<-release
		return nil
	})
	r := NewReporter(blocked)
	r.Submit(&Event{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}

	close(release)
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("Expected flush to finish after transport unblocked")
	}
	if r.Forwarded() != 1 {
		t.Errorf("Expected queued event forwarded, got %d", r.Forwarded())
	}
}

func TestReporterConcurrentSubmit(t *testing.T) {
	collector := NewCollector("test")
	r := NewReporter(collector)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Submit(&Event{})
			}
		}()
	}
	wg.Wait()
	r.Close()

	if collector.Count() != 800 {
		t.Errorf("Expected 800 events, got %d", collector.Count())
	}
}

func TestMetricsRegister(t *testing.T) {
	m := NewMetrics("causez_test")
	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		t.Fatalf("Unexpected register error: %v", err)
	}
	if err := m.Register(reg); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}
