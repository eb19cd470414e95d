package integration

import (
	"testing"
	"time"

	"github.com/zoobzio/causez"
)

// Harness wires a tracer to an in-memory collector and adds assertions over
// the reported events.
type Harness struct {
	Tracer    *causez.Tracer
	Collector *causez.Collector
	t         *testing.T
	events    []causez.Event
	flushed   bool
}

// NewHarness creates a harness. The tracer is closed at test cleanup.
func NewHarness(t *testing.T, opts ...causez.Option) *Harness {
	t.Helper()
	collector := causez.NewCollector(t.Name())
	h := &Harness{
		Tracer:    causez.New(collector, opts...),
		Collector: collector,
		t:         t,
	}
	t.Cleanup(func() { h.Tracer.Close() })
	return h
}

// Flush closes the tracer and returns every event reported.
func (h *Harness) Flush() []causez.Event {
	h.t.Helper()
	if !h.flushed {
		if err := h.Tracer.Close(); err != nil {
			h.t.Fatalf("Closing tracer: %v", err)
		}
		h.events = h.Collector.Export()
		h.flushed = true
	}
	return h.events
}

// WaitForEvents waits until n events were forwarded without closing the tracer.
func (h *Harness) WaitForEvents(n int, timeout time.Duration) {
	h.t.Helper()
	if !h.Collector.WaitFor(n, timeout) {
		h.t.Fatalf("Timeout waiting for events: expected %d, got %d", n, h.Collector.Count())
	}
}

// AssertEventCount verifies the exact number of flushed events.
func (h *Harness) AssertEventCount(expected int) {
	h.t.Helper()
	if got := len(h.Flush()); got != expected {
		h.t.Errorf("Expected %d events, got %d", expected, got)
	}
}

// EventLabeled returns the first flushed event with label.
func (h *Harness) EventLabeled(label string) *causez.Event {
	h.t.Helper()
	events := h.Flush()
	for i := range events {
		if events[i].Label == label {
			return &events[i]
		}
	}
	h.t.Fatalf("Event labeled %q not found", label)
	return nil
}

// AssertDescends verifies that child lists parent among its causal parents.
func (h *Harness) AssertDescends(parentLabel, childLabel string) {
	h.t.Helper()
	parent := h.EventLabeled(parentLabel)
	child := h.EventLabeled(childLabel)
	for _, id := range child.ParentEventIDs {
		if id == parent.EventID {
			return
		}
	}
	h.t.Errorf("Expected %q to descend from %q, parents %v, parent id %d",
		childLabel, parentLabel, child.ParentEventIDs, parent.EventID)
}

// AssertSingleTask verifies every flushed event belongs to one task.
func (h *Harness) AssertSingleTask() {
	h.t.Helper()
	events := h.Flush()
	if len(events) == 0 {
		return
	}
	task := events[0].TaskID
	for _, e := range events {
		if e.TaskID != task {
			h.t.Errorf("Expected task %016x, event %q has %s", uint64(task), e.Label, e.TaskIDString())
		}
	}
}

// AssertAcyclic verifies every parent id refers to an earlier event or to the
// root, so the reported events form a DAG.
func (h *Harness) AssertAcyclic() {
	h.t.Helper()
	seen := map[int64]bool{0: true}
	for _, e := range h.Flush() {
		for _, p := range e.ParentEventIDs {
			if !seen[p] {
				h.t.Errorf("Event %q references unknown or later parent %d", e.Label, p)
			}
		}
		if e.HasEventID() {
			seen[e.EventID] = true
		}
	}
}
