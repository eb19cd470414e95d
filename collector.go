package causez

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
)

// Collector is an in-memory Transport that buffers forwarded events for
// export. Useful for tests and for capturing events locally.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Collector struct {
	events       []Event
	notify       chan struct{}
	clock        clockz.Clock
	droppedCount atomic.Int64
	name         string
	mu           sync.Mutex
	closed       atomic.Bool
}

// NewCollector creates a new collector with the specified name.
func NewCollector(name string) *Collector {
	return &Collector{
		name:   name,
		events: make([]Event, 0, 8),
		notify: make(chan struct{}, 1),
		clock:  clockz.RealClock,
	}
}

// WithClock sets the clock WaitFor measures its timeout on and returns c.
// Call it before the collector is shared.
func (c *Collector) WithClock(clock clockz.Clock) *Collector {
	if clock != nil {
		c.clock = clock
	}
	return c
}

// Name returns the collector name.
func (c *Collector) Name() string {
	return c.name
}

// Forward buffers a deep copy of the event.
// Events forwarded after Close are dropped and counted.
func (c *Collector) Forward(_ context.Context, _ Agent, e *Event) error {
	if e == nil {
		c.droppedCount.Add(1)
		return nil
	}
	if c.closed.Load() {
		c.droppedCount.Add(1)
		return ErrTransportClosed
	}

	eventCopy := copyEvent(e)

	c.mu.Lock()
	c.events = append(c.events, eventCopy)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Close marks the collector closed. Buffered events remain exportable.
func (c *Collector) Close() error {
	c.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (c *Collector) Closed() bool {
	return c.closed.Load()
}

// Export returns a copy of all buffered events and clears the internal buffer.
// The returned slice is safe to modify without affecting the collector.
func (c *Collector) Export() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.events) == 0 {
		return nil
	}

	result := make([]Event, len(c.events))
	for i := range c.events {
		result[i] = copyEvent(&c.events[i])
	}

	// Only shrink if buffer is very oversized to avoid allocation churn.
	if cap(c.events) > 256 && len(c.events) < cap(c.events)/8 {
		newCap := cap(c.events) / 4
		if newCap < 32 {
			newCap = 32
		}
		c.events = make([]Event, 0, newCap)
	} else {
		c.events = c.events[:0]
	}

	return result
}

// Count returns the current number of buffered events.
func (c *Collector) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// DroppedCount returns the number of events rejected after Close or as nil.
func (c *Collector) DroppedCount() int64 {
	return c.droppedCount.Load()
}

// WaitFor blocks until at least n events are buffered or timeout elapses,
// and reports whether the count was reached.
func (c *Collector) WaitFor(n int, timeout time.Duration) bool {
	deadline := c.clock.After(timeout)
	for {
		if c.Count() >= n {
			return true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return c.Count() >= n
		}
	}
}

// Reset clears all buffered events and resets the drop counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = c.events[:0]
	c.droppedCount.Store(0)
}

func copyEvent(e *Event) Event {
	out := *e
	if e.Tags != nil {
		out.Tags = make(map[string]string, len(e.Tags))
		for k, v := range e.Tags {
			out.Tags[k] = v
		}
	}
	if e.Values != nil {
		out.Values = append([]string(nil), e.Values...)
	}
	if e.ParentEventIDs != nil {
		out.ParentEventIDs = append([]int64(nil), e.ParentEventIDs...)
	}
	return out
}
