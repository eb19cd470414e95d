package causez

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zoobzio/clockz"
)

// nullValue renders nil field values.
const nullValue = "null"

// Event is a report built from causal metadata.
//
//nolint:govet // Field order follows the report layout
type Event struct {
	Tags           map[string]string `json:"tags,omitempty"`
	Agent          string            `json:"agent"`
	Label          string            `json:"label"`
	Values         []string          `json:"values,omitempty"`
	TaskID         int64             `json:"task_id"`
	TenantClass    int32             `json:"tenant_class,omitempty"`
	HasTenantClass bool              `json:"has_tenant_class,omitempty"`
	ParentEventIDs []int64           `json:"parent_event_ids,omitempty"`
	// EventID is zero when the event was built without causal parents.
	EventID     int64  `json:"event_id,omitempty"`
	Host        string `json:"host"`
	ProcessID   int    `json:"process_id"`
	ProcessName string `json:"process_name"`
	ThreadID    uint64 `json:"thread_id"`
	ThreadName  string `json:"thread_name"`
	Timestamp   int64  `json:"timestamp"`
	HRT         int64  `json:"hrt"`
}

// HasEventID reports whether an event id was assigned.
func (e *Event) HasEventID() bool {
	return e.EventID != 0
}

// TaskIDString renders the task id as 16 hex digits.
func (e *Event) TaskIDString() string {
	return fmt.Sprintf("%016x", uint64(e.TaskID))
}

// SetTag adds a key-value pair to the event.
func (e *Event) SetTag(key, value string) {
	if e.Tags == nil {
		e.Tags = make(map[string]string)
	}
	e.Tags[key] = value
}

// Tag retrieves a tag value by key.
func (e *Event) Tag(key string) (string, bool) {
	v, ok := e.Tags[key]
	return v, ok
}

// Marshal encodes the event as JSON.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeEvent decodes an event produced by Marshal.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decoding event: %w", err)
	}
	return &e, nil
}

// Decorator may add or override fields of an event before it is queued.
// Returning nil keeps the event passed in.
type Decorator func(e *Event) *Event

// EventBuilder builds events from the metadata in a Cell.
// Safe for concurrent use; each Cell must still only be used by its owner.
type EventBuilder struct {
	clock       clockz.Clock
	start       time.Time
	nextID      func() int64
	decorator   Decorator
	host        string
	processName string
	processID   int
}

// BuilderOption configures an EventBuilder.
type BuilderOption func(*EventBuilder)

// WithBuilderClock sets the clock used for timestamps.
func WithBuilderClock(clock clockz.Clock) BuilderOption {
	return func(b *EventBuilder) {
		b.clock = clock
	}
}

// WithEventDecorator sets the decorator. Only one decorator is active;
// a later option replaces an earlier one.
func WithEventDecorator(d Decorator) BuilderOption {
	return func(b *EventBuilder) {
		b.decorator = d
	}
}

// WithIDSource sets the generator for event ids. Generated ids must be non-zero.
func WithIDSource(next func() int64) BuilderOption {
	return func(b *EventBuilder) {
		b.nextID = next
	}
}

// WithProcessName overrides the process name stamped on events.
func WithProcessName(name string) BuilderOption {
	return func(b *EventBuilder) {
		b.processName = name
	}
}

// NewEventBuilder creates an EventBuilder stamping the local host and process.
func NewEventBuilder(opts ...BuilderOption) *EventBuilder {
	b := &EventBuilder{
		clock:       clockz.RealClock,
		nextID:      RandomID,
		host:        hostname(),
		processID:   os.Getpid(),
		processName: processName(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.start = b.clock.Now()
	return b
}

// CanBuild reports whether cell carries a task id events can be attached to.
func CanBuild(cell *Cell) bool {
	return cell != nil && cell.HasTaskID()
}

// Build creates an event from the metadata in cell. It returns false, and
// leaves cell untouched, when cell is nil or carries no task id.
//
// When the metadata has parents, the event receives a fresh event id, records
// the parents, and the cell's parents are collapsed to that id so the next
// event descends from this one.
func (b *EventBuilder) Build(cell *Cell, agent Agent, label string, fields ...any) (*Event, bool) {
	return b.build(cell, agent, label, nil, fields)
}

// build is Build with tags set before the decorator runs.
func (b *EventBuilder) build(cell *Cell, agent Agent, label string, tags map[string]string, fields []any) (*Event, bool) {
	if !CanBuild(cell) {
		return nil, false
	}
	md, _ := cell.peek()

	e := &Event{
		Agent:       agent,
		Label:       label,
		TaskID:      md.taskID,
		Host:        b.host,
		ProcessID:   b.processID,
		ProcessName: b.processName,
		ThreadID:    cell.ID(),
		ThreadName:  cell.Name(),
	}
	if md.hasTenant {
		e.TenantClass = md.tenantClass
		e.HasTenantClass = true
	}

	if len(md.parents) != 0 {
		e.ParentEventIDs = md.ParentEventIDs()
		e.EventID = b.nextID()
		cell.advance(e.EventID)
	}

	now := b.clock.Now()
	e.Timestamp = now.UnixMilli()
	e.HRT = now.Sub(b.start).Nanoseconds()

	if len(fields) > 0 {
		e.Values = make([]string, len(fields))
		for i, f := range fields {
			e.Values[i] = stringify(f)
		}
	}

	for k, v := range tags {
		e.SetTag(k, v)
	}

	if b.decorator != nil {
		if decorated := b.decorator(e); decorated != nil {
			return decorated, true
		}
	}
	return e, true
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return nullValue
	case string:
		return x
	default:
		return fmt.Sprint(v)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func processName() string {
	if len(os.Args) == 0 {
		return ""
	}
	return filepath.Base(os.Args[0])
}
