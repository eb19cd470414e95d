package causez

import (
	"context"
	"encoding/binary"
	"strconv"

	"go.uber.org/zap"
)

// SpanOptionType is the option field holding the current span id.
const SpanOptionType OptionType = 0x74

// RootSpanID is the saved span id of a trace root.
const RootSpanID int64 = 0

// SpanAgent is the agent of span start and stop events.
const SpanAgent = "span"

// Tag keys and markers carried by span events.
const (
	SpanStartKey     = "start"
	SpanEndKey       = "end"
	SpanParentKey    = "parent"
	SpanOperationKey = "operation"

	spanStartValue = "S"
	rootSpanValue  = "ROOT"
	startTraceOp   = "starttrace"
	stopLabel      = "stop"
)

// SpanHandle identifies an open span and the span that was current before it.
// It lives on the stack of the code that opened the span and is not propagated.
type SpanHandle struct {
	SpanID      int64
	SavedSpanID int64
}

// Valid reports whether the handle refers to an opened span.
func (h SpanHandle) Valid() bool {
	return h.SpanID != 0
}

// SpanTracker layers nested start/stop scopes on the flat causal metadata.
// The current span id lives in option field SpanOptionType; spans must be
// stopped in reverse order of starting.
type SpanTracker struct {
	tracer *Tracer
	logger *zap.Logger
}

// StartTrace opens the root span of a trace. When ctx carries no task id a
// new task is installed first. A task carried without causal parents gets
// parent 0 so the start event receives an id. Returns false if ctx has no
// Cell.
func (s *SpanTracker) StartTrace(ctx context.Context, agent Agent, description string) (SpanHandle, bool) {
	cell := CellFrom(ctx)
	if cell == nil {
		s.logger.Warn("starting trace without a cell in context", zap.String("description", description))
		return SpanHandle{}, false
	}

	tags := map[string]string{
		SpanStartKey:  spanStartValue,
		SpanParentKey: rootSpanValue,
	}
	if !cell.HasTaskID() {
		b := NewBuilder()
		if tenant, ok := cell.TenantClass(); ok {
			b.TenantClass(tenant)
		}
		cell.Set(b.TaskID(s.tracer.nextTaskID()).AddParent(0).Build())
		tags[SpanOperationKey] = startTraceOp
	} else if md, _ := cell.peek(); md.ParentCount() == 0 {
		cell.advance(0)
	}

	e, ok := s.tracer.report(cell, agent, description, tags, nil)
	if !ok {
		return SpanHandle{}, false
	}
	if !e.HasEventID() {
		s.logger.Warn("starting trace on metadata without causal parents",
			zap.String("task_id", e.TaskIDString()),
			zap.String("description", description),
		)
		return SpanHandle{}, false
	}

	cell.setOption(SpanOptionType, encodeSpanID(e.EventID))
	return SpanHandle{SpanID: e.EventID, SavedSpanID: RootSpanID}, true
}

// StartSpan opens a span nested in the current one. Does nothing when ctx
// carries no task id; logs a warning and fails when no span is current.
func (s *SpanTracker) StartSpan(ctx context.Context, description string) (SpanHandle, bool) {
	cell := CellFrom(ctx)
	if !CanBuild(cell) {
		return SpanHandle{}, false
	}

	current, ok := currentSpan(cell)
	if !ok {
		s.logger.Warn("starting span without an enclosing trace", zap.String("description", description))
		return SpanHandle{}, false
	}

	tags := map[string]string{
		SpanStartKey:  spanStartValue,
		SpanParentKey: formatSpanID(current),
	}
	e, ok := s.tracer.report(cell, SpanAgent, description, tags, nil)
	if !ok {
		return SpanHandle{}, false
	}
	if !e.HasEventID() {
		s.logger.Warn("starting span on metadata without causal parents", zap.String("description", description))
		return SpanHandle{}, false
	}

	cell.setOption(SpanOptionType, encodeSpanID(e.EventID))
	return SpanHandle{SpanID: e.EventID, SavedSpanID: current}, true
}

// Stop closes the span of h and makes its saved span current again.
func (s *SpanTracker) Stop(ctx context.Context, h SpanHandle) {
	if !h.Valid() {
		return
	}
	cell := CellFrom(ctx)
	if !CanBuild(cell) {
		return
	}

	tags := map[string]string{
		SpanEndKey: formatSpanID(h.SpanID),
	}
	s.tracer.report(cell, SpanAgent, stopLabel, tags, nil)
	cell.setOption(SpanOptionType, encodeSpanID(h.SavedSpanID))
}

// CurrentSpan returns the span id current in ctx.
func (s *SpanTracker) CurrentSpan(ctx context.Context) (int64, bool) {
	cell := CellFrom(ctx)
	if cell == nil {
		return 0, false
	}
	return currentSpan(cell)
}

// Wrap captures the causal context of ctx and returns a function that runs
// fn under it, typically on another goroutine. The captured metadata is
// joined into the cell of the context passed to the returned function (a
// cell is created when there is none), a span named description is opened
// around fn, and the span is stopped however fn exits. An empty description
// uses the cell name.
func (s *SpanTracker) Wrap(ctx context.Context, description string, fn func(context.Context)) func(context.Context) {
	var captured []byte
	if cell := CellFrom(ctx); cell != nil {
		captured = cell.Bytes()
	}

	return func(runCtx context.Context) {
		if captured == nil {
			fn(runCtx)
			return
		}

		cell := CellFrom(runCtx)
		if cell == nil {
			runCtx, cell = NewContext(runCtx, description)
		}
		cell.JoinBytes(captured)

		name := description
		if name == "" {
			name = cell.Name()
		}
		if h, ok := s.StartSpan(runCtx, name); ok {
			defer s.Stop(runCtx, h)
		}
		fn(runCtx)
	}
}

// Go runs fn on a new goroutine under the causal context of ctx.
func (s *SpanTracker) Go(ctx context.Context, description string, fn func(context.Context)) {
	wrapped := s.Wrap(ctx, description, fn)
	go wrapped(context.Background())
}

func currentSpan(cell *Cell) (int64, bool) {
	md, ok := cell.peek()
	if !ok {
		return 0, false
	}
	for _, o := range md.options {
		if o.typ == SpanOptionType {
			return decodeSpanID(o.payload)
		}
	}
	return 0, false
}

func encodeSpanID(id int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(id))
	return buf[:]
}

func decodeSpanID(payload []byte) (int64, bool) {
	if len(payload) != 8 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint64(payload)), true
}

// formatSpanID renders a span id the way span events carry it.
func formatSpanID(id int64) string {
	if id == RootSpanID {
		return rootSpanValue
	}
	return strconv.FormatUint(uint64(id), 16)
}
