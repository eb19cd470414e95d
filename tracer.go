package causez

import (
	"context"
	"runtime"
	"sync"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Tracer ties an EventBuilder to a Reporter and hands out per-agent Loggers.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Tracer struct {
	builder      *EventBuilder
	reporter     *Reporter
	spans        *SpanTracker
	logger       *zap.Logger
	clock        clockz.Clock
	taskIDPool   *IDPool
	eventIDPool  *IDPool
	policy       policySet
	builderOpts  []BuilderOption
	reporterOpts []ReporterOption
	idPoolOnce   sync.Once
	closeOnce    sync.Once
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithClock sets the clock used for event timestamps and retry backoff.
// Enables clock injection for deterministic testing.
func WithClock(clock clockz.Clock) Option {
	return func(t *Tracer) {
		t.clock = clock
	}
}

// WithDecorator sets the single event decorator. A later WithDecorator
// replaces an earlier one.
func WithDecorator(d Decorator) Option {
	return func(t *Tracer) {
		t.builderOpts = append(t.builderOpts, WithEventDecorator(d))
	}
}

// WithPolicy sets the per-agent reporting policy.
func WithPolicy(p Policy) Option {
	return func(t *Tracer) {
		t.policy = compilePolicy(p)
	}
}

// WithLogger sets the logger for warnings and transport failures.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracer) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithBuilderOptions passes options through to the EventBuilder.
func WithBuilderOptions(opts ...BuilderOption) Option {
	return func(t *Tracer) {
		t.builderOpts = append(t.builderOpts, opts...)
	}
}

// WithReporterOptions passes options through to the Reporter.
func WithReporterOptions(opts ...ReporterOption) Option {
	return func(t *Tracer) {
		t.reporterOpts = append(t.reporterOpts, opts...)
	}
}

// New creates a tracer forwarding events to transport.
// Every agent is enabled unless WithPolicy says otherwise.
func New(transport Transport, opts ...Option) *Tracer {
	t := &Tracer{
		clock:  clockz.RealClock,
		logger: zap.NewNop(),
		policy: compilePolicy(DefaultPolicy()),
	}
	for _, opt := range opts {
		opt(t)
	}

	builderOpts := append([]BuilderOption{
		WithBuilderClock(t.clock),
		WithIDSource(t.nextEventID),
	}, t.builderOpts...)
	t.builder = NewEventBuilder(builderOpts...)

	reporterOpts := append([]ReporterOption{
		WithReporterClock(t.clock),
		WithReporterLogger(t.logger.Named("reporter")),
	}, t.reporterOpts...)
	t.reporter = NewReporter(transport, reporterOpts...)

	t.spans = &SpanTracker{tracer: t, logger: t.logger.Named("spans")}
	return t
}

// ensureIDPools initializes ID pools if not already created.
func (t *Tracer) ensureIDPools() {
	t.idPoolOnce.Do(func() {
		// Pool size based on number of CPUs for optimal contention balance.
		poolSize := runtime.NumCPU() * 100
		t.taskIDPool = NewIDPool(poolSize, nil)
		t.eventIDPool = NewIDPool(poolSize, nil)
	})
}

func (t *Tracer) nextTaskID() int64 {
	t.ensureIDPools()
	return t.taskIDPool.Get()
}

func (t *Tracer) nextEventID() int64 {
	t.ensureIDPools()
	return t.eventIDPool.Get()
}

// NewTask returns causal metadata for a fresh task.
func (t *Tracer) NewTask() Metadata {
	return NewTaskMetadata(t.nextTaskID(), true)
}

// NewTenantTask returns causal metadata for a fresh task owned by tenantClass.
func (t *Tracer) NewTenantTask(tenantClass int32) Metadata {
	return NewBuilder().TaskID(t.nextTaskID()).TenantClass(tenantClass).AddParent(0).Build()
}

// NewPropagationTask returns metadata for a fresh task without causal
// parents: events carry the task id but no event ids.
func (t *Tracer) NewPropagationTask() Metadata {
	return NewTaskMetadata(t.nextTaskID(), false)
}

// StartTask installs a fresh task id on the cell in ctx unless it already
// carries one. See Cell.StartTask.
func (t *Tracer) StartTask(ctx context.Context, causal bool) {
	cell := CellFrom(ctx)
	if cell == nil || cell.HasTaskID() {
		return
	}
	cell.StartTask(t.nextTaskID(), causal)
}

// Logger returns the Logger for agent. Agents disabled by the policy, and
// the empty agent, get NopLogger.
func (t *Tracer) Logger(agent Agent) Logger {
	if !t.policy.allows(agent) {
		return NopLogger
	}
	return &agentLogger{tracer: t, agent: agent}
}

// DefaultLogger returns the Logger for DefaultAgent. It follows only
// Policy.EnabledByDefault; the Enabled and Disabled lists do not apply.
func (t *Tracer) DefaultLogger() Logger {
	if !t.policy.enabledDefault {
		return NopLogger
	}
	return &agentLogger{tracer: t, agent: DefaultAgent}
}

// Spans returns the span tracker reporting through t.
func (t *Tracer) Spans() *SpanTracker {
	return t.spans
}

// Builder returns the event builder.
func (t *Tracer) Builder() *EventBuilder {
	return t.builder
}

// Reporter returns the reporter.
func (t *Tracer) Reporter() *Reporter {
	return t.reporter
}

// report builds an event from cell and queues it.
func (t *Tracer) report(cell *Cell, agent Agent, label string, tags map[string]string, fields []any) (*Event, bool) {
	e, ok := t.builder.build(cell, agent, label, tags, fields)
	if !ok {
		return nil, false
	}
	t.reporter.Submit(e)
	return e, true
}

// Close stops the reporter, flushing queued events, and releases ID pools.
// This should be called when the tracer is no longer needed.
func (t *Tracer) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.reporter.Close()
		if t.taskIDPool != nil {
			t.taskIDPool.Close()
		}
		if t.eventIDPool != nil {
			t.eventIDPool.Close()
		}
	})
	return err
}
