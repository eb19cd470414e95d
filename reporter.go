package causez

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// RetryPolicy bounds how the worker repeats a failed forward.
// The zero value makes a single attempt.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) next(delay time.Duration) time.Duration {
	m := p.Multiplier
	if m <= 0 {
		m = 2
	}
	delay = time.Duration(float64(delay) * m)
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// Reporter queues built events and forwards them to a Transport from a
// single background goroutine. Submit never waits on the transport.
//
// The queue is unbounded unless a limit is configured: the worker only falls
// behind when it is starved of CPU, not under sustained overload.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field order optimized for functionality over memory
type Reporter struct {
	queue     []*Event
	transport Transport
	notify    chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	metrics   *Metrics
	logger    *zap.Logger
	clock     clockz.Clock
	panicHook func(r interface{})
	retry     RetryPolicy
	limit     int
	mu        sync.Mutex
	stopOnce  sync.Once
	closed    bool
	forwarded atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithQueueLimit bounds the queue. Events submitted while the queue holds
// limit events are dropped. Zero, the default, means unbounded.
func WithQueueLimit(limit int) ReporterOption {
	return func(r *Reporter) {
		r.limit = limit
	}
}

// WithRetry sets the retry policy used by the worker.
func WithRetry(p RetryPolicy) ReporterOption {
	return func(r *Reporter) {
		r.retry = p
	}
}

// WithMetrics sets the Prometheus collectors the reporter updates.
func WithMetrics(m *Metrics) ReporterOption {
	return func(r *Reporter) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithReporterLogger sets the logger for transport failures and drops.
func WithReporterLogger(l *zap.Logger) ReporterOption {
	return func(r *Reporter) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReporterClock sets the clock used for retry backoff.
func WithReporterClock(clock clockz.Clock) ReporterOption {
	return func(r *Reporter) {
		r.clock = clock
	}
}

// WithPanicHook sets a function called when the transport panics.
func WithPanicHook(hook func(r interface{})) ReporterOption {
	return func(r *Reporter) {
		r.panicHook = hook
	}
}

// NewReporter creates a Reporter and starts its worker.
func NewReporter(transport Transport, opts ...ReporterOption) *Reporter {
	if transport == nil {
		transport = Discard
	}
	r := &Reporter{
		transport: transport,
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
		metrics:   NewMetrics("causez"),
		logger:    zap.NewNop(),
		clock:     clockz.RealClock,
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.run()
	return r
}

// Submit queues e for forwarding and reports whether it was accepted.
// Events submitted after Close are dropped.
func (r *Reporter) Submit(e *Event) bool {
	if e == nil {
		return false
	}

	r.mu.Lock()
	if r.closed || (r.limit > 0 && len(r.queue) >= r.limit) {
		r.mu.Unlock()
		r.dropped.Add(1)
		r.metrics.Dropped.Inc()
		return false
	}
	r.queue = append(r.queue, e)
	r.metrics.QueueDepth.Set(float64(len(r.queue)))
	r.mu.Unlock()

	r.metrics.Submitted.Inc()
	select {
	case r.notify <- struct{}{}:
	default:
	}
	return true
}

// Alive reports whether the reporter still accepts events.
func (r *Reporter) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// QueueDepth returns the number of events waiting to be forwarded.
func (r *Reporter) QueueDepth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Forwarded returns the number of events forwarded successfully.
func (r *Reporter) Forwarded() uint64 {
	return r.forwarded.Load()
}

// Failed returns the number of events the transport failed to forward.
func (r *Reporter) Failed() uint64 {
	return r.failed.Load()
}

// Dropped returns the number of events rejected by Submit.
func (r *Reporter) Dropped() uint64 {
	return r.dropped.Load()
}

// Done is closed once the worker has flushed the queue and released the transport.
func (r *Reporter) Done() <-chan struct{} {
	return r.done
}

// Close stops accepting events and waits until every queued event has been
// forwarded and the transport released.
func (r *Reporter) Close() error {
	return r.Shutdown(context.Background())
}

// Shutdown stops accepting events and waits for the flush to finish or ctx
// to end. The flush continues in the background if ctx ends first.
func (r *Reporter) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for reporter flush: %w", ctx.Err())
	}
}

// run is the worker loop.
func (r *Reporter) run() {
	defer close(r.done)

	for {
		select {
		case <-r.stopCh:
			// Flush what is already queued before releasing the transport.
			r.drain()
			if err := r.transport.Close(); err != nil {
				r.logger.Warn("closing transport", zap.Error(err))
			}
			return
		case <-r.notify:
			r.drain()
		}
	}
}

func (r *Reporter) drain() {
	for {
		e, ok := r.pop()
		if !ok {
			return
		}
		r.forward(e)
	}
}

func (r *Reporter) pop() (*Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) == 0 {
		return nil, false
	}
	e := r.queue[0]
	r.queue[0] = nil
	r.queue = r.queue[1:]
	if len(r.queue) == 0 {
		r.queue = nil
	}
	r.metrics.QueueDepth.Set(float64(len(r.queue)))
	return e, true
}

// forward hands e to the transport, retrying per policy. Errors never leave
// the worker.
func (r *Reporter) forward(e *Event) {
	attempts := r.retry.attempts()
	delay := r.retry.InitialDelay
	ctx := withDelivery(context.Background())

	for attempt := 1; ; attempt++ {
		err := r.safeForward(ctx, e)
		if err == nil {
			r.forwarded.Add(1)
			r.metrics.Forwarded.Inc()
			return
		}
		if attempt >= attempts {
			r.failed.Add(1)
			r.metrics.Failed.Inc()
			r.logger.Debug("forwarding event failed",
				zap.String("agent", e.Agent),
				zap.String("task_id", e.TaskIDString()),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return
		}
		r.metrics.Retried.Inc()
		if delay > 0 {
			<-r.clock.After(delay)
			delay = r.retry.next(delay)
		}
	}
}

func (r *Reporter) safeForward(ctx context.Context, e *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			if r.panicHook != nil {
				r.panicHook(p)
			}
			err = fmt.Errorf("transport panic: %v", p)
		}
	}()
	return r.transport.Forward(ctx, e.Agent, e)
}
