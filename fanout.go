package causez

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Fanout forwards every event to all of its transports concurrently.
// Forward returns the first error; every transport is still attempted.
//
// When the Reporter retries an event, members that already accepted it are
// skipped, so no member receives the same event twice.
type Fanout struct {
	transports []Transport
}

// NewFanout creates a Fanout over transports. Nil entries are ignored.
func NewFanout(transports ...Transport) *Fanout {
	f := &Fanout{transports: make([]Transport, 0, len(transports))}
	for _, t := range transports {
		if t != nil {
			f.transports = append(f.transports, t)
		}
	}
	return f
}

// Forward sends e to every transport that has not yet accepted it.
// A panicking transport fails with an error instead of crashing the caller.
func (f *Fanout) Forward(ctx context.Context, agent Agent, e *Event) error {
	if len(f.transports) == 1 {
		return f.transports[0].Forward(ctx, agent, e)
	}
	d := deliveryFrom(ctx)
	var g errgroup.Group
	for i, t := range f.transports {
		member := fanoutMember{fanout: f, index: i}
		if d.delivered(member) {
			continue
		}
		g.Go(func() error {
			if err := forwardRecovered(ctx, t, agent, e); err != nil {
				return err
			}
			d.mark(member)
			return nil
		})
	}
	return g.Wait()
}

// Close closes every transport and joins their errors.
func (f *Fanout) Close() error {
	var errs []error
	for _, t := range f.transports {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func forwardRecovered(ctx context.Context, t Transport, agent Agent, e *Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("transport panic: %v", p)
		}
	}()
	return t.Forward(ctx, agent, e)
}

type fanoutMember struct {
	fanout *Fanout
	index  int
}

type deliveryKey struct{}

// delivery records which fanout members accepted one event across the
// attempts the Reporter makes for it. A nil delivery records nothing.
type delivery struct {
	mu   sync.Mutex
	done map[fanoutMember]struct{}
}

func withDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, deliveryKey{}, &delivery{})
}

func deliveryFrom(ctx context.Context) *delivery {
	d, _ := ctx.Value(deliveryKey{}).(*delivery)
	return d
}

func (d *delivery) delivered(m fanoutMember) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.done[m]
	return ok
}

func (d *delivery) mark(m fanoutMember) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done == nil {
		d.done = make(map[fanoutMember]struct{})
	}
	d.done[m] = struct{}{}
}
