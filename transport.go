package causez

import (
	"context"
	"errors"
)

// ErrTransportClosed is returned by transports used after Close.
var ErrTransportClosed = errors.New("transport closed")

// Transport moves built events off-process.
//
// Forward is called from the Reporter worker goroutine only, one event at a
// time. Close is called once, after the final Forward.
type Transport interface {
	Forward(ctx context.Context, agent Agent, e *Event) error
	Close() error
}

// TransportFunc adapts a function to a Transport with a no-op Close.
type TransportFunc func(ctx context.Context, agent Agent, e *Event) error

// Forward calls f.
func (f TransportFunc) Forward(ctx context.Context, agent Agent, e *Event) error {
	return f(ctx, agent, e)
}

// Close does nothing.
func (TransportFunc) Close() error {
	return nil
}

type discardTransport struct{}

func (discardTransport) Forward(context.Context, Agent, *Event) error { return nil }
func (discardTransport) Close() error                                  { return nil }

// Discard is a Transport that drops every event.
var Discard Transport = discardTransport{}
