// Package causez provides causal-metadata propagation and asynchronous event
// reporting for distributed tracing.
//
// causez carries a small causal context between units of work: a task id, an
// optional tenant class, the ids of the events that causally precede the next
// event, and a handful of option fields. Events built from that context are
// queued and shipped to a collector by a background worker, so instrumented
// code never waits on the network.
//
// Core Components:
//   - Metadata: immutable causal context value with a protobuf byte form.
//   - Cell: per-goroutine holder of Metadata with copy-on-write semantics.
//   - EventBuilder: turns the current Metadata into an Event and advances the causal chain.
//   - Reporter: unbounded queue plus one worker forwarding Events to a Transport.
//   - SpanTracker: nested start/stop scopes stored in Metadata option fields.
//   - Tracer: front door that hands out per-agent Loggers.
//
// Basic Usage:
//
//	collector := causez.NewCollector("local")
//	tracer := causez.New(collector)
//	defer tracer.Close()
//
//	ctx, cell := causez.NewContext(context.Background(), "main")
//	cell.Set(tracer.NewTask())
//
//	log := tracer.Logger("billing")
//	log.Log(ctx, "charge started", customerID)
//
//	spans := tracer.Spans()
//	root, _ := spans.StartTrace(ctx, "billing", "charge")
//	defer spans.Stop(ctx, root)
//
// Thread Safety:
//
// Tracer, Reporter, Collector and Loggers are safe for concurrent use.
// A Cell belongs to exactly one goroutine. To move causal context to another
// goroutine use SpanTracker.Wrap, Tracked, or pass Metadata bytes and Join them
// on the other side.
//
// Resource Cleanup:
//
// Call tracer.Close() to stop accepting events, flush everything already
// queued, and release the Transport.
package causez

// Agent names the component an event is reported on behalf of.
type Agent = string

// OptionType identifies an option field carried in Metadata.
type OptionType = uint8
