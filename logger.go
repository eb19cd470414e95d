package causez

import (
	"context"
)

// DefaultAgent is the agent name used by Tracer.DefaultLogger.
const DefaultAgent = "default"

// Logger reports events on behalf of one agent.
type Logger interface {
	// Valid reports whether ctx carries a task id events can be attached to.
	Valid(ctx context.Context) bool
	// Log builds an event from the causal context in ctx and queues it.
	// Does nothing when Valid is false.
	Log(ctx context.Context, label string, fields ...any)
}

type nopLogger struct{}

func (nopLogger) Valid(context.Context) bool          { return false }
func (nopLogger) Log(context.Context, string, ...any) {}

// NopLogger is handed out for agents whose reporting is disabled.
var NopLogger Logger = nopLogger{}

type agentLogger struct {
	tracer *Tracer
	agent  Agent
}

func (l *agentLogger) Valid(ctx context.Context) bool {
	return CanBuild(CellFrom(ctx))
}

func (l *agentLogger) Log(ctx context.Context, label string, fields ...any) {
	cell := CellFrom(ctx)
	if !CanBuild(cell) {
		return
	}
	l.tracer.report(cell, l.agent, label, nil, fields)
}

// Policy decides which agents get a real Logger. The binding is made when
// the Logger is requested and never changes afterwards.
type Policy struct {
	// EnabledByDefault enables every agent not listed in Disabled.
	EnabledByDefault bool
	// Enabled lists agents that are enabled regardless of the default.
	Enabled []string
	// Disabled lists agents excluded when EnabledByDefault is set.
	Disabled []string
}

// DefaultPolicy enables every agent.
func DefaultPolicy() Policy {
	return Policy{EnabledByDefault: true}
}

type policySet struct {
	enabled        map[string]struct{}
	disabled       map[string]struct{}
	enabledDefault bool
}

func compilePolicy(p Policy) policySet {
	ps := policySet{
		enabledDefault: p.EnabledByDefault,
		enabled:        make(map[string]struct{}, len(p.Enabled)),
		disabled:       make(map[string]struct{}, len(p.Disabled)),
	}
	for _, a := range p.Enabled {
		ps.enabled[a] = struct{}{}
	}
	for _, a := range p.Disabled {
		ps.disabled[a] = struct{}{}
	}
	return ps
}

// allows reports whether agent gets a real Logger.
func (ps policySet) allows(agent Agent) bool {
	if agent == "" {
		return false
	}
	if _, off := ps.disabled[agent]; ps.enabledDefault && !off {
		return true
	}
	_, on := ps.enabled[agent]
	return on
}
