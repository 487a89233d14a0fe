package events

import "ledgerkernel/core/types"

// Event represents a structured state change emitted during execution.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record wraps a committed ledger event so it can be re-broadcast.
type Record struct {
	*types.Event
}

func (r Record) EventType() string { return r.Type }

// Collector keeps every emitted event in order.
type Collector struct {
	events []Event
}

func (c *Collector) Emit(e Event) { c.events = append(c.events, e) }

// Events returns the collected events.
func (c *Collector) Events() []Event { return c.events }
