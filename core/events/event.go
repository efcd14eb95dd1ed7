package events

import "tokensale/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render a flat attribute map for
// indexers and logs.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
// Emit must not block the caller.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout delivers every event to each wrapped emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		SafeEmit(emitter, evt)
	}
}

// SafeEmit hands evt to emitter and swallows any panic raised by the
// subscriber. Notifications are advisory; the emitting operation has
// already committed.
func SafeEmit(emitter Emitter, evt Event) {
	if emitter == nil || evt == nil {
		return
	}
	defer func() { _ = recover() }()
	emitter.Emit(evt)
}
