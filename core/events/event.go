package events

import "hyperdrive/core/types"

// Event is the minimal behaviour shared by module events.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter receives events produced by native modules.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}
