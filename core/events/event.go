package events

import "homeescrow/core/types"

// Event represents a structured state change emitted by the escrow engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a types.Event body.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, audit log).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Multi fans an event out to every configured emitter in order.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter == nil {
			continue
		}
		emitter.Emit(evt)
	}
}

// Body extracts the types.Event carried by evt, if any.
func Body(evt Event) (*types.Event, bool) {
	payload, ok := evt.(Payload)
	if !ok {
		return nil, false
	}
	body := payload.Event()
	if body == nil {
		return nil, false
	}
	return body, true
}
