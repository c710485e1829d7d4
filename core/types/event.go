package types

// Event represents a typed event emitted after a committed state transition.
// Sequence and Timestamp are stamped by the engine at commit time.
type Event struct {
	Type       string            `json:"type"`
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Attributes = make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		clone.Attributes[k] = v
	}
	return &clone
}
