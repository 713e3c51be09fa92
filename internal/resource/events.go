package resource

// Event represents a resource lifecycle event.
// Minimal and stable: name + slot name and optional fields via key/values.
type Event struct {
	Name   string
	Slot   string
	Fields map[string]any
}

// EventPublisher receives events from slots and gates. Implementations
// should be lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
