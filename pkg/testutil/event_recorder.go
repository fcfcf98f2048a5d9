package testutil

import (
	"sync"

	"homebridge/internal/ipc"
)

// EventRecorder is an ipc.Sink that keeps every event.
type EventRecorder struct {
	mu     sync.Mutex
	events []ipc.Event
	closed bool
}

// NewEventRecorder creates an empty recorder.
func NewEventRecorder() *EventRecorder {
	return &EventRecorder{}
}

// Send implements ipc.Sink.
func (r *EventRecorder) Send(ev ipc.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

// Close implements ipc.Sink.
func (r *EventRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// Events returns all recorded events in order.
func (r *EventRecorder) Events() []ipc.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ipc.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Filter returns the recorded events of one type.
func (r *EventRecorder) Filter(id ipc.EventType) []ipc.Event {
	var out []ipc.Event
	for _, ev := range r.Events() {
		if ev.ID == id {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns the number of recorded events of one type.
func (r *EventRecorder) Count(id ipc.EventType) int {
	return len(r.Filter(id))
}

// IDs returns the event types in the order they were recorded.
func (r *EventRecorder) IDs() []ipc.EventType {
	var out []ipc.EventType
	for _, ev := range r.Events() {
		out = append(out, ev.ID)
	}
	return out
}
