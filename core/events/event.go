package events

import "sync"

// Event represents a typed record emitted by the vault during state
// transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events. It
// is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer retains the most recent events in a fixed-size ring so read-only
// surfaces can serve them without a persistent index.
type Buffer struct {
	mu     sync.RWMutex
	ring   []Event
	next   int
	filled bool
}

// NewBuffer constructs a ring buffer holding up to capacity events. A
// non-positive capacity defaults to 256.
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &Buffer{ring: make([]Event, capacity)}
}

// Emit records the event, evicting the oldest entry once the ring is full.
func (b *Buffer) Emit(evt Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.ring[b.next] = evt
	b.next++
	if b.next == len(b.ring) {
		b.next = 0
		b.filled = true
	}
	b.mu.Unlock()
}

// Recent returns the buffered events in emission order, oldest first.
func (b *Buffer) Recent() []Event {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.filled {
		return append([]Event{}, b.ring[:b.next]...)
	}
	out := make([]Event, 0, len(b.ring))
	out = append(out, b.ring[b.next:]...)
	out = append(out, b.ring[:b.next]...)
	return out
}

// Multi fans emitted events out to every configured emitter.
type Multi []Emitter

// Emit implements the Emitter interface.
func (m Multi) Emit(evt Event) {
	for _, emitter := range m {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
