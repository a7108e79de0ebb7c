// Package eventbus implements a typed event bus: a single producer per
// event kind, many consumers, with fan-out being the bus's job rather
// than the publisher's.
package eventbus

import "sync"

// Kind names an event type published on the bus.
type Kind string

// Event is an immutable envelope published on the bus.
type Event struct {
	Kind    Kind
	Payload any
}

// Handler receives events of a subscribed kind. The bus runs each
// subscriber's handler in its own goroutine, so a slow consumer cannot
// stall others or the publisher.
type Handler func(Event)

// Bus is a typed, in-process publish/subscribe bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Kind][]Handler)}
}

// Subscribe registers handler for kind. Returns an unsubscribe func.
func (b *Bus) Subscribe(kind Kind, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], handler)
	idx := len(b.subs[kind]) - 1
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.subs[kind]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
}

// Publish fans an event out to every subscriber of its kind, each in its
// own goroutine. The publisher never blocks on slow consumers.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subs[e.Kind]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h == nil {
			continue
		}
		go h(e)
	}
}
