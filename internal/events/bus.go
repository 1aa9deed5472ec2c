// Package events provides best-effort fan-out of run lifecycle events.
//
// Delivery is an observability-isolation contract: a subscriber that
// panics or misbehaves never affects other subscribers, the publisher,
// or pipeline correctness. Events for a single repo are published in
// generation order; no ordering holds across repos.
package events

import (
	"sync"

	"github.com/cascadehq/cascade/internal/domain"
)

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine and should return quickly.
type Handler func(domain.Event)

// Bus fans events out to the current set of subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]Handler
	next int
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its subscription id.
func (b *Bus) Subscribe(h Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs[id] = h
	return id
}

// Unsubscribe removes a handler. Unknown ids are a no-op.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Publish delivers the event to every current subscriber. A panic in
// one subscriber is swallowed and does not reach the others.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for _, h := range b.subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, e)
	}
}

func deliver(h Handler, e domain.Event) {
	defer func() {
		_ = recover()
	}()
	h(e)
}
