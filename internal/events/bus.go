package events

import (
	"sync"

	"github.com/hearthhq/hearth/internal/models"
)

// Bus is an in-process publish/subscribe channel for "entity type
// changed" notifications. Events carry no payload: subscribers re-read
// the authoritative local store rather than receiving pushed data, which
// avoids staleness from missed-update races.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[models.EntityType]map[int]func()
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[models.EntityType]map[int]func())}
}

// OnChange registers a handler for one entity type and returns its
// unsubscribe function. Unsubscribe must be called when the subscriber's
// lifetime ends; calling it more than once is harmless.
func (b *Bus) OnChange(entityType models.EntityType, handler func()) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers, ok := b.subs[entityType]
	if !ok {
		handlers = make(map[int]func())
		b.subs[entityType] = handlers
	}

	id := b.nextID
	b.nextID++
	handlers[id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[entityType], id)
	}
}

// EmitChange notifies every subscriber of the entity type. Handlers run
// synchronously on the caller's goroutine, outside the bus lock so a
// handler may subscribe or unsubscribe.
func (b *Bus) EmitChange(entityType models.EntityType) {
	b.mu.Lock()
	handlers := make([]func(), 0, len(b.subs[entityType]))
	for _, h := range b.subs[entityType] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h()
	}
}

// SubscriberCount reports how many handlers are registered for the type.
func (b *Bus) SubscriberCount(entityType models.EntityType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[entityType])
}
