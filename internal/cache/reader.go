package cache

import (
	"encoding/json"
	"sync"

	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

// Reader adapts the envelope store into a reactive read surface: each
// watch delivers the current collection immediately, then a fresh
// snapshot whenever a change notification fires for the entity type.
// Snapshots are re-read from the store on every notification; nothing is
// pushed through the bus itself.
type Reader struct {
	store  *Store
	bus    *events.Bus
	logger *events.Logger
}

// NewReader creates a reactive reader over the store and bus.
func NewReader(store *Store, bus *events.Bus, logger *events.Logger) *Reader {
	return &Reader{
		store:  store,
		bus:    bus,
		logger: logger.WithField("component", "cache_reader"),
	}
}

// Watch subscribes to an entity type. The returned channel conflates:
// it always holds at most the latest snapshot, so a slow consumer sees
// the freshest state rather than a backlog. stop ends the subscription
// and closes the channel, so ranging consumers terminate. stop is safe
// to call more than once.
func (r *Reader) Watch(entityType models.EntityType) (snapshots <-chan []json.RawMessage, stop func()) {
	ch := make(chan []json.RawMessage, 1)

	// An emit already in flight may still invoke push after unsubscribe
	// returns; the mutex and flag keep it off the closed channel.
	var mu sync.Mutex
	stopped := false

	push := func() {
		items, err := r.store.Read(entityType)
		if err != nil {
			r.logger.WithError(err).WithField("entity_type", entityType).Warn("Failed to re-read cache")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}

		// Replace any undelivered snapshot with the newer one.
		select {
		case ch <- items:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- items:
			default:
			}
		}
	}

	unsubscribe := r.bus.OnChange(entityType, push)
	push()

	var once sync.Once
	stop = func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			stopped = true
			close(ch)
			mu.Unlock()
		})
	}

	return ch, stop
}
