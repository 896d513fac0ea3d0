package cache_test

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

func TestReaderWatch(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultScope, logger)
	require.NoError(t, err)
	defer store.Close()

	bus := events.NewBus()
	reader := cache.NewReader(store, bus, logger)

	require.NoError(t, store.Write(models.EntityRecipe, rawItems(`{"id":"r-1"}`)))

	snapshots, stop := reader.Watch(models.EntityRecipe)
	defer stop()

	// Initial snapshot is delivered without any emit.
	initial := receiveSnapshot(t, snapshots)
	require.Len(t, initial, 1)
	assert.Equal(t, "r-1", models.EntityID(initial[0]))

	// A change notification triggers a re-read of the store.
	require.NoError(t, store.Write(models.EntityRecipe, rawItems(`{"id":"r-1"}`, `{"id":"r-2"}`)))
	bus.EmitChange(models.EntityRecipe)

	updated := receiveSnapshot(t, snapshots)
	assert.Len(t, updated, 2)

	// Changes to other entity types are not delivered.
	bus.EmitChange(models.EntityChore)
	select {
	case <-snapshots:
		t.Fatal("unexpected snapshot for unrelated entity type")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestReaderConflatesSnapshots(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultScope, logger)
	require.NoError(t, err)
	defer store.Close()

	bus := events.NewBus()
	reader := cache.NewReader(store, bus, logger)

	snapshots, stop := reader.Watch(models.EntityChore)
	defer stop()

	receiveSnapshot(t, snapshots) // drain the initial empty snapshot

	// Two rapid changes with no consumer in between: only the latest
	// snapshot remains.
	require.NoError(t, store.Write(models.EntityChore, rawItems(`{"id":"c-1"}`)))
	bus.EmitChange(models.EntityChore)
	require.NoError(t, store.Write(models.EntityChore, rawItems(`{"id":"c-1"}`, `{"id":"c-2"}`)))
	bus.EmitChange(models.EntityChore)

	latest := receiveSnapshot(t, snapshots)
	assert.Len(t, latest, 2)
}

func TestReaderStop(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultScope, logger)
	require.NoError(t, err)
	defer store.Close()

	bus := events.NewBus()
	reader := cache.NewReader(store, bus, logger)

	snapshots, stop := reader.Watch(models.EntityRecipe)
	receiveSnapshot(t, snapshots)

	stop()
	stop() // safe to call twice

	assert.Zero(t, bus.SubscriberCount(models.EntityRecipe))

	// The channel closes so ranging consumers terminate, and no further
	// snapshots arrive.
	bus.EmitChange(models.EntityRecipe)
	select {
	case items, ok := <-snapshots:
		assert.False(t, ok, "channel must be closed after stop")
		assert.Nil(t, items)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after stop")
	}
}

func TestReaderRangeTerminatesAfterStop(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)

	store, err := cache.NewStore(filepath.Join(t.TempDir(), "cache.db"), cache.DefaultScope, logger)
	require.NoError(t, err)
	defer store.Close()

	bus := events.NewBus()
	reader := cache.NewReader(store, bus, logger)

	snapshots, stop := reader.Watch(models.EntityMealPlan)
	stop()

	done := make(chan int, 1)
	go func() {
		delivered := 0
		for range snapshots {
			delivered++
		}
		done <- delivered
	}()

	select {
	case delivered := <-done:
		assert.LessOrEqual(t, delivered, 1, "at most the initial snapshot")
	case <-time.After(time.Second):
		t.Fatal("range over stopped watch did not terminate")
	}
}

func receiveSnapshot(t *testing.T, ch <-chan []json.RawMessage) []json.RawMessage {
	t.Helper()
	select {
	case items := <-ch:
		return items
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return nil
	}
}
