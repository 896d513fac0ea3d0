package sync_test

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hearthhq/hearth/internal/checkpoint"
	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
	"github.com/hearthhq/hearth/internal/queue"
	syncsvc "github.com/hearthhq/hearth/internal/services/sync"
	"github.com/hearthhq/hearth/internal/transport"
)

type staticIdentity struct {
	user *models.Identity
}

func (s *staticIdentity) CurrentUser() *models.Identity { return s.user }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	worker    *syncsvc.Worker
	queue     queue.Store
	cps       *checkpoint.Store
	transport *transport.MockTransport
	bus       *events.Bus
	clock     *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	dir := t.TempDir()

	queueStore, err := queue.NewSQLiteStore(filepath.Join(dir, "queue.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { queueStore.Close() })

	identity := &staticIdentity{user: &models.Identity{UserID: "user-1", HouseholdID: "house-1"}}
	cps, err := checkpoint.NewStore(filepath.Join(dir, "state"), identity, time.Minute, logger)
	require.NoError(t, err)

	mockTransport := transport.NewMockTransport()
	bus := events.NewBus()
	clock := newFakeClock()

	worker := syncsvc.NewWorker(
		queueStore,
		cps,
		mockTransport,
		transport.AlwaysOnline{},
		bus,
		syncsvc.Config{PollInterval: 10 * time.Millisecond},
		logger,
		syncsvc.WithClock(clock),
	)

	return &fixture{
		worker:    worker,
		queue:     queueStore,
		cps:       cps,
		transport: mockTransport,
		bus:       bus,
		clock:     clock,
	}
}

func (f *fixture) enqueue(t *testing.T, id string, entityType models.EntityType, op models.Operation, serverID string) *models.QueuedWrite {
	t.Helper()

	write := &models.QueuedWrite{
		ID:              id,
		EntityType:      entityType,
		Operation:       op,
		Target:          models.WriteTarget{LocalID: "local-" + id, ServerID: serverID},
		Payload:         json.RawMessage(`{"id":"local-` + id + `"}`),
		ClientTimestamp: f.clock.Now(),
		Status:          models.StatusPending,
	}
	require.NoError(t, f.queue.Append(write))
	return write
}

func synced() *models.BatchResponse {
	return &models.BatchResponse{Status: models.BatchSynced, Conflicts: []models.Conflict{}}
}

func TestWorkerSyncedBatch(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	changed := false
	unsubscribe := f.bus.OnChange(models.EntityRecipe, func() { changed = true })
	defer unsubscribe()

	f.transport.On("SendBatch", mock.Anything, mock.Anything).Return(synced(), nil).Once()

	require.NoError(t, f.worker.RunOnce(context.Background()))

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	assert.Empty(t, writes, "confirmed writes leave the queue")

	assert.True(t, changed, "cache change event fires for the entity type")

	cp, err := f.cps.Get()
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint closes once everything is confirmed")

	f.transport.AssertExpectations(t)
}

func TestWorkerPartialConflict(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpUpdate, "server-123")
	f.enqueue(t, "op-2", models.EntityChore, models.OpCreate, "")

	resp := &models.BatchResponse{
		Status: models.BatchPartial,
		Conflicts: []models.Conflict{
			{Type: "recipe", ID: "server-123", Reason: "Conflict"},
		},
	}
	f.transport.On("SendBatch", mock.Anything, mock.Anything).Return(resp, nil).Once()

	require.NoError(t, f.worker.RunOnce(context.Background()))

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	require.Len(t, writes, 1, "non-conflicted write is confirmed and removed")
	assert.Equal(t, "op-1", writes[0].ID)
	assert.Equal(t, 1, writes[0].AttemptCount)
	assert.Equal(t, models.StatusRetrying, writes[0].Status)

	cp, err := f.cps.Get()
	require.NoError(t, err)
	assert.Nil(t, cp, "every item has a known outcome, so the checkpoint closes")
}

func TestWorkerTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	f.transport.On("SendBatch", mock.Anything, mock.Anything).
		Return(nil, context.DeadlineExceeded).Once()

	require.NoError(t, f.worker.RunOnce(context.Background()))

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	require.Len(t, writes, 1)
	assert.Equal(t, 0, writes[0].AttemptCount, "no response must not inflate retry counts")
	assert.Equal(t, models.StatusPending, writes[0].Status)

	cp, err := f.cps.Get()
	require.NoError(t, err)
	require.NotNil(t, cp, "checkpoint stays in place for recovery")
	assert.Equal(t, []string{"op-1"}, cp.InFlightOperationIDs)

	assert.NotEqual(t, syncsvc.StatusStopped, f.worker.Status(), "transient failure does not halt the worker")
}

func TestWorkerReusesRequestIDAfterTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	var requestIDs []string
	record := func(args mock.Arguments) {
		req := args.Get(1).(*models.BatchRequest)
		requestIDs = append(requestIDs, req.RequestID)
	}

	f.transport.On("SendBatch", mock.Anything, mock.Anything).
		Run(record).Return(nil, context.DeadlineExceeded).Once()
	f.transport.On("SendBatch", mock.Anything, mock.Anything).
		Run(record).Return(synced(), nil).Once()

	require.NoError(t, f.worker.RunOnce(context.Background()))
	require.NoError(t, f.worker.RunOnce(context.Background()))

	require.Len(t, requestIDs, 2)
	assert.Equal(t, requestIDs[0], requestIDs[1],
		"resend of an unconfirmed batch carries the same idempotency key")

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	assert.Empty(t, writes)
}

func TestWorkerAuthFailureHalts(t *testing.T) {
	for _, status := range []int{401, 403} {
		f := newFixture(t)
		f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

		f.transport.On("SendBatch", mock.Anything, mock.Anything).
			Return(nil, &models.APIError{StatusCode: status}).Once()

		err := f.worker.RunOnce(context.Background())
		assert.ErrorIs(t, err, models.ErrNotAuthenticated, "status %d", status)
		assert.Equal(t, syncsvc.StatusStopped, f.worker.Status())
		assert.False(t, f.worker.Running())

		// No retry penalty: the write was not rejected on its merits.
		writes, getErr := f.queue.GetAll()
		require.NoError(t, getErr)
		require.Len(t, writes, 1)
		assert.Equal(t, 0, writes[0].AttemptCount)
	}
}

func TestWorkerRejectedBatchIncrementsAll(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")
	f.enqueue(t, "op-2", models.EntityChore, models.OpUpdate, "server-5")

	f.transport.On("SendBatch", mock.Anything, mock.Anything).
		Return(nil, &models.APIError{StatusCode: 500}).Once()

	require.NoError(t, f.worker.RunOnce(context.Background()))

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	require.Len(t, writes, 2)
	for _, w := range writes {
		assert.Equal(t, 1, w.AttemptCount, "write %s", w.ID)
		assert.Equal(t, models.StatusRetrying, w.Status)
	}

	cp, err := f.cps.Get()
	require.NoError(t, err)
	assert.Nil(t, cp, "a rejected batch has a known outcome; no recovery window remains")
}

func TestWorkerBackoffGatesRetries(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	f.transport.On("SendBatch", mock.Anything, mock.Anything).
		Return(nil, &models.APIError{StatusCode: 500}).Once()
	require.NoError(t, f.worker.RunOnce(context.Background()))

	// Immediately after the rejection nothing is eligible, so no
	// transmission happens.
	require.NoError(t, f.worker.RunOnce(context.Background()))
	f.transport.AssertNumberOfCalls(t, "SendBatch", 1)

	// Once the 2s backoff elapses the write is retried.
	f.clock.Advance(2 * time.Second)
	f.transport.On("SendBatch", mock.Anything, mock.Anything).Return(synced(), nil).Once()
	require.NoError(t, f.worker.RunOnce(context.Background()))
	f.transport.AssertNumberOfCalls(t, "SendBatch", 2)
}

func TestWorkerKeepsCheckpointForBackedOffWrites(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	var requestIDs []string
	record := func(args mock.Arguments) {
		req := args.Get(1).(*models.BatchRequest)
		requestIDs = append(requestIDs, req.RequestID)
	}

	// Rejected once: op-1 gains a retry and enters backoff.
	f.transport.On("SendBatch", mock.Anything, mock.Anything).Run(record).
		Return(nil, &models.APIError{StatusCode: 500}).Once()
	require.NoError(t, f.worker.RunOnce(context.Background()))

	// Backoff elapses; the resend gets no response, leaving an
	// unconfirmed batch behind.
	f.clock.Advance(2 * time.Second)
	f.transport.On("SendBatch", mock.Anything, mock.Anything).Run(record).
		Return(nil, context.DeadlineExceeded).Once()
	require.NoError(t, f.worker.RunOnce(context.Background()))

	cp, err := f.cps.Get()
	require.NoError(t, err)
	require.NotNil(t, cp)
	unconfirmedID := cp.RequestID

	// A fresh write arrives while op-1 waits out its backoff. The cycle
	// must not transmit anything: op-1's outcome is unknown, and sending
	// op-2 under a new request id would clear the live checkpoint.
	f.enqueue(t, "op-2", models.EntityChore, models.OpCreate, "")
	require.NoError(t, f.worker.RunOnce(context.Background()))
	f.transport.AssertNumberOfCalls(t, "SendBatch", 2)

	cp, err = f.cps.Get()
	require.NoError(t, err)
	require.NotNil(t, cp, "checkpoint survives while its write is backed off")
	assert.Equal(t, unconfirmedID, cp.RequestID)

	// Once op-1 is eligible again the unconfirmed batch is resent under
	// the stored id; op-2 follows in its own batch.
	f.clock.Advance(4 * time.Second)
	f.transport.On("SendBatch", mock.Anything, mock.Anything).Run(record).
		Return(synced(), nil).Twice()
	require.NoError(t, f.worker.RunOnce(context.Background()))
	require.NoError(t, f.worker.RunOnce(context.Background()))

	require.Len(t, requestIDs, 4)
	assert.Equal(t, unconfirmedID, requestIDs[2], "resend reuses the unconfirmed request id")
	assert.NotEqual(t, unconfirmedID, requestIDs[3], "the new write travels under its own id")

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	assert.Empty(t, writes)
}

func TestWorkerDeleteTargetGone(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityShoppingItem, models.OpDelete, "server-77")

	resp := &models.BatchResponse{
		Status: models.BatchPartial,
		Conflicts: []models.Conflict{
			{Type: "shopping_item", ID: "server-77", Reason: "NotFound"},
		},
	}
	f.transport.On("SendBatch", mock.Anything, mock.Anything).Return(resp, nil).Once()

	changed := false
	unsubscribe := f.bus.OnChange(models.EntityShoppingItem, func() { changed = true })
	defer unsubscribe()

	require.NoError(t, f.worker.RunOnce(context.Background()))

	writes, err := f.queue.GetAll()
	require.NoError(t, err)
	assert.Empty(t, writes, "deleting an already-deleted target is success, not conflict")
	assert.True(t, changed)
}

func TestWorkerSkipsPermanentlyFailed(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")
	require.NoError(t, f.queue.MarkPermanentlyFailed("op-1"))

	// Nothing eligible: the transport must never be called.
	require.NoError(t, f.worker.RunOnce(context.Background()))
	f.transport.AssertNumberOfCalls(t, "SendBatch", 0)
}

func TestWorkerStartIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	f.transport.On("SendBatch", mock.Anything, mock.Anything).Return(synced(), nil)

	ctx := context.Background()
	f.worker.Start(ctx)
	f.worker.Start(ctx) // no-op: never a second loop

	require.Eventually(t, func() bool {
		writes, err := f.queue.GetAll()
		return err == nil && len(writes) == 0
	}, time.Second, 5*time.Millisecond)

	f.worker.Stop()
	assert.Equal(t, syncsvc.StatusStopped, f.worker.Status())

	// Exactly one transmission for one eligible entry: two loops would
	// have raced to send it twice.
	f.transport.AssertNumberOfCalls(t, "SendBatch", 1)
}

func TestWorkerStopDuringIdle(t *testing.T) {
	f := newFixture(t)

	f.worker.Start(context.Background())
	assert.True(t, f.worker.Running())

	f.worker.Stop()
	f.worker.Stop() // second stop is a no-op
	assert.False(t, f.worker.Running())
}

func TestWorkerFatalSurfacesAuthFailure(t *testing.T) {
	f := newFixture(t)
	f.enqueue(t, "op-1", models.EntityRecipe, models.OpCreate, "")

	f.transport.On("SendBatch", mock.Anything, mock.Anything).
		Return(nil, &models.APIError{StatusCode: 401}).Once()

	f.worker.Start(context.Background())

	select {
	case err := <-f.worker.Fatal():
		assert.ErrorIs(t, err, models.ErrNotAuthenticated)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fatal error")
	}

	require.Eventually(t, func() bool {
		return f.worker.Status() == syncsvc.StatusStopped
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerRunOnceRefusedWhileRunning(t *testing.T) {
	f := newFixture(t)

	f.worker.Start(context.Background())
	defer f.worker.Stop()

	err := f.worker.RunOnce(context.Background())
	assert.ErrorIs(t, err, models.ErrWorkerRunning)
}

func TestWorkerOfflineSkipsCycle(t *testing.T) {
	var buf bytes.Buffer
	logger := events.NewTestLogger(events.DebugLevel, "json", &buf)
	dir := t.TempDir()

	queueStore, err := queue.NewSQLiteStore(filepath.Join(dir, "queue.db"), logger)
	require.NoError(t, err)
	defer queueStore.Close()

	identity := &staticIdentity{user: &models.Identity{UserID: "user-1"}}
	cps, err := checkpoint.NewStore(filepath.Join(dir, "state"), identity, time.Minute, logger)
	require.NoError(t, err)

	mockTransport := transport.NewMockTransport()
	worker := syncsvc.NewWorker(
		queueStore, cps, mockTransport, offline{}, events.NewBus(),
		syncsvc.Config{}, logger,
	)

	write := &models.QueuedWrite{
		ID:              "op-1",
		EntityType:      models.EntityRecipe,
		Operation:       models.OpCreate,
		Target:          models.WriteTarget{LocalID: "local-1"},
		ClientTimestamp: time.Now().UTC(),
		Status:          models.StatusPending,
	}
	require.NoError(t, queueStore.Append(write))

	require.NoError(t, worker.RunOnce(context.Background()))
	mockTransport.AssertNumberOfCalls(t, "SendBatch", 0)
}

type offline struct{}

func (offline) IsOnline() bool { return false }
