package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
	"github.com/hearthhq/hearth/internal/queue"
)

// Service is the write path. Enqueue appends to the durable queue first
// (write-ahead: the caller always succeeds immediately), then applies
// the write optimistically to the local cache so reactive readers see
// it, and nudges the worker. Failures surface later through queue state
// or the worker's fatal channel, never synchronously to the caller.
type Service struct {
	queue  queue.Store
	cache  *cache.Store
	bus    *events.Bus
	worker *Worker
	clock  Clock
	logger *events.Logger
}

// NewService wires the enqueue path.
func NewService(queueStore queue.Store, cacheStore *cache.Store, bus *events.Bus, worker *Worker, logger *events.Logger) *Service {
	return &Service{
		queue:  queueStore,
		cache:  cacheStore,
		bus:    bus,
		worker: worker,
		clock:  worker.clock,
		logger: logger.WithField("component", "sync_service"),
	}
}

// WriteRequest describes one user mutation.
type WriteRequest struct {
	EntityType models.EntityType
	Operation  models.Operation
	LocalID    string
	ServerID   string
	Payload    json.RawMessage
}

// Enqueue records a write. The returned QueuedWrite has a fresh
// operation id that stays stable across every retry.
func (s *Service) Enqueue(req WriteRequest) (*models.QueuedWrite, error) {
	write := &models.QueuedWrite{
		ID:         uuid.NewString(),
		EntityType: req.EntityType,
		Operation:  req.Operation,
		Target: models.WriteTarget{
			LocalID:  req.LocalID,
			ServerID: req.ServerID,
		},
		Payload:         req.Payload,
		ClientTimestamp: s.clock.Now(),
		Status:          models.StatusPending,
	}

	if err := write.Validate(); err != nil {
		return nil, fmt.Errorf("invalid write: %w", err)
	}

	if err := s.queue.Append(write); err != nil {
		return nil, fmt.Errorf("append write: %w", err)
	}

	// The queue append is the durable part; a cache failure only delays
	// what the next confirmed sync refresh will fix.
	if err := s.applyLocal(write); err != nil {
		s.logger.WithError(err).WithField("id", write.ID).Warn("Failed to apply write to local cache")
	}

	s.bus.EmitChange(write.EntityType)
	s.worker.Wake()

	return write, nil
}

// applyLocal folds the write into the entity type's cached envelope:
// upsert for create/update, removal for delete.
func (s *Service) applyLocal(write *models.QueuedWrite) error {
	items, err := s.cache.Read(write.EntityType)
	if err != nil {
		return err
	}

	matches := func(item json.RawMessage) bool {
		id := models.EntityID(item)
		return id != "" && (id == write.Target.LocalID || (write.Target.ServerID != "" && id == write.Target.ServerID))
	}

	switch write.Operation {
	case models.OpDelete:
		kept := items[:0]
		for _, item := range items {
			if !matches(item) {
				kept = append(kept, item)
			}
		}
		items = kept

	default: // create, update
		replaced := false
		for i, item := range items {
			if matches(item) {
				items[i] = write.Payload
				replaced = true
				break
			}
		}
		if !replaced {
			items = append(items, write.Payload)
		}
	}

	return s.cache.Write(write.EntityType, items)
}

// Writes returns the current queue snapshot.
func (s *Service) Writes() ([]*models.QueuedWrite, error) {
	return s.queue.GetAll()
}

// PendingCount returns how many writes still await confirmation,
// excluding permanently failed ones.
func (s *Service) PendingCount() (int, error) {
	writes, err := s.queue.GetAll()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, write := range writes {
		if write.Status != models.StatusFailedPermanent {
			count++
		}
	}
	return count, nil
}

// ClearFailed removes permanently failed writes from the queue and
// returns how many were cleared.
func (s *Service) ClearFailed() (int, error) {
	writes, err := s.queue.GetAll()
	if err != nil {
		return 0, err
	}

	cleared := 0
	for _, write := range writes {
		if write.Status != models.StatusFailedPermanent {
			continue
		}
		if err := s.queue.Remove(write.ID); err != nil {
			return cleared, fmt.Errorf("remove failed write %s: %w", write.ID, err)
		}
		cleared++
	}
	return cleared, nil
}

// Start launches the background worker.
func (s *Service) Start(ctx context.Context) {
	s.worker.Start(ctx)
}

// Stop halts the background worker.
func (s *Service) Stop() {
	s.worker.Stop()
}

// SyncOnce runs a single worker cycle synchronously.
func (s *Service) SyncOnce(ctx context.Context) error {
	return s.worker.RunOnce(ctx)
}

// WorkerStatus exposes the worker's lifecycle state.
func (s *Service) WorkerStatus() Status {
	return s.worker.Status()
}

// Fatal surfaces the error that halted the worker.
func (s *Service) Fatal() <-chan error {
	return s.worker.Fatal()
}
