// Package sync implements the batch-sync worker: a single cooperative
// loop that drains the write queue against the server, maintaining the
// crash-recovery checkpoint and notifying reactive readers on success.
package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthhq/hearth/internal/checkpoint"
	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
	"github.com/hearthhq/hearth/internal/queue"
	"github.com/hearthhq/hearth/internal/transport"
)

// Status is the worker's lifecycle state.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Clock supplies the current time; injected so tests control backoff.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// IdentityProvider supplies the signed-in identity.
type IdentityProvider interface {
	CurrentUser() *models.Identity
}

// Config tunes the worker loop.
type Config struct {
	PollInterval   time.Duration
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxBatchSize   int
	CheckpointTTL  time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = DefaultMaxRetryDelay
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 50
	}
	if c.CheckpointTTL <= 0 {
		c.CheckpointTTL = models.DefaultCheckpointTTL
	}
}

// Worker drains the write queue in batches. It owns every mutation of
// queue retry/status fields; the enqueue path only appends, so new
// writes landing mid-cycle are simply picked up by the next cycle's
// fresh read.
type Worker struct {
	queue       queue.Store
	checkpoints *checkpoint.Store
	transport   transport.Transport
	online      transport.ConnectivityChecker
	bus         *events.Bus
	clock       Clock
	cfg         Config
	logger      *events.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}

	wake  chan struct{}
	fatal chan error
}

// Option customizes a Worker.
type Option func(*Worker)

// WithClock replaces the time source.
func WithClock(clock Clock) Option {
	return func(w *Worker) { w.clock = clock }
}

// NewWorker creates a sync worker. It does not start the loop.
func NewWorker(
	queueStore queue.Store,
	checkpoints *checkpoint.Store,
	transportClient transport.Transport,
	online transport.ConnectivityChecker,
	bus *events.Bus,
	cfg Config,
	logger *events.Logger,
	opts ...Option,
) *Worker {
	cfg.applyDefaults()

	w := &Worker{
		queue:       queueStore,
		checkpoints: checkpoints,
		transport:   transportClient,
		online:      online,
		bus:         bus,
		clock:       systemClock{},
		cfg:         cfg,
		logger:      logger.WithField("component", "sync_worker"),
		status:      StatusIdle,
		wake:        make(chan struct{}, 1),
		fatal:       make(chan error, 1),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Status returns the worker's lifecycle state.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Running reports whether the loop is active.
func (w *Worker) Running() bool {
	return w.Status() == StatusRunning
}

// Fatal delivers the error that halted the worker (authorization
// failure). Observers use it to trigger re-authentication.
func (w *Worker) Fatal() <-chan error {
	return w.fatal
}

// Start launches the cooperative loop. Calling Start while the loop is
// already running is a no-op; there is never a second concurrent loop.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.status == StatusRunning {
		w.logger.Debug("Start ignored, worker already running")
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.status = StatusRunning

	w.logger.WithField("poll_interval", w.cfg.PollInterval).Info("Starting sync worker")

	go w.runLoop(ctx, w.done)
}

// Stop signals cancellation and waits for the loop to exit. The loop
// observes cancellation between cycles and at suspension points within a
// cycle, never mid-transmission: an in-flight batch completes and
// applies its outcome before the stop is honored.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.status != StatusRunning {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.mu.Unlock()

	cancel()
	<-done
}

// Wake nudges the loop to run a cycle before the next poll tick.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// RunOnce processes a single cycle synchronously. It refuses to run
// concurrently with the loop so there is never more than one in-flight
// batch.
func (w *Worker) RunOnce(ctx context.Context) error {
	w.mu.Lock()
	if w.status == StatusRunning {
		w.mu.Unlock()
		return models.ErrWorkerRunning
	}
	prev := w.status
	w.status = StatusRunning
	w.mu.Unlock()

	err := w.runCycle(ctx)

	w.mu.Lock()
	if errors.Is(err, models.ErrNotAuthenticated) {
		w.status = StatusStopped
	} else {
		w.status = prev
	}
	w.mu.Unlock()

	return err
}

func (w *Worker) runLoop(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		w.status = StatusStopped
		w.cancel = nil
		w.mu.Unlock()
		close(done)
		w.logger.Info("Sync worker stopped")
	}()

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.runCycle(ctx); err != nil {
			if errors.Is(err, models.ErrNotAuthenticated) {
				w.logger.WithError(err).Error("Authorization failed, halting worker")
				select {
				case w.fatal <- err:
				default:
				}
				return
			}
			if ctx.Err() != nil {
				return
			}
			w.logger.WithError(err).Error("Sync cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

// runCycle reads eligible writes, transmits one batch, and applies the
// outcome.
func (w *Worker) runCycle(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if !w.online.IsOnline() {
		w.logger.Debug("Offline, skipping cycle")
		return nil
	}

	writes, err := w.queue.GetAll()
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	if len(writes) == 0 {
		return nil
	}

	now := w.clock.Now()
	var candidates []*models.QueuedWrite
	for _, write := range writes {
		if eligible(write, now, w.cfg.BaseRetryDelay, w.cfg.MaxRetryDelay) {
			candidates = append(candidates, write)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	batch, requestID, err := w.openCheckpoint(writes, candidates)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	if err := w.checkpoints.MarkAttempt(); err != nil {
		return fmt.Errorf("mark checkpoint attempt: %w", err)
	}

	req := &models.BatchRequest{RequestID: requestID}
	for _, write := range batch {
		req.Operations = append(req.Operations, models.NewBatchOperation(write))
		if err := w.queue.UpdateLastAttempt(write.ID, now); err != nil {
			w.logger.WithError(err).WithField("id", write.ID).Warn("Failed to record attempt time")
		}
	}

	w.logger.WithFields(map[string]interface{}{
		"request_id": requestID,
		"operations": len(batch),
	}).Info("Transmitting batch")

	resp, err := w.transport.SendBatch(events.WithRequestID(ctx, requestID), req)
	if err != nil {
		return w.applyFailure(batch, err)
	}

	return w.applyResponse(batch, resp)
}

// openCheckpoint resumes a live checkpoint if one still covers queued
// writes, otherwise opens a fresh one for the candidate batch. Resuming
// reuses the stored request id so the server recognizes the resend as
// the same idempotent attempt.
//
// Orphanhood is judged against the full queue snapshot, not the
// eligible subset: a covered write waiting out its backoff still has an
// unknown outcome, and clearing its checkpoint would let the eventual
// resend travel under a fresh request id the server could double-apply.
// While such a write exists the cycle either resends the covered batch
// (once any of it is eligible) or yields until the backoff elapses; new
// writes wait behind the unconfirmed batch.
func (w *Worker) openCheckpoint(writes, candidates []*models.QueuedWrite) ([]*models.QueuedWrite, string, error) {
	cp, err := w.checkpoints.Get()
	if err != nil {
		return nil, "", fmt.Errorf("read checkpoint: %w", err)
	}

	if cp != nil {
		var covered []*models.QueuedWrite
		for _, write := range writes {
			if write.Status != models.StatusFailedPermanent && cp.Covers(write.ID) {
				covered = append(covered, write)
			}
		}

		if len(covered) > 0 {
			eligible := false
			for _, write := range candidates {
				if cp.Covers(write.ID) {
					eligible = true
					break
				}
			}
			if !eligible {
				w.logger.WithFields(map[string]interface{}{
					"checkpoint_id": cp.CheckpointID,
					"request_id":    cp.RequestID,
				}).Debug("Unconfirmed batch waiting out backoff")
				return nil, "", nil
			}

			w.logger.WithFields(map[string]interface{}{
				"checkpoint_id": cp.CheckpointID,
				"request_id":    cp.RequestID,
				"operations":    len(covered),
			}).Info("Resuming unconfirmed batch")
			return covered, cp.RequestID, nil
		}

		// Nothing the checkpoint covers is still queued; the record is
		// orphaned and must not shadow new work.
		if err := w.checkpoints.Clear(); err != nil {
			return nil, "", fmt.Errorf("clear orphaned checkpoint: %w", err)
		}
	}

	batch := candidates
	if len(batch) > w.cfg.MaxBatchSize {
		batch = batch[:w.cfg.MaxBatchSize]
	}

	ids := make([]string, len(batch))
	for i, write := range batch {
		ids[i] = write.ID
	}

	requestID := uuid.NewString()
	if _, err := w.checkpoints.Save(checkpoint.SaveParams{
		InFlightOperationIDs: ids,
		RequestID:            requestID,
		TTL:                  w.cfg.CheckpointTTL,
	}); err != nil {
		return nil, "", fmt.Errorf("save checkpoint: %w", err)
	}

	return batch, requestID, nil
}

// applyFailure classifies a transmission error and mutates queue state
// accordingly. Only failures the server affirmatively produced may
// increment retry counters; no response means the batch may well have
// never arrived, and penalizing the writes would eventually discard work
// that was never rejected.
func (w *Worker) applyFailure(batch []*models.QueuedWrite, err error) error {
	switch models.ClassifyFailure(err) {
	case models.FailureTransient:
		// Outcome unknown. Leave every entry untouched and keep the
		// checkpoint so a restart resends with the same request id.
		w.logger.WithError(err).Warn("No response from server, will retry")
		return nil

	case models.FailureAuth:
		w.logger.WithError(err).Error("Server rejected credentials")
		return fmt.Errorf("batch rejected: %v: %w", err, models.ErrNotAuthenticated)

	default: // FailureRejected
		now := w.clock.Now()
		for _, write := range batch {
			if retryErr := w.queue.IncrementRetry(write.ID, now); retryErr != nil {
				w.logger.WithError(retryErr).WithField("id", write.ID).Warn("Failed to increment retry")
			}
		}
		// The outcome is known (nothing applied), so the recovery
		// window for this request id closes.
		if clearErr := w.checkpoints.Clear(); clearErr != nil {
			return fmt.Errorf("clear checkpoint: %w", clearErr)
		}
		w.logger.WithError(err).WithField("operations", len(batch)).Warn("Batch rejected, scheduled for retry")
		return nil
	}
}

// applyResponse applies a server verdict: confirmed items leave the
// queue, conflicted items gain a retry, and reactive readers are
// notified for every entity type that changed.
func (w *Worker) applyResponse(batch []*models.QueuedWrite, resp *models.BatchResponse) error {
	now := w.clock.Now()

	var confirmed, conflicted []*models.QueuedWrite
	for _, write := range batch {
		conflict := resp.ConflictFor(write)
		switch {
		case conflict == nil:
			confirmed = append(confirmed, write)
		case write.Operation == models.OpDelete && conflict.NotFound():
			// The target is already gone server-side; the delete is
			// idempotently complete.
			confirmed = append(confirmed, write)
		default:
			w.logger.WithFields(map[string]interface{}{
				"id":     write.ID,
				"target": write.TargetID(),
				"reason": conflict.Reason,
			}).Warn("Write conflicted")
			conflicted = append(conflicted, write)
		}
	}

	touched := make(map[models.EntityType]bool)
	for _, write := range confirmed {
		if err := w.queue.Remove(write.ID); err != nil && !errors.Is(err, models.ErrQueueEntryNotFound) {
			return fmt.Errorf("remove confirmed write %s: %w", write.ID, err)
		}
		touched[write.EntityType] = true
	}

	for _, write := range conflicted {
		if err := w.queue.IncrementRetry(write.ID, now); err != nil && !errors.Is(err, models.ErrQueueEntryNotFound) {
			return fmt.Errorf("increment retry for %s: %w", write.ID, err)
		}
	}

	// Every item has a known outcome now, so the whole batch leaves the
	// in-flight set and the checkpoint closes.
	allIDs := make([]string, len(batch))
	for i, write := range batch {
		allIDs[i] = write.ID
	}
	if err := w.checkpoints.ConfirmOperationIDs(allIDs); err != nil {
		return fmt.Errorf("confirm operations: %w", err)
	}

	for entityType := range touched {
		w.bus.EmitChange(entityType)
	}

	w.logger.WithFields(map[string]interface{}{
		"status":     resp.Status,
		"confirmed":  len(confirmed),
		"conflicted": len(conflicted),
	}).Info("Applied batch outcome")

	return nil
}
