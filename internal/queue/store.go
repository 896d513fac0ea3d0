// Package queue implements the durable write-ahead queue of pending
// mutations awaiting transmission to the server of record.
package queue

import (
	"time"

	"github.com/hearthhq/hearth/internal/models"
)

// Store persists queued writes. All operations are durable by the time
// they return; a process exit immediately after a call loses nothing.
//
// Reads return a stable snapshot. The store does not arbitrate between
// concurrent in-process mutators of retry/status fields; the sync worker
// is the sole such mutator by construction.
type Store interface {
	// Append adds a new pending write.
	Append(write *models.QueuedWrite) error

	// GetAll returns every queued write ordered by client timestamp,
	// then insertion order.
	GetAll() ([]*models.QueuedWrite, error)

	// Remove deletes a confirmed or cleared write.
	Remove(id string) error

	// IncrementRetry bumps the attempt count, records the attempt time,
	// and moves the write to retrying.
	IncrementRetry(id string, at time.Time) error

	// UpdateLastAttempt records an attempt time without counting it
	// against the write.
	UpdateLastAttempt(id string, at time.Time) error

	// UpdateStatus sets the write's status.
	UpdateStatus(id string, status models.WriteStatus) error

	// MarkPermanentlyFailed moves the write to failed_permanent.
	MarkPermanentlyFailed(id string) error

	// Clear removes every queued write.
	Clear() error

	// Close releases resources.
	Close() error
}
