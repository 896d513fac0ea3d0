package sync

import (
	"time"

	"github.com/hearthhq/hearth/internal/models"
)

// Backoff schedule defaults: 0, 2s, 4s, 8s, 16s, then capped at 30s.
const (
	DefaultBaseRetryDelay = 2 * time.Second
	DefaultMaxRetryDelay  = 30 * time.Second
)

// backoffDelay returns the wait required after the given number of
// transmission attempts: 0 for a fresh write, then base*2^(n-1) capped
// at max. The cap bounds retry storms while converging quickly for
// transient failures.
func backoffDelay(attempts int, base, max time.Duration) time.Duration {
	if attempts <= 0 {
		return 0
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// eligible reports whether a queued write may be included in a batch
// now. A write that has never been attempted is always eligible; a
// retried write waits out its backoff; a permanently failed write is
// never sent again.
func eligible(w *models.QueuedWrite, now time.Time, base, max time.Duration) bool {
	if w.Status == models.StatusFailedPermanent {
		return false
	}
	if w.AttemptCount == 0 {
		return true
	}
	if w.LastAttemptAt == nil {
		return true
	}
	return now.Sub(*w.LastAttemptAt) >= backoffDelay(w.AttemptCount, base, max)
}
