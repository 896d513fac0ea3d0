package models

import (
	"fmt"
	"strings"
	"time"
)

// DefaultCheckpointTTL bounds how long a checkpoint stays usable for
// crash recovery before it is considered stale.
const DefaultCheckpointTTL = 15 * time.Minute

// SyncCheckpoint records a transmission batch that has been sent but not
// yet confirmed. At most one exists per identity; it carries the
// idempotency key a resend must reuse so the server treats the retry as
// the same attempt.
type SyncCheckpoint struct {
	CheckpointID         string     `json:"checkpoint_id"`
	UserID               string     `json:"user_id"`
	HouseholdID          string     `json:"household_id"`
	CreatedAt            time.Time  `json:"created_at"`
	LastAttemptAt        *time.Time `json:"last_attempt_at,omitempty"`
	AttemptCount         int        `json:"attempt_count"`
	TTLMillis            int64      `json:"ttl_ms"`
	RequestID            string     `json:"request_id"`
	InFlightOperationIDs []string   `json:"in_flight_operation_ids"`
}

// Validate checks structural validity. A checkpoint failing validation is
// treated as absent by the store.
func (c *SyncCheckpoint) Validate() error {
	if strings.TrimSpace(c.CheckpointID) == "" {
		return fmt.Errorf("checkpoint id is required")
	}
	if strings.TrimSpace(c.RequestID) == "" {
		return fmt.Errorf("request id is required")
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if c.TTLMillis <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	if c.AttemptCount < 0 {
		return fmt.Errorf("attempt count cannot be negative")
	}
	if len(c.InFlightOperationIDs) == 0 {
		return fmt.Errorf("in-flight operation ids cannot be empty")
	}
	return nil
}

// Expired reports whether the checkpoint's validity window has passed.
func (c *SyncCheckpoint) Expired(now time.Time) bool {
	return now.Sub(c.CreatedAt) > time.Duration(c.TTLMillis)*time.Millisecond
}

// Covers reports whether the given operation id is part of this batch.
func (c *SyncCheckpoint) Covers(opID string) bool {
	for _, id := range c.InFlightOperationIDs {
		if id == opID {
			return true
		}
	}
	return false
}
