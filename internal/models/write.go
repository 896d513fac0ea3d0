package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EntityType tags which domain collection a write or cache envelope targets.
type EntityType string

// Known household collections. The engine never switches on these; they
// scope cache envelopes and change notifications.
const (
	EntityRecipe       EntityType = "recipe"
	EntityShoppingItem EntityType = "shopping_item"
	EntityChore        EntityType = "chore"
	EntityMealPlan     EntityType = "meal_plan"
)

// EntityTypes lists the collections the client persists locally.
func EntityTypes() []EntityType {
	return []EntityType{EntityRecipe, EntityShoppingItem, EntityChore, EntityMealPlan}
}

// Operation is the kind of mutation a queued write performs.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// WriteStatus tracks a queued write's retry lifecycle.
type WriteStatus string

const (
	StatusPending         WriteStatus = "pending"
	StatusRetrying        WriteStatus = "retrying"
	StatusFailedPermanent WriteStatus = "failed_permanent"
)

// WriteTarget resolves a write to an entity. ServerID is empty until the
// entity has been created on the server.
type WriteTarget struct {
	LocalID  string `json:"local_id"`
	ServerID string `json:"server_id,omitempty"`
}

// QueuedWrite is one pending mutation awaiting server confirmation.
type QueuedWrite struct {
	ID              string          `json:"id"`
	EntityType      EntityType      `json:"entity_type"`
	Operation       Operation       `json:"operation"`
	Target          WriteTarget     `json:"target"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
	AttemptCount    int             `json:"attempt_count"`
	Status          WriteStatus     `json:"status"`
	LastAttemptAt   *time.Time      `json:"last_attempt_at,omitempty"`
}

// Validate checks structural validity of a queued write.
func (w *QueuedWrite) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return fmt.Errorf("write id is required")
	}
	if strings.TrimSpace(string(w.EntityType)) == "" {
		return fmt.Errorf("entity type is required")
	}
	switch w.Operation {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation: %q", w.Operation)
	}
	if strings.TrimSpace(w.Target.LocalID) == "" {
		return fmt.Errorf("target local id is required")
	}
	if w.AttemptCount < 0 {
		return fmt.Errorf("attempt count cannot be negative")
	}
	return nil
}

// TargetID returns the identifier the server knows this write by: the
// server id once assigned, the local id before first creation.
func (w *QueuedWrite) TargetID() string {
	if w.Target.ServerID != "" {
		return w.Target.ServerID
	}
	return w.Target.LocalID
}

// Identity identifies the signed-in user. A nil Identity means
// anonymous/guest mode.
type Identity struct {
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
}
