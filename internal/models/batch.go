package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Batch sync wire types for the /sync transmission endpoint.

// BatchStatus is the server's overall verdict on a batch.
type BatchStatus string

const (
	BatchSynced  BatchStatus = "synced"
	BatchPartial BatchStatus = "partial"
)

// BatchOperation is one queued write serialized for transmission.
type BatchOperation struct {
	OperationID     string          `json:"operation_id"`
	EntityType      EntityType      `json:"entity_type"`
	Operation       Operation       `json:"operation"`
	LocalID         string          `json:"local_id"`
	ServerID        string          `json:"server_id,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp time.Time       `json:"client_timestamp"`
}

// BatchRequest carries one transmission batch. RequestID is the
// checkpoint's idempotency key; a resend of the same batch presents the
// same RequestID.
type BatchRequest struct {
	RequestID  string           `json:"request_id"`
	Operations []BatchOperation `json:"operations"`
}

// OperationIDs returns the ids of every operation in the batch, in order.
func (r *BatchRequest) OperationIDs() []string {
	ids := make([]string, len(r.Operations))
	for i, op := range r.Operations {
		ids[i] = op.OperationID
	}
	return ids
}

// Conflict identifies one item the server refused to apply.
type Conflict struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// NotFound reports whether the conflict says the target entity does not
// exist on the server.
func (c *Conflict) NotFound() bool {
	reason := strings.ToLower(c.Reason)
	for _, sep := range []string{" ", "_", "-"} {
		reason = strings.ReplaceAll(reason, sep, "")
	}
	return strings.Contains(reason, "notfound")
}

// BatchResponse is the server's reply to a transmission batch.
type BatchResponse struct {
	Status    BatchStatus `json:"status"`
	Conflicts []Conflict  `json:"conflicts"`
}

// ConflictFor returns the conflict matching an operation's target, or nil.
// Matching is by entity type plus either id the client knows the entity by.
func (r *BatchResponse) ConflictFor(op *QueuedWrite) *Conflict {
	for i := range r.Conflicts {
		c := &r.Conflicts[i]
		if c.Type != string(op.EntityType) || c.ID == "" {
			continue
		}
		if c.ID == op.Target.ServerID || c.ID == op.Target.LocalID {
			return c
		}
	}
	return nil
}

// NewBatchOperation serializes a queued write for transmission.
func NewBatchOperation(w *QueuedWrite) BatchOperation {
	return BatchOperation{
		OperationID:     w.ID,
		EntityType:      w.EntityType,
		Operation:       w.Operation,
		LocalID:         w.Target.LocalID,
		ServerID:        w.Target.ServerID,
		Payload:         w.Payload,
		ClientTimestamp: w.ClientTimestamp,
	}
}
