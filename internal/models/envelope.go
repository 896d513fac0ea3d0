package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CurrentEnvelopeVersion is the envelope shape this build reads and
// writes. Older recognized shapes are upgraded on read; newer versions
// are refused rather than destructively downgraded.
const CurrentEnvelopeVersion = 1

// Envelope is the versioned wrapper around a persisted entity collection.
// It is replaced wholesale on every write, never mutated in place.
type Envelope struct {
	Version int               `json:"version"`
	Items   []json.RawMessage `json:"items"`
}

// NewEnvelope returns an empty envelope at the current version.
func NewEnvelope() *Envelope {
	return &Envelope{Version: CurrentEnvelopeVersion, Items: []json.RawMessage{}}
}

// DecodeEnvelope parses a raw persisted value into an envelope.
//
// nil/empty input yields an empty envelope. A bare JSON array is the
// legacy pre-versioning shape and is wrapped at version 1. A version
// newer than this build understands returns ErrEnvelopeFromFuture so the
// caller can degrade gracefully. Individually invalid items (not an
// object, or missing an "id" string) are filtered out rather than
// discarding the whole collection.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return NewEnvelope(), nil
	}

	// Legacy shape: a bare array of entities.
	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("parse legacy envelope: %w", err)
		}
		return &Envelope{Version: CurrentEnvelopeVersion, Items: filterEntities(items)}, nil
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version > CurrentEnvelopeVersion {
		return nil, fmt.Errorf("envelope version %d: %w", env.Version, ErrEnvelopeFromFuture)
	}
	if env.Version < 1 {
		return nil, fmt.Errorf("envelope version %d: not an envelope", env.Version)
	}
	env.Items = filterEntities(env.Items)
	return &env, nil
}

// Encode serializes the envelope for persistence.
func (e *Envelope) Encode() ([]byte, error) {
	if e.Items == nil {
		e.Items = []json.RawMessage{}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// filterEntities drops items that are not objects carrying a non-empty
// string id.
func filterEntities(items []json.RawMessage) []json.RawMessage {
	valid := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		if EntityID(item) != "" {
			valid = append(valid, item)
		}
	}
	return valid
}

// EntityID extracts the "id" field of a raw entity, or "" if the entity
// is not a valid object with a string id.
func EntityID(raw json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return ""
	}
	return strings.TrimSpace(probe.ID)
}
