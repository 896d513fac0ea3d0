// Package cache implements the versioned local persistence layer for
// entity collections, used for offline/guest mode and as the reactive
// readers' authoritative local state.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

var bucketEnvelopes = []byte("envelopes")

// DefaultScope namespaces cache keys written outside any identity.
const DefaultScope = "guest"

// Store persists one versioned envelope per entity type in a bbolt
// database. Envelopes are replaced wholesale on every write, never
// partially mutated.
type Store struct {
	db     *bolt.DB
	scope  string
	logger *events.Logger
}

// NewStore opens (creating if needed) the cache database at dbPath.
func NewStore(dbPath, scope string, logger *events.Logger) (*Store, error) {
	if scope == "" {
		scope = DefaultScope
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEnvelopes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create envelopes bucket: %w", err)
	}

	return &Store{
		db:     db,
		scope:  scope,
		logger: logger.WithField("component", "envelope_store"),
	}, nil
}

// Read returns the persisted collection for an entity type.
//
// An absent key yields an empty collection. A legacy bare-array value is
// read as version-1 content (and upgraded on the next Write). A value
// from a future envelope version degrades to an empty collection with a
// warning rather than attempting a destructive downgrade, and corrupt
// values are filtered down to their valid entities. The caller always
// receives a usable collection, never a decode failure.
func (s *Store) Read(entityType models.EntityType) ([]json.RawMessage, error) {
	var raw []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketEnvelopes).Get(s.key(entityType)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	env, err := models.DecodeEnvelope(raw)
	if err != nil {
		if errors.Is(err, models.ErrEnvelopeFromFuture) {
			s.logger.WithFields(map[string]interface{}{
				"entity_type": entityType,
			}).Warn("Envelope written by a newer version, returning empty collection")
		} else {
			s.logger.WithError(err).WithField("entity_type", entityType).Warn("Corrupt envelope, returning empty collection")
		}
		return []json.RawMessage{}, nil
	}

	return env.Items, nil
}

// Write replaces the collection for an entity type, wrapping it at the
// current envelope version.
func (s *Store) Write(entityType models.EntityType, items []json.RawMessage) error {
	env := models.NewEnvelope()
	env.Items = items

	data, err := env.Encode()
	if err != nil {
		return err
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvelopes).Put(s.key(entityType), data)
	})
	if err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"entity_type": entityType,
		"items":       len(items),
	}).Debug("Wrote envelope")

	return nil
}

// Clear removes the collection for an entity type.
func (s *Store) Clear(entityType models.EntityType) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEnvelopes).Delete(s.key(entityType))
	})
	if err != nil {
		return fmt.Errorf("clear envelope: %w", err)
	}
	return nil
}

// ClearAll removes every persisted collection.
func (s *Store) ClearAll() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketEnvelopes); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketEnvelopes)
		return err
	})
	if err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) key(entityType models.EntityType) []byte {
	return []byte(StorageKey(s.scope, string(entityType)))
}
