// Package checkpoint persists the crash-recovery record of an in-flight
// transmission batch. If the process dies between "batch sent" and
// "response received", the checkpoint tells the worker on restart which
// operation ids were already transmitted, so the resend carries the same
// request id and the server treats it as the same idempotent attempt.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

// IdentityProvider supplies the currently signed-in identity, or nil for
// anonymous/guest mode.
type IdentityProvider interface {
	CurrentUser() *models.Identity
}

// anonymousScope keys checkpoints written with no identity available, so
// anonymous records are never attributed to a user who signs in later.
const anonymousScope = "unknown-user"

var scopeSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SaveParams describes the batch a new checkpoint covers.
type SaveParams struct {
	InFlightOperationIDs []string
	RequestID            string
	TTL                  time.Duration // zero means the store default
}

// Store persists at most one checkpoint per identity as a JSON file in
// the state directory. Every read structurally validates the record;
// malformed, identity-mismatched, or expired records are deleted and
// treated as absent.
type Store struct {
	baseDir    string
	identity   IdentityProvider
	defaultTTL time.Duration
	logger     *events.Logger

	mu sync.Mutex
}

// NewStore creates a checkpoint store rooted at baseDir.
func NewStore(baseDir string, identity IdentityProvider, defaultTTL time.Duration, logger *events.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	if defaultTTL <= 0 {
		defaultTTL = models.DefaultCheckpointTTL
	}

	return &Store{
		baseDir:    baseDir,
		identity:   identity,
		defaultTTL: defaultTTL,
		logger:     logger.WithField("component", "checkpoint_store"),
	}, nil
}

// Get returns the live checkpoint for the current identity, or nil if
// none exists (including when the stored record failed validation and
// was discarded).
func (s *Store) Get() (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Save writes a fresh checkpoint for the current identity, replacing any
// existing one.
func (s *Store) Save(params SaveParams) (*models.SyncCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := params.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	cp := &models.SyncCheckpoint{
		CheckpointID:         uuid.NewString(),
		CreatedAt:            time.Now().UTC(),
		TTLMillis:            ttl.Milliseconds(),
		RequestID:            params.RequestID,
		InFlightOperationIDs: append([]string(nil), params.InFlightOperationIDs...),
	}
	if user := s.identity.CurrentUser(); user != nil {
		cp.UserID = user.UserID
		cp.HouseholdID = user.HouseholdID
	}

	if err := cp.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}

	if err := s.write(cp); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"checkpoint_id": cp.CheckpointID,
		"request_id":    cp.RequestID,
		"operations":    len(cp.InFlightOperationIDs),
	}).Debug("Saved checkpoint")

	return cp, nil
}

// MarkAttempt records a transmission attempt against the live checkpoint.
func (s *Store) MarkAttempt() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.load()
	if err != nil {
		return err
	}
	if cp == nil {
		return models.ErrCheckpointNotFound
	}

	now := time.Now().UTC()
	cp.AttemptCount++
	cp.LastAttemptAt = &now

	return s.write(cp)
}

// ConfirmOperationIDs removes confirmed ids from the in-flight set. Once
// nothing remains unconfirmed the crash-recovery window closes and the
// checkpoint is deleted entirely.
func (s *Store) ConfirmOperationIDs(confirmed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.load()
	if err != nil {
		return err
	}
	if cp == nil {
		return nil
	}

	confirmedSet := make(map[string]bool, len(confirmed))
	for _, id := range confirmed {
		confirmedSet[id] = true
	}

	remaining := cp.InFlightOperationIDs[:0]
	for _, id := range cp.InFlightOperationIDs {
		if !confirmedSet[id] {
			remaining = append(remaining, id)
		}
	}
	cp.InFlightOperationIDs = remaining

	if len(cp.InFlightOperationIDs) == 0 {
		s.logger.WithField("checkpoint_id", cp.CheckpointID).Debug("All operations confirmed, deleting checkpoint")
		return s.remove()
	}

	return s.write(cp)
}

// Clear deletes the current identity's checkpoint.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove()
}

// load reads and validates the stored record. Callers hold the lock.
func (s *Store) load() (*models.SyncCheckpoint, error) {
	path := s.path()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp models.SyncCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		s.logger.WithError(err).Warn("Discarding malformed checkpoint")
		return nil, s.remove()
	}

	if err := cp.Validate(); err != nil {
		s.logger.WithError(err).Warn("Discarding invalid checkpoint")
		return nil, s.remove()
	}

	// A record written by a different identity must never be attributed
	// to the current one.
	currentUserID := ""
	if user := s.identity.CurrentUser(); user != nil {
		currentUserID = user.UserID
	}
	if cp.UserID != currentUserID {
		s.logger.WithFields(map[string]interface{}{
			"stored_user":  cp.UserID,
			"current_user": currentUserID,
		}).Warn("Discarding checkpoint owned by another identity")
		return nil, s.remove()
	}

	if cp.Expired(time.Now().UTC()) {
		s.logger.WithField("checkpoint_id", cp.CheckpointID).Warn("Discarding expired checkpoint")
		return nil, s.remove()
	}

	return &cp, nil
}

// write persists the record atomically. Callers hold the lock.
func (s *Store) write(cp *models.SyncCheckpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	path := s.path()
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp checkpoint: %w", err)
	}

	if file, err := os.Open(tmpPath); err == nil {
		_ = file.Sync()
		file.Close()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}

func (s *Store) remove() error {
	err := os.Remove(s.path())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// path returns the file for the current identity's scope. Scoping by
// identity keeps one user's checkpoint from leaking into another's
// session on the same machine.
func (s *Store) path() string {
	scope := anonymousScope
	if user := s.identity.CurrentUser(); user != nil && user.UserID != "" {
		scope = "user-" + scopeSanitizer.ReplaceAllString(user.UserID, "_")
	}
	return filepath.Join(s.baseDir, "checkpoint-"+scope+".json")
}
