// Package auth persists the signed-in identity and bearer token. It is
// the identity provider the checkpoint store and sync worker consult;
// how the token is obtained (the actual login flow) is external.
package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

// Token is the persisted session record.
type Token struct {
	UserID      string    `json:"user_id"`
	HouseholdID string    `json:"household_id"`
	AccessToken string    `json:"access_token"`
	SavedAt     time.Time `json:"saved_at"`
}

// TokenSetter receives the bearer token for outgoing requests.
type TokenSetter interface {
	SetToken(token string)
}

// Service manages the token file and answers CurrentUser queries.
type Service struct {
	tokenFile string
	transport TokenSetter
	logger    *events.Logger

	mu      sync.RWMutex
	current *Token
}

// NewService creates the identity service and loads any existing token,
// propagating it to the transport.
func NewService(tokenFile string, transport TokenSetter, logger *events.Logger) *Service {
	s := &Service{
		tokenFile: tokenFile,
		transport: transport,
		logger:    logger.WithField("component", "auth"),
	}

	if token, err := s.loadFile(); err == nil {
		s.current = token
		s.transport.SetToken(token.AccessToken)
	} else if !os.IsNotExist(err) {
		s.logger.WithError(err).Warn("Ignoring unreadable token file")
	}

	return s
}

// SignIn persists a session and propagates the token to the transport.
func (s *Service) SignIn(userID, householdID, accessToken string) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(accessToken) == "" {
		return fmt.Errorf("sign in: user id and access token are required")
	}

	token := &Token{
		UserID:      userID,
		HouseholdID: householdID,
		AccessToken: accessToken,
		SavedAt:     time.Now().UTC(),
	}

	if err := s.saveFile(token); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = token
	s.mu.Unlock()

	s.transport.SetToken(accessToken)
	s.logger.WithField("user_id", userID).Info("Signed in")

	return nil
}

// SignOut removes the persisted session.
func (s *Service) SignOut() error {
	if err := os.Remove(s.tokenFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token file: %w", err)
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	s.transport.SetToken("")
	s.logger.Info("Signed out")

	return nil
}

// CurrentUser returns the signed-in identity, or nil for guest mode.
func (s *Service) CurrentUser() *models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil
	}
	return &models.Identity{
		UserID:      s.current.UserID,
		HouseholdID: s.current.HouseholdID,
	}
}

func (s *Service) loadFile() (*Token, error) {
	data, err := os.ReadFile(s.tokenFile)
	if err != nil {
		return nil, err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token file: %w", err)
	}
	if token.UserID == "" || token.AccessToken == "" {
		return nil, fmt.Errorf("token file missing user id or token")
	}

	return &token, nil
}

func (s *Service) saveFile(token *Token) error {
	if err := os.MkdirAll(filepath.Dir(s.tokenFile), 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := os.WriteFile(s.tokenFile, data, 0600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}

	return nil
}
