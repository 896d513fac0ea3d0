package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// API configuration
	API APIConfig `json:"api" mapstructure:"api"`

	// Authentication configuration
	Auth AuthConfig `json:"auth" mapstructure:"auth"`

	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`
}

// APIConfig for server communication.
type APIConfig struct {
	BaseURL   string        `json:"base_url" mapstructure:"base_url"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	UserAgent string        `json:"user_agent" mapstructure:"user_agent"`
}

// AuthConfig for identity persistence.
type AuthConfig struct {
	// TokenFile holds the signed-in identity and bearer token.
	TokenFile string `json:"token_file" mapstructure:"token_file"`
}

// StorageConfig for local persistence paths.
type StorageConfig struct {
	DataDir   string `json:"data_dir" mapstructure:"data_dir"`     // Base directory for all data
	StateDir  string `json:"state_dir" mapstructure:"state_dir"`   // Checkpoint storage
	QueueFile string `json:"queue_file" mapstructure:"queue_file"` // Write queue SQLite database
	CacheFile string `json:"cache_file" mapstructure:"cache_file"` // Envelope cache bbolt database
}

// SyncConfig for the background sync worker.
type SyncConfig struct {
	PollInterval   time.Duration `json:"poll_interval" mapstructure:"poll_interval"`       // Worker cycle interval
	BaseRetryDelay time.Duration `json:"base_retry_delay" mapstructure:"base_retry_delay"` // First backoff step
	MaxRetryDelay  time.Duration `json:"max_retry_delay" mapstructure:"max_retry_delay"`   // Backoff cap
	MaxBatchSize   int           `json:"max_batch_size" mapstructure:"max_batch_size"`     // Writes per transmission
	CheckpointTTL  time.Duration `json:"checkpoint_ttl" mapstructure:"checkpoint_ttl"`     // Checkpoint validity window
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // text, json
	File   string `json:"file" mapstructure:"file"`     // Log file path (empty = stdout)
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".hearth"

	return &Config{
		API: APIConfig{
			BaseURL:   "https://api.hearth.app",
			Timeout:   30 * time.Second,
			UserAgent: "hearth-go/1.0",
		},
		Auth: AuthConfig{
			TokenFile: filepath.Join(dataDir, "auth", "token.json"),
		},
		Storage: StorageConfig{
			DataDir:   dataDir,
			StateDir:  filepath.Join(dataDir, "state"),
			QueueFile: filepath.Join(dataDir, "queue.db"),
			CacheFile: filepath.Join(dataDir, "cache.db"),
		},
		Sync: SyncConfig{
			PollInterval:   5 * time.Second,
			BaseRetryDelay: 2 * time.Second,
			MaxRetryDelay:  30 * time.Second,
			MaxBatchSize:   50,
			CheckpointTTL:  15 * time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.base_url is required")
	}

	if c.API.Timeout <= 0 {
		return errors.New("api.timeout must be positive")
	}

	if c.Sync.PollInterval <= 0 {
		return errors.New("sync.poll_interval must be positive")
	}

	if c.Sync.BaseRetryDelay <= 0 || c.Sync.MaxRetryDelay < c.Sync.BaseRetryDelay {
		return errors.New("sync retry delays must be positive and max >= base")
	}

	if c.Sync.MaxBatchSize <= 0 {
		return errors.New("sync.max_batch_size must be positive")
	}

	if c.Sync.CheckpointTTL <= 0 {
		return errors.New("sync.checkpoint_ttl must be positive")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		c.Storage.StateDir,
		filepath.Dir(c.Storage.QueueFile),
		filepath.Dir(c.Storage.CacheFile),
		filepath.Dir(c.Auth.TokenFile),
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
