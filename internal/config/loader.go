package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from file and environment.
type Loader struct {
	configPath string
}

// NewLoader creates a config loader. configPath may be empty, in which
// case default locations are searched.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads configuration, layering defaults, an optional config file,
// and HEARTH_* environment overrides (e.g. HEARTH_API_BASE_URL).
func (l *Loader) Load() (*Config, error) {
	v := viper.New()

	cfg := DefaultConfig()
	v.SetDefault("api.base_url", cfg.API.BaseURL)
	v.SetDefault("api.timeout", cfg.API.Timeout)
	v.SetDefault("api.user_agent", cfg.API.UserAgent)
	v.SetDefault("auth.token_file", cfg.Auth.TokenFile)
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.state_dir", cfg.Storage.StateDir)
	v.SetDefault("storage.queue_file", cfg.Storage.QueueFile)
	v.SetDefault("storage.cache_file", cfg.Storage.CacheFile)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("sync.base_retry_delay", cfg.Sync.BaseRetryDelay)
	v.SetDefault("sync.max_retry_delay", cfg.Sync.MaxRetryDelay)
	v.SetDefault("sync.max_batch_size", cfg.Sync.MaxBatchSize)
	v.SetDefault("sync.checkpoint_ttl", cfg.Sync.CheckpointTTL)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)

	v.SetEnvPrefix("HEARTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if l.configPath != "" {
		v.SetConfigFile(l.configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.configPath, err)
		}
	} else {
		v.SetConfigName("hearth")
		v.SetConfigType("json")
		for _, dir := range l.defaultDirs() {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			// No config file is fine; defaults and env apply.
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// defaultDirs returns default config file locations.
func (l *Loader) defaultDirs() []string {
	dirs := []string{"."}

	if homeDir, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs,
			filepath.Join(homeDir, ".config", "hearth"),
			filepath.Join(homeDir, ".hearth"),
		)
	}

	return dirs
}
