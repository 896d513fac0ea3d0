// Package client assembles the sync engine from its parts.
package client

import (
	"fmt"

	"github.com/hearthhq/hearth/internal/auth"
	"github.com/hearthhq/hearth/internal/cache"
	"github.com/hearthhq/hearth/internal/checkpoint"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/queue"
	syncsvc "github.com/hearthhq/hearth/internal/services/sync"
	"github.com/hearthhq/hearth/internal/transport"
)

// Client provides the high-level API for hearth operations.
type Client struct {
	Auth   *auth.Service
	Sync   *syncsvc.Service
	Cache  *cache.Store
	Reader *cache.Reader
	Queue  queue.Store
	Bus    *events.Bus

	config    *config.Config
	logger    *events.Logger
	transport transport.Transport
}

// New creates a fully wired client.
func New(cfg *config.Config, logger *events.Logger) (*Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	transportClient := transport.NewHTTPClient(cfg.API.BaseURL, cfg.API.UserAgent, cfg.API.Timeout, logger)
	authService := auth.NewService(cfg.Auth.TokenFile, transportClient, logger)

	queueStore, err := queue.NewSQLiteStore(cfg.Storage.QueueFile, logger)
	if err != nil {
		return nil, fmt.Errorf("open write queue: %w", err)
	}

	checkpointStore, err := checkpoint.NewStore(cfg.Storage.StateDir, authService, cfg.Sync.CheckpointTTL, logger)
	if err != nil {
		queueStore.Close()
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}

	cacheStore, err := cache.NewStore(cfg.Storage.CacheFile, cache.DefaultScope, logger)
	if err != nil {
		queueStore.Close()
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	bus := events.NewBus()
	probe := transport.NewProbe(cfg.API.BaseURL, logger)

	worker := syncsvc.NewWorker(
		queueStore,
		checkpointStore,
		transportClient,
		probe,
		bus,
		syncsvc.Config{
			PollInterval:   cfg.Sync.PollInterval,
			BaseRetryDelay: cfg.Sync.BaseRetryDelay,
			MaxRetryDelay:  cfg.Sync.MaxRetryDelay,
			MaxBatchSize:   cfg.Sync.MaxBatchSize,
			CheckpointTTL:  cfg.Sync.CheckpointTTL,
		},
		logger,
	)

	return &Client{
		Auth:      authService,
		Sync:      syncsvc.NewService(queueStore, cacheStore, bus, worker, logger),
		Cache:     cacheStore,
		Reader:    cache.NewReader(cacheStore, bus, logger),
		Queue:     queueStore,
		Bus:       bus,
		config:    cfg,
		logger:    logger,
		transport: transportClient,
	}, nil
}

// Close stops the worker and releases every store.
func (c *Client) Close() error {
	c.Sync.Stop()

	var firstErr error
	if err := c.Queue.Close(); err != nil {
		firstErr = err
	}
	if err := c.Cache.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.transport.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
