// Package transport carries sync batches to the server. It owns the
// single network round trip; retry scheduling lives with the sync
// worker so a failed batch is never retried from two layers at once.
package transport

import (
	"context"

	"github.com/hearthhq/hearth/internal/models"
)

// Transport sends transmission batches to the sync endpoint.
type Transport interface {
	// SendBatch performs one transmission attempt. A *models.APIError is
	// returned when the server produced a response; any other error
	// means no response was obtained and the batch outcome is unknown.
	SendBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchResponse, error)

	// SetToken sets the bearer token for subsequent requests.
	SetToken(token string)

	// Close releases resources.
	Close() error
}

// ConnectivityChecker is the connectivity oracle the sync worker
// consults before attempting a cycle.
type ConnectivityChecker interface {
	IsOnline() bool
}
