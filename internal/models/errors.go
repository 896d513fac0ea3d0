package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors
var (
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrWorkerRunning      = errors.New("sync worker already running")
	ErrQueueEntryNotFound = errors.New("queued write not found")
	ErrCheckpointNotFound = errors.New("checkpoint not found")
	ErrEnvelopeFromFuture = errors.New("envelope version from the future")
)

// APIError represents a response the server actually produced.
type APIError struct {
	StatusCode int    `json:"status_code"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// FailureKind classifies a batch transmission failure. The central rule:
// only failures where the server affirmatively rejected the batch may
// increment retry counters. No response at all is transient, not wrong.
type FailureKind int

const (
	// FailureTransient: no response was obtained (network error, timeout,
	// cancellation). Server state is unknown; retry without penalty.
	FailureTransient FailureKind = iota

	// FailureAuth: credentials are invalid (401/403). Further attempts
	// cannot succeed until re-authentication happens externally.
	FailureAuth

	// FailureRejected: the server rejected the request (non-auth 4xx or
	// any 5xx). Presumed retryable with backoff.
	FailureRejected
)

// ClassifyFailure maps a transmission error onto the failure taxonomy.
func ClassifyFailure(err error) FailureKind {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return FailureTransient
	}
	switch apiErr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return FailureAuth
	default:
		return FailureRejected
	}
}
