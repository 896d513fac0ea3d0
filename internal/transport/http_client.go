package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"

	"github.com/hearthhq/hearth/internal/events"
	"github.com/hearthhq/hearth/internal/models"
)

// syncPath is the batch transmission endpoint.
const syncPath = "/api/v1/sync"

// HTTPClient implements Transport over HTTPS.
type HTTPClient struct {
	client    *http.Client
	baseURL   string
	userAgent string
	logger    *events.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPClient creates an HTTP transport. timeout bounds the whole
// round trip; its expiry is indistinguishable from a network error to
// callers, which is intentional (no response means outcome unknown).
func NewHTTPClient(baseURL, userAgent string, timeout time.Duration, logger *events.Logger) *HTTPClient {
	httpTransport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			NextProtos: []string{"h2", "http/1.1"},
		},
	}
	if err := http2.ConfigureTransport(httpTransport); err != nil {
		logger.WithError(err).Warn("Failed to configure HTTP/2")
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   timeout,
			Transport: httpTransport,
		},
		baseURL:   baseURL,
		userAgent: userAgent,
		logger:    logger.WithField("component", "http_client"),
	}
}

// SetToken sets the bearer token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *HTTPClient) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SendBatch posts one transmission batch to the sync endpoint. The
// request id travels both in the body and as the Idempotency-Key header
// so a resend of the same checkpoint is recognized as the same attempt.
func (c *HTTPClient) SendBatch(ctx context.Context, req *models.BatchRequest) (*models.BatchResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"request_id": req.RequestID,
		"operations": len(req.Operations),
		"size":       len(body),
	}).Debug("Sending batch")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+syncPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Idempotency-Key", req.RequestID)
	if token := c.getToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.WithFields(map[string]interface{}{
		"request_id": req.RequestID,
		"status":     resp.StatusCode,
		"size":       len(respBody),
	}).Debug("Received response")

	if resp.StatusCode != http.StatusOK {
		apiErr := &models.APIError{
			StatusCode: resp.StatusCode,
			RequestID:  req.RequestID,
		}
		// Servers that speak our error shape add code/message detail.
		_ = json.Unmarshal(respBody, apiErr)
		apiErr.StatusCode = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	var batchResp models.BatchResponse
	if err := json.Unmarshal(respBody, &batchResp); err != nil {
		return nil, fmt.Errorf("parse batch response: %w", err)
	}

	return &batchResp, nil
}

// Close releases idle connections.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
