package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/hearthhq/hearth/internal/events"
)

// Probe implements the connectivity oracle with a cheap HEAD request
// against the API, cached briefly so a busy worker loop does not turn
// every poll cycle into a network probe.
type Probe struct {
	client   *http.Client
	url      string
	cacheFor time.Duration
	logger   *events.Logger

	mu         sync.Mutex
	lastCheck  time.Time
	lastOnline bool
}

// NewProbe creates a connectivity probe against baseURL.
func NewProbe(baseURL string, logger *events.Logger) *Probe {
	return &Probe{
		client:   &http.Client{Timeout: 3 * time.Second},
		url:      baseURL + "/api/v1/health",
		cacheFor: 10 * time.Second,
		logger:   logger.WithField("component", "connectivity_probe"),
	}
}

// IsOnline reports whether the API is reachable. Any HTTP response at
// all counts as online; only transport-level failure counts as offline.
func (p *Probe) IsOnline() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if now.Sub(p.lastCheck) < p.cacheFor {
		return p.lastOnline
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	p.lastCheck = now
	p.lastOnline = err == nil
	if err != nil {
		p.logger.WithError(err).Debug("Connectivity probe failed")
	} else {
		resp.Body.Close()
	}

	return p.lastOnline
}

// AlwaysOnline is a connectivity oracle that never reports offline,
// for tests and one-shot CLI runs where the probe would be noise.
type AlwaysOnline struct{}

func (AlwaysOnline) IsOnline() bool { return true }
