package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HealthSample mirrors the server's GET /health body.
type HealthSample struct {
	Status           string `json:"status"`
	Connections      int    `json:"connections"`
	OnlineUsers      int    `json:"onlineUsers"`
	RateLimitedUsers int    `json:"rateLimitedUsers"`
	Uptime           string `json:"uptime"`
}

// HealthPoller samples /health during a run and keeps the peaks.
type HealthPoller struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu       sync.Mutex
	samples  int
	failures int
	peak     HealthSample
	degraded int
}

// NewHealthPoller polls url every interval.
func NewHealthPoller(url string, interval time.Duration) *HealthPoller {
	return &HealthPoller{url: url, interval: interval, client: &http.Client{Timeout: 5 * time.Second}}
}

// Run polls until ctx is cancelled.
func (h *HealthPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		h.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthPoller) poll(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return
	}
	var s HealthSample
	resp, err := h.client.Do(req)
	if err == nil {
		err = json.NewDecoder(resp.Body).Decode(&s)
		resp.Body.Close()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.failures++
		return
	}
	h.samples++
	if s.Status != "ok" {
		h.degraded++
	}
	h.peak.Connections = max(h.peak.Connections, s.Connections)
	h.peak.OnlineUsers = max(h.peak.OnlineUsers, s.OnlineUsers)
	h.peak.RateLimitedUsers = max(h.peak.RateLimitedUsers, s.RateLimitedUsers)
}

// Peak returns the highest values seen so far.
func (h *HealthPoller) Peak() HealthSample {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

// Report prints the server-side summary.
func (h *HealthPoller) Report() {
	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Println("\n--- Server health ---")
	fmt.Printf("  samples: %d  failed polls: %d  degraded: %d\n", h.samples, h.failures, h.degraded)
	fmt.Printf("  peak connections: %d  peak online users: %d  peak rate limited: %d\n",
		h.peak.Connections, h.peak.OnlineUsers, h.peak.RateLimitedUsers)
}
