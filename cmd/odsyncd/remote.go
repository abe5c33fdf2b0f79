package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/odtrack/core/internal/logging"
	"github.com/odtrack/core/internal/models"
	"github.com/odtrack/core/internal/worker"
)

// probeMonitor implements worker.ConnectivityMonitor by polling a health
// endpoint. A change in reachability is pushed to the Changes channel.
type probeMonitor struct {
	url      string
	interval time.Duration
	client   *http.Client
	changes  chan bool

	mu      sync.Mutex
	online  bool
	stopCh  chan struct{}
	stopped bool
}

func newProbeMonitor(url string, interval time.Duration) *probeMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &probeMonitor{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		changes:  make(chan bool, 8),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the polling loop.
func (p *probeMonitor) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stopCh:
				return
			case <-ticker.C:
				online, _ := p.CheckConnectivity(ctx)
				p.push(online)
			}
		}
	}()
}

// Stop ends the polling loop. Idempotent.
func (p *probeMonitor) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
}

// CheckConnectivity probes the health endpoint once.
func (p *probeMonitor) CheckConnectivity(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false, nil // unreachable means offline, not an error
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode < 500, nil
}

// Changes implements worker.ConnectivityMonitor.
func (p *probeMonitor) Changes() <-chan bool {
	return p.changes
}

// push emits a change only on transitions.
func (p *probeMonitor) push(online bool) {
	p.mu.Lock()
	changed := p.online != online
	p.online = online
	p.mu.Unlock()
	if !changed {
		return
	}
	select {
	case p.changes <- online:
	default:
	}
}

// httpRemoteClient implements worker.RemoteSyncClient against the tracker
// backend. 409 responses carry the diverged server snapshot; any other
// non-2xx status is a transient failure left to the retry policy.
type httpRemoteClient struct {
	baseURL string
	client  *http.Client
}

func newHTTPRemoteClient(baseURL string) *httpRemoteClient {
	return &httpRemoteClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 25 * time.Second},
	}
}

// conflictResponse is the 409 payload shape.
type conflictResponse struct {
	ServerData      map[string]interface{} `json:"server_data"`
	ServerTimestamp int64                  `json:"server_timestamp"`
}

// Apply posts one queued mutation to the backend.
func (c *httpRemoteClient) Apply(ctx context.Context, item *models.SyncItem) (*worker.ApplyOutcome, error) {
	body, err := json.Marshal(map[string]interface{}{
		"item_id":   item.ItemID,
		"item_type": item.ItemType,
		"operation": string(item.Operation),
		"data":      item.Data,
		"queued_at": item.QueuedAt,
	})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/sync/%s", c.baseURL, item.ItemType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		io.Copy(io.Discard, resp.Body)
		return &worker.ApplyOutcome{}, nil

	case resp.StatusCode == http.StatusConflict:
		var cr conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			logging.Warn("Conflict response without server snapshot",
				map[string]interface{}{"item_id": item.ItemID})
		}
		return &worker.ApplyOutcome{
			Conflict:        true,
			ServerData:      cr.ServerData,
			ServerTimestamp: cr.ServerTimestamp,
		}, nil

	default:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("remote returned status %d", resp.StatusCode)
	}
}
