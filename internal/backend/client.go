package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pakdeck/internal/events"
)

// Health is the backend's self-reported state.
type Health struct {
	Status    string `json:"status"` // "ok" or "degraded"
	Version   string `json:"version"`
	UptimeSec int64  `json:"uptime_sec"`
}

// SystemInfo is the host summary the backend gathers for the UI.
type SystemInfo struct {
	OS        string `json:"os"`
	Arch      string `json:"arch"`
	Hostname  string `json:"hostname"`
	CPUCount  int    `json:"cpu_count"`
	MemoryMB  int64  `json:"memory_mb"`
	Elevated  bool   `json:"elevated"`
	ShellPath string `json:"shell_path"`
}

// Provider is one package source the backend knows about.
type Provider struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Enabled      bool   `json:"enabled"`
	PackageCount int    `json:"package_count"`
}

// Client talks to the native backend's loopback API. All calls are bounded
// by the underlying http.Client timeout.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Health() (*Health, error) {
	var h Health
	if err := c.getJSON("/api/v1/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) SystemInfo() (*SystemInfo, error) {
	var si SystemInfo
	if err := c.getJSON("/api/v1/system", &si); err != nil {
		return nil, err
	}
	return &si, nil
}

func (c *Client) Providers() ([]Provider, error) {
	var out struct {
		Providers []Provider `json:"providers"`
	}
	if err := c.getJSON("/api/v1/providers", &out); err != nil {
		return nil, err
	}
	return out.Providers, nil
}

// SetProviderEnabled toggles a package source on the backend and returns its
// new state.
func (c *Client) SetProviderEnabled(id string, enabled bool) (*Provider, error) {
	body, _ := json.Marshal(map[string]any{"enabled": enabled})
	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/api/v1/providers/%s/toggle", c.baseURL, id),
		strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("backend: toggle %s: status %d", id, resp.StatusCode)
	}
	var p Provider
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Changelog returns the backend's release notes for the given version, or
// the latest when version is empty.
func (c *Client) Changelog(version string) (string, error) {
	path := "/api/v1/changelog"
	if version != "" {
		path += "?version=" + version
	}
	var out struct {
		Version string `json:"version"`
		Notes   string `json:"notes"`
	}
	if err := c.getJSON(path, &out); err != nil {
		return "", err
	}
	return out.Notes, nil
}

// StreamEvents reads the backend's line-oriented event stream and publishes
// every line into the pipeline until ctx is done or the stream breaks. The
// caller owns reconnect policy.
func (c *Client) StreamEvents(ctx context.Context, pipeline *events.Pipeline) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return err
	}
	c.auth(req)
	// Streaming request: no client timeout, bounded by ctx instead.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("backend: events: status %d", resp.StatusCode)
	}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		pipeline.Publish("backend", scanner.Text())
	}
	return scanner.Err()
}

func (c *Client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.auth(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return fmt.Errorf("backend: %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) auth(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
