package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the nvrd daemon API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// Config holds client configuration.
type Config struct {
	BaseURL string // e.g. "http://localhost:8080/api"
	APIKey  string // shared secret, sent as X-Api-Key
	Timeout time.Duration
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8080/api",
		Timeout: 30 * time.Second,
	}
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080/api"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var er errorResp
		if derr := json.NewDecoder(resp.Body).Decode(&er); derr == nil && er.Error != "" {
			return fmt.Errorf("API error (%d): %s", resp.StatusCode, er.Error)
		}
		return fmt.Errorf("API error: status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// StartRecording starts a capture session for name.
func (c *Client) StartRecording(ctx context.Context, name, source, traceID string) (SessionStatus, error) {
	var st SessionStatus
	err := c.do(ctx, http.MethodPost, "/record/start",
		map[string]string{"name": name, "source": source, "trace_id": traceID}, &st)
	return st, err
}

// StopRecording stops the capture session for name.
func (c *Client) StopRecording(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/record/stop?name="+url.QueryEscape(name), nil, nil)
}

// Status returns the session status for name.
func (c *Client) Status(ctx context.Context, name string) (SessionStatus, error) {
	var st SessionStatus
	err := c.do(ctx, http.MethodGet, "/record/status?name="+url.QueryEscape(name), nil, &st)
	return st, err
}

// StatusAll returns the status of every known session record.
func (c *Client) StatusAll(ctx context.Context) ([]SessionStatus, error) {
	var sts []SessionStatus
	err := c.do(ctx, http.MethodGet, "/record/status", nil, &sts)
	return sts, err
}

// ClearRecords removes all session records without signaling subprocesses.
func (c *Client) ClearRecords(ctx context.Context) (int, error) {
	var out struct {
		Cleared int `json:"cleared"`
	}
	err := c.do(ctx, http.MethodPost, "/record/clear", nil, &out)
	return out.Cleared, err
}

// Snapshot grabs one frame from source and returns the saved path.
func (c *Client) Snapshot(ctx context.Context, name, source, traceID string, timeout time.Duration) (string, error) {
	var res SnapshotResult
	err := c.do(ctx, http.MethodPost, "/snapshot", map[string]any{
		"name": name, "source": source, "trace_id": traceID,
		"timeout_ms": int(timeout.Milliseconds()),
	}, &res)
	return res.SavedPath, err
}

// Sweep triggers one upload sweep and returns its summary.
func (c *Client) Sweep(ctx context.Context) (SweepSummary, error) {
	var sum SweepSummary
	err := c.do(ctx, http.MethodPost, "/sweep", nil, &sum)
	return sum, err
}
