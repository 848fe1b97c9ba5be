package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/byteowlz/tabdigest/internal/browser"
	"github.com/byteowlz/tabdigest/internal/collector"
)

// Client talks to a collector started with "tabdigest serve".
type Client struct {
	BaseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL. A zero timeout waits for replies
// indefinitely.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Tabs(ctx context.Context) ([]browser.Tab, error) {
	var body TabsBody
	if err := c.do(ctx, http.MethodGet, TabsPath, nil, &body); err != nil {
		return nil, err
	}
	return body.Tabs, nil
}

// Send posts one request and returns the collector's reply.
func (c *Client) Send(ctx context.Context, req collector.Request) (collector.Response, error) {
	if req.TabIDs == nil {
		req.TabIDs = []int{}
	}
	var resp collector.Response
	if err := c.do(ctx, http.MethodPost, MessagesPath, req, &resp); err != nil {
		return collector.Response{}, err
	}
	return resp, nil
}

type problem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("collector: failed to marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("collector: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("collector: failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var p problem
		if json.Unmarshal(respBody, &p) == nil && p.Detail != "" {
			return fmt.Errorf("collector: HTTP %d: %s", resp.StatusCode, p.Detail)
		}
		return fmt.Errorf("collector: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("collector: failed to parse response: %w", err)
	}
	return nil
}
