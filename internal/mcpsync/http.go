package mcpsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CommandHeader carries the command name on HTTP requests.
const CommandHeader = "x-mcp-command"

// HTTPRunner POSTs JSON payloads to a single endpoint.
type HTTPRunner struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPRunner returns a runner posting to endpoint. A nil client uses a
// client with a 30s timeout.
func NewHTTPRunner(endpoint, token string, client *http.Client) *HTTPRunner {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRunner{endpoint: endpoint, token: token, client: client}
}

// Run implements Runner.
func (r *HTTPRunner) Run(ctx context.Context, command string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(CommandHeader, command)
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("sync request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("MCP sync failed: %s", resp.Status)
	}
	return nil
}
