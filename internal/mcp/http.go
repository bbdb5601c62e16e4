package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/httpkit"
)

// maxResponseBytes caps how much of an MCP response body is read.
// Screenshot-bearing tool results run to several MiB of base64.
const maxResponseBytes = 32 << 20

// HTTPConfig configures an HTTP MCP transport (JSON-RPC over POST,
// one request per message).
type HTTPConfig struct {
	// URL is the MCP server endpoint.
	URL string

	// Headers are sent with every request, Authorization typically.
	Headers map[string]string

	Logger *slog.Logger
}

// HTTPTransport talks to an MCP server over streamable HTTP. The
// server assigns a session ID on the first response; it is echoed back
// on every later request so the server can route us to the same
// browser session.
type HTTPTransport struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger

	mu        sync.Mutex
	sessionID string
}

// NewHTTPTransport creates an HTTP transport. Connect failures are
// retried a couple of times because the governor restarts the server
// under us, and a restarting server briefly refuses connections.
func NewHTTPTransport(cfg HTTPConfig) *HTTPTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		logger:  logger,
		client: httpkit.NewClient(httpkit.Options{
			RetryConnect: 2,
			RetryDelay:   time.Second,
			Logger:       logger,
		}),
	}
}

// Send posts one JSON-RPC request and decodes the response body.
func (t *HTTPTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	httpResp, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mcp server returned %d: %s",
			httpResp.StatusCode, httpkit.ReadErrorBody(httpResp.Body, 1<<20))
	}

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

// Notify posts one JSON-RPC notification. Servers answer notifications
// with 200 or 202 and no useful body.
func (t *HTTPTransport) Notify(ctx context.Context, notif *Notification) error {
	httpResp, err := t.post(ctx, notif)
	if err != nil {
		return err
	}
	defer httpkit.DrainAndClose(httpResp.Body, 1<<20)

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("mcp server returned %d for notification: %s",
			httpResp.StatusCode, httpkit.ReadErrorBody(httpResp.Body, 1<<20))
	}
	return nil
}

// post marshals msg, sends it with the configured headers and the
// current session ID, and captures any session ID the server assigns.
func (t *HTTPTransport) post(ctx context.Context, msg any) (*http.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	t.mu.Lock()
	if t.sessionID != "" {
		req.Header.Set("Mcp-Session-Id", t.sessionID)
	}
	t.mu.Unlock()

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post to %s: %w", t.url, err)
	}

	if sid := resp.Header.Get("Mcp-Session-Id"); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.mu.Unlock()
	}
	return resp, nil
}

// Close is a no-op; each request holds its connection only for its own
// duration and the pool reclaims idle ones.
func (t *HTTPTransport) Close() error {
	return nil
}
