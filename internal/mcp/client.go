package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/HolmesDomain/agentic-solaris/internal/buildinfo"
)

// protocolVersion is advertised in the initialize handshake.
const protocolVersion = "2024-11-05"

// ToolDefinition is one entry of a tools/list response.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is one content item of a tools/call result. Text blocks
// fill Text; image blocks fill Data (base64) and MimeType.
type ContentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallResult is what a tools/call invocation produced. IsError flags a
// tool-level failure (bad selector, navigation timeout); the call
// itself still succeeded at the protocol level, and the content says
// what went wrong.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// Text flattens the result's text blocks into one string, with inline
// markers standing in for anything that is not text.
func (r *CallResult) Text() string {
	parts := make([]string, 0, len(r.Content))
	for _, b := range r.Content {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// initializeResult is the payload of an initialize response.
type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
	Capabilities    struct {
		Tools *struct{} `json:"tools,omitempty"`
	} `json:"capabilities"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Client speaks the MCP client side to one server: initialize once,
// then tools/list and tools/call. One Client wraps one Transport and
// dies with it; a restarted server gets a new Client.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	mu         sync.RWMutex
	serverName string
	serverVer  string
	tools      []ToolDefinition
}

// NewClient wraps a transport. Nothing is sent until Initialize.
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("mcp_server", name),
	}
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// Initialize runs the MCP handshake: an initialize request followed by
// the notifications/initialized notification.
func (c *Client) Initialize(ctx context.Context) error {
	resp, err := c.send(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "solaris",
			"version": buildinfo.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(resp.Result, &init); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	c.mu.Lock()
	c.serverName = init.ServerInfo.Name
	c.serverVer = init.ServerInfo.Version
	c.mu.Unlock()

	c.logger.Info("mcp server initialized",
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion,
	)
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

// ListTools returns the server's tool definitions. The list is fetched
// once and cached for the client's lifetime; the tool vocabulary of a
// browser server does not change mid-session.
func (c *Client) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	c.mu.RLock()
	cached := c.tools
	c.mu.RUnlock()
	if cached != nil {
		return cached, nil
	}

	resp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return nil, fmt.Errorf("tools/list: %w", err)
	}
	var listed struct {
		Tools []ToolDefinition `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &listed); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}

	c.mu.Lock()
	c.tools = listed.Tools
	c.mu.Unlock()
	c.logger.Info("discovered mcp tools", "count", len(listed.Tools))
	return listed.Tools, nil
}

// CallTool runs one tool. The error return covers transport and RPC
// failures only; IsError on the result is the tool saying no, which
// callers forward to the model rather than treat as a fault.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*CallResult, error) {
	resp, err := c.send(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result CallResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	if result.IsError {
		c.logger.Debug("tool reported failure", "tool", name, "detail", result.Text())
	}
	return &result, nil
}

// Ping checks that the server still answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Close shuts the transport down; for stdio that ends the subprocess.
func (c *Client) Close() error {
	c.logger.Info("closing mcp client")
	return c.transport.Close()
}

// send issues one request with a fresh ID and unwraps RPC errors.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	resp, err := c.transport.Send(ctx, NewRequest(c.nextID.Add(1), method, params))
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp, nil
}
