// Package gateway abstracts the browser tool server behind a small
// interface: list the tools, invoke one, restart the backend, shut it
// down. The agent loop and session governor program against this
// interface and never see the wire protocol underneath.
//
// Two implementations exist: Remote speaks MCP over a pluggable
// transport (stdio subprocess, HTTP, WebSocket), and the browser
// package drives an in-process Playwright instance directly.
package gateway

import "context"

// Gateway is the tool-server surface the agent operates through.
//
// Invoke's error return covers infrastructure problems only (transport
// down, protocol violation). A tool that ran and failed (bad selector,
// timeout, element gone) comes back as a ToolResult with Failed set,
// because the model is the party that can act on it.
type Gateway interface {
	// Connect brings the backend up eagerly. The first ListTools or
	// Invoke connects lazily anyway; Connect lets startup fail fast.
	Connect(ctx context.Context) error

	// ListTools returns the tools the backend currently offers.
	ListTools(ctx context.Context) ([]ToolSchema, error)

	// Invoke calls one tool by name.
	Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error)

	// Restart tears the backend down and brings up a fresh one. Tabs,
	// cookies, and other session state do not survive.
	Restart(ctx context.Context) error

	// Close shuts the backend down for good.
	Close() error
}
