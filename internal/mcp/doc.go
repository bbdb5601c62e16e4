// Package mcp implements MCP (Model Context Protocol) client support,
// used to drive remote browser-automation servers such as a Playwright
// MCP server.
//
// MCP uses JSON-RPC 2.0 over three transports: stdio (subprocess),
// streamable HTTP, and WebSocket. The client discovers tools via
// tools/list and invokes them via tools/call; tool results preserve
// their full content structure (text and image blocks) plus the
// tool-level failure flag, which higher layers feed back to the model.
//
// This implementation covers the client/host side only; solaris does
// not act as an MCP server.
package mcp
