package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/HolmesDomain/agentic-solaris/internal/artifacts"
	"github.com/HolmesDomain/agentic-solaris/internal/mcp"
)

// ClientFactory builds a fresh MCP client. Remote calls it at first
// use and again after every Restart, so it must return a new client
// (with a new transport) each time, never a shared one.
type ClientFactory func() *mcp.Client

// Remote is the MCP-backed Gateway. The underlying client is built
// lazily on first use and replaced wholesale on Restart.
type Remote struct {
	factory ClientFactory
	logger  *slog.Logger
	shots   *artifacts.Store

	mu     sync.Mutex
	client *mcp.Client
}

// RemoteOption configures a Remote built by NewRemote.
type RemoteOption func(*Remote)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// WithArtifacts enables screenshot persistence: every image part that
// comes back from a tool call is also written to the store. Saving is
// best-effort; a full disk costs a log line, not the tool result.
func WithArtifacts(s *artifacts.Store) RemoteOption {
	return func(r *Remote) { r.shots = s }
}

// NewRemote creates a Gateway backed by the MCP clients the factory
// produces.
func NewRemote(factory ClientFactory, opts ...RemoteOption) *Remote {
	r := &Remote{
		factory: factory,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ensureClient returns the live client, building and initializing one
// if none exists yet.
func (r *Remote) ensureClient(ctx context.Context) (*mcp.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	c := r.factory()
	if err := c.Initialize(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize tool server: %w", err)
	}
	r.client = c
	return c, nil
}

// Connect brings up the MCP client without waiting for the first call.
func (r *Remote) Connect(ctx context.Context) error {
	_, err := r.ensureClient(ctx)
	return err
}

// ListTools returns the backend's tool schemas.
func (r *Remote) ListTools(ctx context.Context) ([]ToolSchema, error) {
	c, err := r.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	defs, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	schemas := make([]ToolSchema, len(defs))
	for i, d := range defs {
		schemas[i] = ToolSchema{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		}
	}
	return schemas, nil
}

// Invoke calls one tool and converts the MCP result. Image parts are
// persisted to the artifact store as a side effect.
func (r *Remote) Invoke(ctx context.Context, name string, args map[string]any) (*ToolResult, error) {
	c, err := r.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	res, err := c.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}

	result := &ToolResult{Failed: res.IsError}
	for _, b := range res.Content {
		result.Parts = append(result.Parts, ContentPart{
			Type:     b.Type,
			Text:     b.Text,
			Data:     b.Data,
			MimeType: b.MimeType,
		})
	}

	r.persistImages(name, result)
	return result, nil
}

// persistImages saves image parts to the artifact store. Failures are
// logged and swallowed; persistence must never fail the tool call.
func (r *Remote) persistImages(tool string, result *ToolResult) {
	if r.shots == nil {
		return
	}
	for _, img := range result.Images() {
		path, err := r.shots.SaveImageBase64(img.MimeType, img.Data)
		if err != nil {
			r.logger.Warn("failed to persist tool image", "tool", tool, "error", err)
			continue
		}
		r.logger.Debug("persisted tool image", "tool", tool, "path", path)
	}
}

// Restart replaces the backend with a fresh one. The old client is
// closed best-effort; the new one is initialized before Restart
// returns so a broken relaunch surfaces here, not on the next call.
func (r *Remote) Restart(ctx context.Context) error {
	r.mu.Lock()
	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.Warn("error closing tool server during restart", "error", err)
		}
		r.client = nil
	}
	r.mu.Unlock()

	r.logger.Info("restarting tool server")
	_, err := r.ensureClient(ctx)
	return err
}

// Close shuts down the backend. Safe to call when nothing was started.
func (r *Remote) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}
