package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSConfig configures a WebSocket MCP transport for servers that keep
// a single long-lived connection (ws:// or wss:// endpoint).
type WSConfig struct {
	// URL is the WebSocket endpoint.
	URL string

	// Headers are additional HTTP headers sent with the dial request
	// (e.g., Authorization).
	Headers map[string]string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// WSTransport communicates with an MCP server over a WebSocket
// connection. Requests and responses are correlated by JSON-RPC id via
// a pending-response map; a background read loop routes incoming
// messages. The connection is dialed lazily on first use and redialed
// after a read failure.
type WSTransport struct {
	url     string
	headers map[string]string
	logger  *slog.Logger

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan *Response
}

// NewWSTransport creates a WebSocket transport for the given config.
func NewWSTransport(cfg WSConfig) *WSTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{
		url:     cfg.URL,
		headers: cfg.Headers,
		logger:  logger,
		pending: make(map[int64]chan *Response),
	}
}

// ensureConnected dials the WebSocket if no live connection exists and
// starts the read loop. Caller must not hold connMu.
func (t *WSTransport) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	t.connMu.Lock()
	defer t.connMu.Unlock()

	if t.conn != nil {
		return t.conn, nil
	}

	header := http.Header{}
	for k, v := range t.headers {
		header.Set(k, v)
	}

	// Snapshots and screenshots make for large frames.
	dialer := websocket.Dialer{
		ReadBufferSize:  1 << 20,
		WriteBufferSize: 64 * 1024,
	}

	conn, _, err := dialer.DialContext(ctx, t.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial websocket %s: %w", t.url, err)
	}
	conn.SetReadLimit(64 << 20)

	t.conn = conn
	go t.readLoop(conn)

	t.logger.Info("MCP websocket connected", "url", t.url)
	return conn, nil
}

// Send writes a JSON-RPC request and waits for the response with the
// matching id, delivered by the read loop.
func (t *WSTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	conn, err := t.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan *Response, 1)
	t.pendingMu.Lock()
	t.pending[req.ID] = ch
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, req.ID)
		t.pendingMu.Unlock()
	}()

	t.writeMu.Lock()
	err = conn.WriteJSON(req)
	t.writeMu.Unlock()
	if err != nil {
		t.dropConn(conn)
		return nil, fmt.Errorf("write websocket request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("websocket connection lost awaiting response %d", req.ID)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Notify writes a JSON-RPC notification. No response is expected.
func (t *WSTransport) Notify(ctx context.Context, notif *Notification) error {
	conn, err := t.ensureConnected(ctx)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	err = conn.WriteJSON(notif)
	t.writeMu.Unlock()
	if err != nil {
		t.dropConn(conn)
		return fmt.Errorf("write websocket notification: %w", err)
	}
	return nil
}

// Close shuts down the connection. Pending sends fail with a
// connection-lost error.
func (t *WSTransport) Close() error {
	t.connMu.Lock()
	conn := t.conn
	t.conn = nil
	t.connMu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	t.failPending()
	return err
}

// readLoop reads messages from the connection and routes responses to
// their waiting senders. Messages without a waiting sender (server
// notifications, stale responses) are logged and dropped. On read
// failure the connection is dropped; the next Send redials.
func (t *WSTransport) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Info("MCP websocket closed")
			} else {
				t.logger.Warn("MCP websocket read error", "error", err)
			}
			t.dropConn(conn)
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Debug("skipping non-JSON websocket message")
			continue
		}

		t.pendingMu.Lock()
		ch, ok := t.pending[resp.ID]
		if ok {
			delete(t.pending, resp.ID)
		}
		t.pendingMu.Unlock()

		if ok {
			ch <- &resp
		} else {
			t.logger.Debug("skipping unmatched MCP message", "id", resp.ID)
		}
	}
}

// dropConn closes and clears the connection if it is still the current
// one, and fails all pending sends.
func (t *WSTransport) dropConn(conn *websocket.Conn) {
	t.connMu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.connMu.Unlock()

	conn.Close()
	t.failPending()
}

// failPending closes all pending response channels so waiting senders
// unblock with a connection-lost error.
func (t *WSTransport) failPending() {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}
