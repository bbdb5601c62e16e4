// Package mailbox gives the agent an email side channel. Sites gate
// logins and checkouts behind emailed one-time codes, so the model
// gets a local tool that pulls verification codes from an IMAP inbox;
// finished tasks can additionally be reported by SMTP.
package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Manager is a single-account IMAP client with automatic reconnection
// and mutex-serialized access, plus the SMTP report sender. All public
// methods are goroutine-safe.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	imap *imapclient.Client
}

// NewManager creates a manager for the given account. The IMAP
// connection is established lazily on first use.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Connect establishes the IMAP connection and authenticates. Callers
// normally rely on lazy connection; this exists for eager startup
// checks.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectLocked(ctx)
}

// connectLocked dials and logs in. Caller must hold m.mu.
func (m *Manager) connectLocked(ctx context.Context) error {
	if m.imap != nil {
		_ = m.imap.Close()
		m.imap = nil
	}

	addr := net.JoinHostPort(m.cfg.IMAP.Host, fmt.Sprintf("%d", m.cfg.IMAP.Port))

	var opts imapclient.Options
	if m.cfg.IMAP.TLS {
		opts.TLSConfig = &tls.Config{ServerName: m.cfg.IMAP.Host}
	}

	m.logger.Debug("connecting to IMAP server",
		"host", m.cfg.IMAP.Host, "port", m.cfg.IMAP.Port, "tls", m.cfg.IMAP.TLS)

	var client *imapclient.Client
	var err error
	if m.cfg.IMAP.TLS {
		client, err = imapclient.DialTLS(addr, &opts)
	} else {
		client, err = imapclient.DialInsecure(addr, &opts)
	}
	if err != nil {
		return fmt.Errorf("dial IMAP %s: %w", addr, err)
	}

	if err := client.Login(m.cfg.IMAP.Username, m.cfg.IMAP.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("login as %s: %w", m.cfg.IMAP.Username, err)
	}

	m.imap = client
	m.logger.Info("IMAP connected", "host", m.cfg.IMAP.Host, "user", m.cfg.IMAP.Username)
	return nil
}

// ensureConnected reconnects when the existing connection has gone
// stale. Caller must hold m.mu.
func (m *Manager) ensureConnected(ctx context.Context) error {
	if m.imap != nil {
		if err := m.imap.Noop().Wait(); err == nil {
			return nil
		}
		m.logger.Debug("IMAP connection stale, reconnecting", "host", m.cfg.IMAP.Host)
	}
	return m.connectLocked(ctx)
}

// Ping checks that the IMAP connection is alive, reconnecting if
// needed.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureConnected(ctx)
}

// Close logs out and drops the IMAP connection.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.imap == nil {
		return nil
	}
	err := m.imap.Close()
	m.imap = nil
	return err
}

// selectInbox selects INBOX. Caller must hold m.mu.
func (m *Manager) selectInbox() (*imap.SelectData, error) {
	data, err := m.imap.Select("INBOX", nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("select INBOX: %w", err)
	}
	return data, nil
}
