package mailbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"
)

// smtpDialTimeout is the maximum time to establish an SMTP connection.
const smtpDialTimeout = 30 * time.Second

// SendReport composes and delivers a task report to the configured
// recipients. The markdown body is rendered to both plain text and
// HTML. Returns an error if SMTP is not configured.
func (m *Manager) SendReport(ctx context.Context, subject, markdown string) error {
	if !m.cfg.SMTPConfigured() {
		return fmt.Errorf("mailbox: smtp is not configured")
	}
	if len(m.cfg.ReportTo) == 0 {
		return fmt.Errorf("mailbox: no report recipients configured")
	}

	msg, err := ComposeReport(m.cfg.ReportFrom, m.cfg.ReportTo, subject, markdown)
	if err != nil {
		return fmt.Errorf("compose report: %w", err)
	}

	from := extractAddress(m.cfg.ReportFrom)
	recipients := collectRecipients(m.cfg.ReportTo)
	if err := SendMail(ctx, m.cfg.SMTP, from, recipients, msg); err != nil {
		return err
	}

	m.logger.Info("report sent",
		"subject", subject,
		"recipients", len(recipients))
	return nil
}

// SendMail connects to the SMTP server, authenticates, and delivers the
// given message. Each call opens and closes its own connection. The msg
// parameter should be a complete RFC 5322 message (as returned by
// ComposeReport). The context controls the overall deadline for the
// entire send operation.
func SendMail(ctx context.Context, cfg SMTPConfig, from string, recipients []string, msg []byte) error {
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	// Use context deadline for the dial timeout, falling back to the
	// package default.
	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}

	dialer := &net.Dialer{Timeout: dialTimeout}

	var client *smtp.Client
	var err error

	if !cfg.StartTLS {
		// Implicit TLS (port 465): connect over TLS from the start.
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		conn, dialErr := tls.DialWithDialer(dialer, "tcp", addr, tlsCfg)
		if dialErr != nil {
			return fmt.Errorf("dial SMTPS %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	} else {
		// STARTTLS (port 587): connect plain, then upgrade.
		conn, dialErr := dialer.DialContext(ctx, "tcp", addr)
		if dialErr != nil {
			return fmt.Errorf("dial SMTP %s: %w", addr, dialErr)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("create SMTP client on %s: %w", addr, err)
		}
	}
	defer client.Close()

	// EHLO.
	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}

	// Upgrade to TLS if using STARTTLS.
	if cfg.StartTLS {
		tlsCfg := &tls.Config{ServerName: cfg.Host}
		if err := client.StartTLS(tlsCfg); err != nil {
			return fmt.Errorf("STARTTLS: %w", err)
		}
	}

	// Authenticate if credentials are provided.
	if cfg.Username != "" && cfg.Password != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	// Set the sender.
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}

	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}

	// Write the message body.
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}

	return client.Quit()
}

// extractAddress extracts the bare email address from a string that
// may be in "Name <addr>" or just "addr" format.
func extractAddress(s string) string {
	if idx := len(s) - 1; idx > 0 && s[idx] == '>' {
		if start := strings.LastIndexByte(s, '<'); start >= 0 {
			return s[start+1 : idx]
		}
	}
	return s
}

// collectRecipients gathers unique bare email addresses for SMTP
// RCPT TO commands.
func collectRecipients(to []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, addr := range to {
		bare := extractAddress(addr)
		if bare != "" && !seen[bare] {
			seen[bare] = true
			result = append(result, bare)
		}
	}
	return result
}
