package mailbox

import "fmt"

// Config holds the agent mailbox configuration. It is embedded in the
// top-level Solaris config under the "mailbox" YAML key.
type Config struct {
	// IMAP configures the connection for reading email (verification
	// codes, sign-up confirmations).
	IMAP IMAPConfig `yaml:"imap"`

	// SMTP configures the connection for sending email. Optional;
	// omit to disable task reports.
	SMTP SMTPConfig `yaml:"smtp"`

	// ReportFrom is the From address for outbound reports
	// (e.g., "Solaris <agent@example.com>"). Required when SMTP
	// is configured.
	ReportFrom string `yaml:"report_from"`

	// ReportTo lists recipients for task completion reports.
	ReportTo []string `yaml:"report_to"`
}

// Configured reports whether the mailbox has the minimum required
// IMAP configuration (host and username).
func (c Config) Configured() bool {
	return c.IMAP.Host != "" && c.IMAP.Username != ""
}

// SMTPConfigured reports whether the mailbox has send capability.
func (c Config) SMTPConfigured() bool {
	return c.SMTP.Host != "" && c.SMTP.Username != ""
}

// ApplyDefaults fills zero-value fields with sensible defaults.
// Called by the parent config's applyDefaults method.
func (c *Config) ApplyDefaults() {
	if c.IMAP.Host != "" {
		if c.IMAP.Port == 0 {
			c.IMAP.Port = 993
		}
		// TLS defaults to true. Since bool zero-value is false, we
		// default TLS=true unless the port is 143 (plaintext convention).
		if !c.IMAP.TLS && c.IMAP.Port != 143 {
			c.IMAP.TLS = true
		}
	}

	// SMTP defaults: port 587 with STARTTLS.
	if c.SMTP.Host != "" {
		if c.SMTP.Port == 0 {
			c.SMTP.Port = 587
		}
		if !c.SMTP.StartTLS && c.SMTP.Port != 465 {
			c.SMTP.StartTLS = true
		}
	}
}

// Validate checks that the mailbox configuration is internally
// consistent. Returns an error describing the first problem found.
func (c Config) Validate() error {
	if c.IMAP.Host == "" {
		return fmt.Errorf("mailbox: imap.host is required")
	}
	if c.IMAP.Username == "" {
		return fmt.Errorf("mailbox: imap.username is required")
	}
	if c.IMAP.Port < 1 || c.IMAP.Port > 65535 {
		return fmt.Errorf("mailbox: imap.port %d out of range (1-65535)", c.IMAP.Port)
	}

	// Validate SMTP if configured.
	if c.SMTP.Host != "" {
		if c.SMTP.Username == "" {
			return fmt.Errorf("mailbox: smtp.username is required when smtp.host is set")
		}
		if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
			return fmt.Errorf("mailbox: smtp.port %d out of range (1-65535)", c.SMTP.Port)
		}
		if c.ReportFrom == "" {
			return fmt.Errorf("mailbox: report_from is required when smtp is configured")
		}
	}
	return nil
}

// IMAPConfig holds IMAP server connection parameters.
type IMAPConfig struct {
	// Host is the IMAP server hostname (e.g., "imap.gmail.com").
	Host string `yaml:"host"`

	// Port is the IMAP server port. Default: 993 (IMAPS).
	Port int `yaml:"port"`

	// Username is the IMAP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the IMAP login password. Supports environment variable
	// expansion via the config loader (e.g., ${IMAP_PASSWORD}).
	Password string `yaml:"password"`

	// TLS controls whether to use TLS for the connection. Default: true.
	// Set to false only for port 143 plaintext connections (not recommended).
	TLS bool `yaml:"tls"`
}

// SMTPConfig holds SMTP server connection parameters for outbound email.
type SMTPConfig struct {
	// Host is the SMTP server hostname (e.g., "smtp.gmail.com").
	Host string `yaml:"host"`

	// Port is the SMTP server port. Default: 587 (submission with STARTTLS).
	Port int `yaml:"port"`

	// Username is the SMTP login username (typically the email address).
	Username string `yaml:"username"`

	// Password is the SMTP login password. Supports environment variable
	// expansion via the config loader (e.g., ${SMTP_PASSWORD}).
	Password string `yaml:"password"`

	// StartTLS controls whether to upgrade the connection with STARTTLS.
	// Default: true. Set to false for port 465 (implicit TLS).
	StartTLS bool `yaml:"starttls"`
}
