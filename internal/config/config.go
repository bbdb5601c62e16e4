// Package config handles Solaris configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/HolmesDomain/agentic-solaris/internal/mailbox"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/solaris/config.yaml, /etc/solaris/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "solaris", "config.yaml"))
	}

	paths = append(paths, "/etc/solaris/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Solaris configuration.
type Config struct {
	Model        string           `yaml:"model"`
	OpenAI       OpenAIConfig     `yaml:"openai"`
	Agent        AgentConfig      `yaml:"agent"`
	Session      SessionConfig    `yaml:"session"`
	Chat         ChatConfig       `yaml:"chat"`
	Gateway      GatewayConfig    `yaml:"gateway"`
	Mailbox      mailbox.Config   `yaml:"mailbox"`
	Telemetry    TelemetryConfig  `yaml:"telemetry"`
	Supervisor   SupervisorConfig `yaml:"supervisor"`
	ArtifactsDir string           `yaml:"artifacts_dir"`
	UsageDB      string           `yaml:"usage_db"`
	PersonaFile  string           `yaml:"persona_file"`
	LogLevel     string           `yaml:"log_level"`
}

// OpenAIConfig defines OpenAI-compatible API settings. BaseURL may point
// at any endpoint that speaks the chat completions protocol.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// AgentConfig defines task loop settings.
type AgentConfig struct {
	// MaxTurns caps assistant turns per task. A task that is still
	// calling tools on the last turn fails rather than completing.
	MaxTurns int `yaml:"max_turns"`
	// RetentionWindow is how many recent assistant turns to keep verbatim
	// before older middle conversation is collapsed into a placeholder.
	RetentionWindow int `yaml:"retention_window"`
	// DeadlineSec is a wall-clock limit per task. 0 means no deadline.
	DeadlineSec int `yaml:"deadline_sec"`
}

// SessionConfig defines browser session hygiene limits.
type SessionConfig struct {
	// PageLimit caps concurrently open tabs. 0 means unlimited.
	PageLimit int `yaml:"page_limit"`
	// PagesBeforeRestart restarts the browser backend after this many
	// page creations. 0 means never.
	PagesBeforeRestart int `yaml:"pages_before_restart"`
	// IdleTabTimeoutSec closes tabs untouched for this long. 0 disables
	// the idle sweep.
	IdleTabTimeoutSec int `yaml:"idle_tab_timeout_sec"`
	// FilteredTools lists tool names to hide from the model.
	FilteredTools []string `yaml:"filtered_tools"`
}

// ChatConfig defines model call retry behavior.
type ChatConfig struct {
	RetryAttempts   int `yaml:"retry_attempts"`
	RetryBackoffSec int `yaml:"retry_backoff_sec"`
}

// GatewayConfig defines how to reach the browser tool server.
type GatewayConfig struct {
	// Kind selects the transport: stdio, http, websocket, or local.
	// local runs an in-process Playwright backend instead of MCP.
	Kind string `yaml:"kind"`
	// Command launches the stdio server (argv form, kind=stdio).
	Command []string `yaml:"command"`
	// Env is extra environment for the stdio subprocess (KEY=VALUE).
	Env []string `yaml:"env"`
	// URL is the server endpoint (kind=http or websocket).
	URL string `yaml:"url"`
	// Headers are sent with every request (kind=http or websocket).
	Headers map[string]string `yaml:"headers"`
	// Headless controls the local browser backend (kind=local).
	Headless bool `yaml:"headless"`
}

// TelemetryConfig defines MQTT status publishing.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"` // e.g., tcp://localhost:1883
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Instance names this agent in topic paths (solaris/<instance>/...).
	// Empty defaults to the machine hostname.
	Instance           string `yaml:"instance"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// SupervisorConfig defines multi-instance supervision settings.
type SupervisorConfig struct {
	// StaggerSec spaces out instance launches.
	StaggerSec int `yaml:"stagger_sec"`
	// CooldownSec delays restart after an instance exits.
	CooldownSec int              `yaml:"cooldown_sec"`
	Instances   []InstanceConfig `yaml:"instances"`
}

// InstanceConfig describes one supervised agent instance.
type InstanceConfig struct {
	// Name identifies the instance in logs and telemetry topics. Required.
	Name string `yaml:"name"`
	// Task is the task text given to the instance.
	Task string `yaml:"task"`
	// Config optionally points at a per-instance config file. Empty
	// means inherit the supervisor's config.
	Config string `yaml:"config"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Model:    "gpt-4o",
		LogLevel: "info",
		Agent: AgentConfig{
			MaxTurns:        40,
			RetentionWindow: 8,
		},
		Session: SessionConfig{
			PageLimit:          4,
			PagesBeforeRestart: 40,
			IdleTabTimeoutSec:  300,
		},
		Chat: ChatConfig{
			RetryAttempts:   5,
			RetryBackoffSec: 1,
		},
		Gateway: GatewayConfig{
			Kind:     "stdio",
			Command:  []string{"npx", "@playwright/mcp@latest"},
			Headless: true,
		},
		Telemetry: TelemetryConfig{
			PublishIntervalSec: 60,
		},
		Supervisor: SupervisorConfig{
			StaggerSec:  15,
			CooldownSec: 60,
		},
		ArtifactsDir: "artifacts",
	}
}

// applyDefaults fills zero-value fields that Default cannot pre-seed
// (nested sections the user partially specified).
func (c *Config) applyDefaults() {
	c.Mailbox.ApplyDefaults()
	if c.Telemetry.Instance == "" {
		// The hostname distinguishes agents in a fleet without any
		// per-machine configuration.
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Telemetry.Instance = host
		} else {
			c.Telemetry.Instance = "solaris"
		}
	}
	if c.Telemetry.PublishIntervalSec == 0 {
		c.Telemetry.PublishIntervalSec = 60
	}
}

// Validate checks that the configuration is internally consistent.
// Returns an error describing the first problem found.
func (c *Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Model == "" {
		return fmt.Errorf("model must not be empty")
	}
	if c.Agent.MaxTurns < 1 {
		return fmt.Errorf("agent.max_turns must be at least 1, got %d", c.Agent.MaxTurns)
	}
	if c.Agent.RetentionWindow < 1 {
		return fmt.Errorf("agent.retention_window must be at least 1, got %d", c.Agent.RetentionWindow)
	}
	if c.Session.PageLimit < 0 {
		return fmt.Errorf("session.page_limit must not be negative, got %d", c.Session.PageLimit)
	}
	if c.Session.PagesBeforeRestart < 0 {
		return fmt.Errorf("session.pages_before_restart must not be negative, got %d", c.Session.PagesBeforeRestart)
	}
	if c.Session.IdleTabTimeoutSec < 0 {
		return fmt.Errorf("session.idle_tab_timeout_sec must not be negative, got %d", c.Session.IdleTabTimeoutSec)
	}
	if c.Chat.RetryAttempts < 1 {
		return fmt.Errorf("chat.retry_attempts must be at least 1, got %d", c.Chat.RetryAttempts)
	}
	if c.Chat.RetryBackoffSec < 0 {
		return fmt.Errorf("chat.retry_backoff_sec must not be negative, got %d", c.Chat.RetryBackoffSec)
	}

	switch c.Gateway.Kind {
	case "stdio":
		if len(c.Gateway.Command) == 0 {
			return fmt.Errorf("gateway.command is required when gateway.kind is stdio")
		}
	case "http", "websocket":
		if c.Gateway.URL == "" {
			return fmt.Errorf("gateway.url is required when gateway.kind is %s", c.Gateway.Kind)
		}
	case "local":
		// No required fields.
	default:
		return fmt.Errorf("gateway.kind %q is not one of stdio, http, websocket, local", c.Gateway.Kind)
	}

	if c.Telemetry.Enabled && c.Telemetry.Broker == "" {
		return fmt.Errorf("telemetry.broker is required when telemetry is enabled")
	}

	if c.Mailbox.Configured() {
		if err := c.Mailbox.Validate(); err != nil {
			return err
		}
	}

	names := make(map[string]bool, len(c.Supervisor.Instances))
	for i, inst := range c.Supervisor.Instances {
		if inst.Name == "" {
			return fmt.Errorf("supervisor.instances[%d].name must not be empty", i)
		}
		if names[inst.Name] {
			return fmt.Errorf("supervisor.instances[%d].name %q is a duplicate", i, inst.Name)
		}
		names[inst.Name] = true
		if inst.Task == "" {
			return fmt.Errorf("supervisor.instances[%d].task must not be empty", i)
		}
	}

	return nil
}
