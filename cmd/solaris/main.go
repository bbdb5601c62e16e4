// Solaris is an autonomous browser agent.
//
// Given a task in plain language, it drives a real browser through a
// tool server (or an in-process Playwright instance), reading pages and
// clicking through them until the task is done, then prints the model's
// closing summary and the token bill. Configuration comes from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	solaris -task "text"            Run one task to completion
//	solaris -check-complete "text"  Ask whether the current page completes the task (exit 0/1)
//	solaris -supervise              Run the configured instances under the supervisor
//	solaris -init [dir]             Write a starter config and persona (default: .)
//	solaris -version                Print version and build information
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/agent"
	"github.com/HolmesDomain/agentic-solaris/internal/artifacts"
	"github.com/HolmesDomain/agentic-solaris/internal/browser"
	"github.com/HolmesDomain/agentic-solaris/internal/buildinfo"
	"github.com/HolmesDomain/agentic-solaris/internal/config"
	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
	"github.com/HolmesDomain/agentic-solaris/internal/llm"
	"github.com/HolmesDomain/agentic-solaris/internal/mailbox"
	"github.com/HolmesDomain/agentic-solaris/internal/mcp"
	"github.com/HolmesDomain/agentic-solaris/internal/persona"
	"github.com/HolmesDomain/agentic-solaris/internal/prompts"
	"github.com/HolmesDomain/agentic-solaris/internal/session"
	"github.com/HolmesDomain/agentic-solaris/internal/supervisor"
	"github.com/HolmesDomain/agentic-solaris/internal/telemetry"
	"github.com/HolmesDomain/agentic-solaris/internal/usage"
)

// errNotComplete is the -check-complete verdict carried out of run as
// an error so main exits non-zero without a special exit-code path.
var errNotComplete = errors.New("task is not complete")

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the solaris command. All OS-level
// dependencies are injected as parameters:
//
//   - ctx controls the lifetime of the process. Cancelling it stops the
//     task loop at the next turn boundary.
//   - stdout receives the final task text and mode output; structured
//     logs go to stderr.
//   - args is os.Args[1:]. We parse these by hand rather than with the
//     flag package, whose package-level globals (flag.CommandLine) make
//     it impossible to call run() concurrently from tests.
//
// run returns nil on success. The caller (main) prints the error and
// exits non-zero.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var (
		configPath string
		task       string
		checkTask  string
		supervise  bool
		doInit     bool
		initDir    string
		version    bool
	)

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-task" && i+1 < len(args):
			task = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-task="):
			task = strings.TrimPrefix(args[i], "-task=")
		case args[i] == "-check-complete" && i+1 < len(args):
			checkTask = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-check-complete="):
			checkTask = strings.TrimPrefix(args[i], "-check-complete=")
		case args[i] == "-config" || args[i] == "-task" || args[i] == "-check-complete":
			// Value-taking flag in final position.
			return fmt.Errorf("flag %s requires a value", args[i])
		case args[i] == "-supervise":
			supervise = true
		case args[i] == "-init":
			doInit = true
		case args[i] == "-version":
			version = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case doInit && !strings.HasPrefix(args[i], "-") && initDir == "":
			initDir = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	// SIGINT/SIGTERM cancel the context; the loop notices at the next
	// turn boundary and exits without abandoning an in-flight call.
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case version:
		return runVersion(stdout)
	case doInit:
		if initDir == "" {
			initDir = "."
		}
		return runInit(stdout, initDir)
	case supervise:
		return runSupervise(ctx, stdout, stderr, configPath)
	case checkTask != "":
		return runCheck(ctx, stdout, stderr, configPath, checkTask)
	case task != "":
		return runTask(ctx, stdout, stderr, configPath, task)
	default:
		return printUsage(stdout)
	}
}

// runVersion prints build metadata.
func runVersion(w io.Writer) error {
	fmt.Fprintln(w, buildinfo.String())
	info := buildinfo.Info()
	// Stable field order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w. It is called when
// solaris is invoked with no arguments, or with -h / --help.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Solaris - Autonomous Browser Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: solaris [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Modes:")
	fmt.Fprintln(w, "  -task \"text\"            Run one task to completion and print the result")
	fmt.Fprintln(w, "  -check-complete \"text\"  Ask whether the current page completes the task (exit 0/1)")
	fmt.Fprintln(w, "  -supervise              Run the configured instances under the supervisor")
	fmt.Fprintln(w, "  -init [dir]             Write a starter config and persona (default: .)")
	fmt.Fprintln(w, "  -version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>          Path to config file (default: auto-discover)")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runTask executes one task end to end: build the pipeline, run the
// loop, print the model's closing text and the token bill, and email
// the report when a recipient is configured.
func runTask(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, task string) error {
	logger, cfg, cfgPath, err := boot(stderr, configPath)
	if err != nil {
		return err
	}
	logger.Info("starting solaris",
		"version", buildinfo.Version,
		"config", cfgPath,
		"model", cfg.Model,
		"gateway", cfg.Gateway.Kind,
	)

	// Wall-clock budget for the whole run. The loop observes it at
	// turn boundaries, so an in-flight call always finishes first.
	if cfg.Agent.DeadlineSec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.Agent.DeadlineSec)*time.Second)
		defer cancel()
	}

	// --- Browser gateway ---
	shots := artifacts.New(cfg.ArtifactsDir)
	gov, err := newGovernor(ctx, cfg, logger, shots)
	if err != nil {
		return err
	}
	defer gov.Close()

	// --- Controller ---
	ctl := newController(cfg, gov, logger)

	// --- Usage journal ---
	if cfg.UsageDB != "" {
		journal, err := usage.Open(cfg.UsageDB)
		if err != nil {
			return fmt.Errorf("open usage journal: %w", err)
		}
		defer journal.Close()
		ctl.SetJournal(journal)
		logger.Info("usage journal open", "path", cfg.UsageDB)
	}

	// --- Mailbox ---
	// IMAP gives the model the verification-code tool; SMTP sends the
	// completion report. Either half works without the other.
	var mail *mailbox.Manager
	if cfg.Mailbox.Configured() {
		mail = mailbox.NewManager(cfg.Mailbox, logger)
		defer mail.Close()
		schema := mailbox.ToolSchema()
		ctl.RegisterLocal(&agent.LocalTool{
			Name:        schema.Name,
			Description: schema.Description,
			Parameters:  schema.InputSchema,
			Handler:     mail.HandleFetchCode,
		})
		logger.Info("mailbox tool enabled", "host", cfg.Mailbox.IMAP.Host)
	}

	// --- Persona ---
	var instructions string
	if cfg.PersonaFile != "" {
		p, err := persona.Load(cfg.PersonaFile)
		if err != nil {
			return err
		}
		instructions = prompts.Persona(p.Prompt())
		logger.Info("persona loaded", "path", cfg.PersonaFile, "facts", len(p.Pairs))
	}

	// --- Telemetry ---
	// The publisher is created unconditionally; events on an unstarted
	// publisher are dropped, which keeps the happy path free of nil
	// checks. Start connects to the broker only when enabled.
	stats := &statsAdapter{model: cfg.Model, ctl: ctl, gov: gov}
	stats.setState("idle")
	pub := telemetry.New(cfg.Telemetry, stats, logger)
	if cfg.Telemetry.Enabled {
		go func() {
			if err := pub.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telemetry publisher failed", "error", err)
			}
		}()
		defer func() {
			// Fresh context: ctx is typically already cancelled here.
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			if err := pub.Stop(stopCtx); err != nil {
				logger.Warn("telemetry shutdown failed", "error", err)
			}
		}()
	}

	// --- Run ---
	stats.setState("running")
	pub.PublishEvent(ctx, telemetry.EventTaskStarted, task, "")

	answer, err := ctl.RunTask(ctx, task, instructions, cfg.Agent.MaxTurns)
	totals := ctl.Usage().Totals()
	if err != nil {
		stats.setState("failed")
		pub.PublishEvent(ctx, telemetry.EventTaskFailed, task, err.Error())
		logger.Error("task failed", "turns", ctl.Turns(), "tokens", totals.Total, "error", err)
		return fmt.Errorf("task failed after %d turns: %w", ctl.Turns(), err)
	}
	stats.setState("completed")
	pub.PublishEvent(ctx, telemetry.EventTaskCompleted, task, answer)

	fmt.Fprintln(stdout, answer)
	fmt.Fprintf(stdout, "\n%d prompt + %d completion = %d tokens over %d turns\n",
		totals.Prompt, totals.Completion, totals.Total, ctl.Turns())

	// Report email is best-effort: a delivery failure costs a log
	// line, never the exit code of a task that already succeeded.
	if mail != nil && cfg.Mailbox.SMTPConfigured() && len(cfg.Mailbox.ReportTo) > 0 {
		subject := "Solaris task report: " + truncate(task, 60)
		body := reportBody(task, answer, totals, ctl.Turns())
		if err := mail.SendReport(ctx, subject, body); err != nil {
			logger.Warn("report email failed", "error", err)
		} else {
			logger.Info("report emailed", "to", cfg.Mailbox.ReportTo)
		}
	}
	return nil
}

// runCheck asks the model once whether the page the browser currently
// shows completes the task. Complete exits 0; anything else, including
// a page the model cannot judge, exits 1.
func runCheck(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, task string) error {
	logger, cfg, cfgPath, err := boot(stderr, configPath)
	if err != nil {
		return err
	}
	logger.Info("checking task completion", "config", cfgPath, "model", cfg.Model)

	gov, err := newGovernor(ctx, cfg, logger, artifacts.New(cfg.ArtifactsDir))
	if err != nil {
		return err
	}
	defer gov.Close()

	ctl := newController(cfg, gov, logger)

	complete, summary := ctl.CheckIfComplete(ctx, task)
	if !complete {
		fmt.Fprintln(stdout, "not complete")
		return errNotComplete
	}
	fmt.Fprintf(stdout, "complete: %s\n", summary)
	return nil
}

// runSupervise runs every configured instance under the supervisor,
// each as a child solaris -task process. Blocks until ctx is cancelled
// or all instances have exited cleanly.
func runSupervise(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger, cfg, cfgPath, err := boot(stderr, configPath)
	if err != nil {
		return err
	}

	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate agent binary: %w", err)
	}
	logger.Info("starting supervisor",
		"config", cfgPath,
		"instances", len(cfg.Supervisor.Instances),
		"binary", binary,
	)

	sup := supervisor.New(supervisor.Config{
		Stagger:   time.Duration(cfg.Supervisor.StaggerSec) * time.Second,
		Cooldown:  time.Duration(cfg.Supervisor.CooldownSec) * time.Second,
		Instances: cfg.Supervisor.Instances,
	}, supervisor.CommandRunner(binary, stdout, stderr), logger)

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("supervisor failed: %w", err)
	}
	logger.Info("supervisor stopped")
	return nil
}

// boot loads and validates configuration and builds the logger at the
// configured level. Logs go to stderr; stdout stays reserved for the
// task result.
func boot(stderr io.Writer, configPath string) (*slog.Logger, *config.Config, string, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, "", fmt.Errorf("config %s: %w", cfgPath, err)
	}

	// Validate guarantees the level parses.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return newLogger(stderr, level), cfg, cfgPath, nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All solaris log output goes through slog; this helper
// standardizes handler configuration across modes.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// loadConfig locates and parses the YAML configuration file. If
// explicit is non-empty, that exact path is used (and must exist).
// Otherwise [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// newGovernor builds the configured gateway, wraps it in the session
// governor, and connects eagerly so a broken backend fails startup
// instead of the first tool call.
func newGovernor(ctx context.Context, cfg *config.Config, logger *slog.Logger, shots *artifacts.Store) (*session.Governor, error) {
	gw, err := newGateway(cfg, logger, shots)
	if err != nil {
		return nil, err
	}

	gov := session.New(gw, session.Config{
		PageLimit:          cfg.Session.PageLimit,
		PagesBeforeRestart: cfg.Session.PagesBeforeRestart,
		IdleTabTimeout:     time.Duration(cfg.Session.IdleTabTimeoutSec) * time.Second,
		FilteredTools:      cfg.Session.FilteredTools,
	}, logger)

	if err := gov.Connect(ctx); err != nil {
		gov.Close()
		return nil, fmt.Errorf("connect to browser gateway: %w", err)
	}
	return gov, nil
}

// newGateway maps the configured gateway kind to a backend. Remote
// kinds differ only in transport; local skips MCP entirely and drives
// Playwright in-process.
func newGateway(cfg *config.Config, logger *slog.Logger, shots *artifacts.Store) (gateway.Gateway, error) {
	gwCfg := cfg.Gateway
	switch gwCfg.Kind {
	case "stdio":
		factory := func() *mcp.Client {
			return mcp.NewClient("browser", mcp.NewStdioTransport(mcp.StdioConfig{
				Command: gwCfg.Command[0],
				Args:    gwCfg.Command[1:],
				Env:     gwCfg.Env,
				Logger:  logger,
			}), logger)
		}
		return gateway.NewRemote(factory, gateway.WithLogger(logger), gateway.WithArtifacts(shots)), nil
	case "http":
		factory := func() *mcp.Client {
			return mcp.NewClient("browser", mcp.NewHTTPTransport(mcp.HTTPConfig{
				URL:     gwCfg.URL,
				Headers: gwCfg.Headers,
				Logger:  logger,
			}), logger)
		}
		return gateway.NewRemote(factory, gateway.WithLogger(logger), gateway.WithArtifacts(shots)), nil
	case "websocket":
		factory := func() *mcp.Client {
			return mcp.NewClient("browser", mcp.NewWSTransport(mcp.WSConfig{
				URL:     gwCfg.URL,
				Headers: gwCfg.Headers,
				Logger:  logger,
			}), logger)
		}
		return gateway.NewRemote(factory, gateway.WithLogger(logger), gateway.WithArtifacts(shots)), nil
	case "local":
		b := browser.New(browser.Config{Headless: gwCfg.Headless}, logger)
		b.SetArtifacts(shots)
		return b, nil
	default:
		// Validate rejects unknown kinds; this guards direct callers.
		return nil, fmt.Errorf("gateway kind %q is not one of stdio, http, websocket, local", gwCfg.Kind)
	}
}

// newController wires the retrying model client into a task controller.
func newController(cfg *config.Config, gov *session.Governor, logger *slog.Logger) *agent.Controller {
	client := llm.NewRetryClient(
		llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, logger),
		cfg.Chat.RetryAttempts,
		time.Duration(cfg.Chat.RetryBackoffSec)*time.Second,
		logger,
	)
	return agent.New(client, gov, agent.Config{
		Model:           cfg.Model,
		TaskLabel:       cfg.Telemetry.Instance,
		RetentionWindow: cfg.Agent.RetentionWindow,
	}, logger)
}

// reportBody renders the emailed task report as markdown.
func reportBody(task, answer string, totals usage.Totals, turns int) string {
	return fmt.Sprintf(`## Task

%s

## Result

%s

## Usage

%d prompt + %d completion = %d tokens over %d turns
`, task, answer, totals.Prompt, totals.Completion, totals.Total, turns)
}

// truncate shortens s to at most n characters for subject lines.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
