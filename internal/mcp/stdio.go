package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"
)

// stopGrace is how long a subprocess gets to exit on its own after its
// stdin closes before it is killed.
const stopGrace = 5 * time.Second

// StdioConfig configures a subprocess MCP transport. Messages are
// newline-delimited JSON-RPC on the child's stdin/stdout.
type StdioConfig struct {
	// Command is the executable, "npx" for the Playwright server.
	Command string

	// Args follow the executable on its command line.
	Args []string

	// Env entries ("KEY=VALUE") are added on top of this process's
	// environment.
	Env []string

	Logger *slog.Logger
}

// proc bundles one running subprocess with its protocol streams.
type proc struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser
	out   *bufio.Reader
}

// StdioTransport drives an MCP server subprocess. The child starts
// lazily on the first message and lives until Close; request contexts
// cancel reads but never the process itself. Browser servers chatter
// on stderr, so that stream is logged line by line and never parsed.
type StdioTransport struct {
	cfg    StdioConfig
	logger *slog.Logger

	mu sync.Mutex // serializes the stdio conversation
	p  *proc
}

// NewStdioTransport creates a stdio transport. No subprocess is
// started until the first Send or Notify.
func NewStdioTransport(cfg StdioConfig) *StdioTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &StdioTransport{cfg: cfg, logger: logger}
}

// Send writes one request and reads lines until the response with the
// matching ID arrives. Callers race the read against ctx; a cancelled
// context kills the subprocess, which is the only way to unblock a
// pipe read.
func (t *StdioTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeLocked(ctx, req); err != nil {
		return nil, err
	}

	type readResult struct {
		line []byte
		err  error
	}
	for {
		ch := make(chan readResult, 1)
		go func(r *bufio.Reader) {
			line, err := r.ReadBytes('\n')
			ch <- readResult{line, err}
		}(t.p.out)

		select {
		case <-ctx.Done():
			t.teardownLocked()
			return nil, ctx.Err()
		case got := <-ch:
			if got.err != nil {
				t.teardownLocked()
				return nil, fmt.Errorf("read from subprocess: %w", got.err)
			}
			var resp Response
			if err := json.Unmarshal(got.line, &resp); err != nil {
				t.logger.Debug("ignoring non-JSON subprocess output", "line", string(got.line))
				continue
			}
			if resp.ID != req.ID {
				// Server-initiated message or a response to a request
				// that already timed out.
				t.logger.Debug("ignoring unmatched message", "id", resp.ID)
				continue
			}
			return &resp, nil
		}
	}
}

// Notify writes one notification; nothing comes back for it.
func (t *StdioTransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.writeLocked(ctx, notif)
}

// Close ends the subprocess: stdin closes first as the polite signal,
// and a kill follows if the child outstays stopGrace.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.p == nil || t.p.cmd.Process == nil {
		return nil
	}
	pid := t.p.cmd.Process.Pid
	t.logger.Info("stopping mcp subprocess", "pid", pid)
	t.p.stdin.Close()

	done := make(chan error, 1)
	go func(c *exec.Cmd) { done <- c.Wait() }(t.p.cmd)

	var err error
	select {
	case err = <-done:
	case <-time.After(stopGrace):
		t.logger.Warn("mcp subprocess ignored stdin close, killing", "pid", pid)
		_ = t.p.cmd.Process.Kill()
		<-done
	}
	t.p = nil
	return err
}

// writeLocked starts the subprocess if needed and writes one message
// plus the newline delimiter. Callers hold t.mu.
func (t *StdioTransport) writeLocked(ctx context.Context, msg any) error {
	if err := t.startLocked(ctx); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if _, err := t.p.stdin.Write(append(data, '\n')); err != nil {
		t.teardownLocked()
		return fmt.Errorf("write to subprocess: %w", err)
	}
	return nil
}

// startLocked launches the subprocess when none is running. Callers
// hold t.mu.
func (t *StdioTransport) startLocked(_ context.Context) error {
	if t.p != nil && t.p.cmd.ProcessState == nil {
		return nil
	}

	t.logger.Info("starting mcp subprocess", "command", t.cfg.Command, "args", t.cfg.Args)
	cmd := exec.Command(t.cfg.Command, t.cfg.Args...)
	cmd.Env = append(os.Environ(), t.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start %s: %w", t.cfg.Command, err)
	}

	t.p = &proc{
		cmd:   cmd,
		stdin: stdin,
		// Accessibility snapshots of busy pages arrive as one long line.
		out: bufio.NewReaderSize(stdout, 1<<20),
	}
	go t.logStderr(stderr)

	t.logger.Info("mcp subprocess running", "pid", cmd.Process.Pid)
	return nil
}

// logStderr forwards the child's stderr to the debug log.
func (t *StdioTransport) logStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		t.logger.Debug("mcp subprocess stderr", "line", sc.Text())
	}
}

// teardownLocked kills a broken subprocess so the next message starts
// a fresh one. Callers hold t.mu.
func (t *StdioTransport) teardownLocked() {
	if t.p == nil {
		return
	}
	t.p.stdin.Close()
	if t.p.cmd.Process != nil {
		_ = t.p.cmd.Process.Kill()
		_ = t.p.cmd.Wait()
	}
	t.p = nil
}
