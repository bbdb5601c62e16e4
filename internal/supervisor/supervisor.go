// Package supervisor runs several agent instances as independent child
// processes. Instances share no memory and communicate nothing; the
// supervisor only paces their startup and restarts the ones that crash.
//
// Launches are staggered by a fixed delay so the instances' browser
// startups do not spike the machine at the same moment. A child that
// exits non-zero is restarted after a fixed cool-down; a child that
// exits cleanly stays down. Context cancellation stops everything.
package supervisor

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/config"
)

// RunFunc runs one agent instance to completion. A nil return is a
// clean exit; an error is a crash. The production RunFunc execs the
// agent binary, and tests substitute their own.
type RunFunc func(ctx context.Context, inst config.InstanceConfig) error

// Config holds the supervisor's pacing knobs and instance list.
type Config struct {
	// Stagger is the fixed delay between instance launches.
	Stagger time.Duration

	// Cooldown is the fixed delay before restarting a crashed instance.
	Cooldown time.Duration

	Instances []config.InstanceConfig
}

// Supervisor spawns and monitors agent instances.
type Supervisor struct {
	cfg    Config
	run    RunFunc
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates a Supervisor that starts instances through run.
func New(cfg Config, run RunFunc, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:    cfg,
		run:    run,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Run launches every instance with the configured stagger, then blocks
// until all of them are down. It returns ctx.Err() when the run ended
// by cancellation, nil when every instance exited cleanly.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.cfg.Instances) == 0 {
		s.logger.Warn("no instances configured, nothing to supervise")
		return nil
	}

	var wg sync.WaitGroup
	for i, inst := range s.cfg.Instances {
		if i > 0 && s.cfg.Stagger > 0 {
			if !s.sleep(ctx, s.cfg.Stagger) {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		s.logger.Info("starting instance", "instance", inst.Name, "position", i+1, "of", len(s.cfg.Instances))
		wg.Add(1)
		go func(inst config.InstanceConfig) {
			defer wg.Done()
			s.monitor(ctx, inst)
		}(inst)
	}

	wg.Wait()
	return ctx.Err()
}

// monitor runs one instance until it exits cleanly or the context
// ends. Crashes are restarted after the cool-down; the supervisor
// never gives up on a crashing instance, since transient failures
// (expired session, wedged browser) are the common case.
func (s *Supervisor) monitor(ctx context.Context, inst config.InstanceConfig) {
	logger := s.logger.With("instance", inst.Name)

	for {
		start := time.Now()
		err := s.run(ctx, inst)

		if ctx.Err() != nil {
			// Shutdown, not a crash; the child was torn down with us.
			logger.Info("instance stopped", "uptime", time.Since(start).Round(time.Second))
			return
		}
		if err == nil {
			logger.Info("instance exited cleanly, not restarting",
				"uptime", time.Since(start).Round(time.Second))
			return
		}

		logger.Warn("instance crashed, restarting after cool-down",
			"error", err,
			"uptime", time.Since(start).Round(time.Second),
			"cooldown", s.cfg.Cooldown,
		)
		if !s.sleep(ctx, s.cfg.Cooldown) {
			return
		}
	}
}

// CommandRunner returns a RunFunc that execs the agent binary with
// per-instance flags. Child stdout/stderr pass straight through; the
// supervisor adds no framing.
func CommandRunner(binary string, stdout, stderr io.Writer) RunFunc {
	return func(ctx context.Context, inst config.InstanceConfig) error {
		args := []string{"-task", inst.Task}
		if inst.Config != "" {
			args = append(args, "-config", inst.Config)
		}
		cmd := exec.CommandContext(ctx, binary, args...)
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		return cmd.Run()
	}
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
