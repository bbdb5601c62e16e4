package main

import (
	"sync/atomic"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/agent"
	"github.com/HolmesDomain/agentic-solaris/internal/buildinfo"
	"github.com/HolmesDomain/agentic-solaris/internal/session"
)

// statsAdapter bridges the controller and governor to the
// [telemetry.StatsSource] interface. Task state is the one value no
// component tracks on its own; runTask updates it around the run.
type statsAdapter struct {
	model string
	ctl   *agent.Controller
	gov   *session.Governor
	state atomic.Value // string
}

func (a *statsAdapter) setState(s string) { a.state.Store(s) }

func (a *statsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *statsAdapter) Version() string       { return buildinfo.Version }
func (a *statsAdapter) Model() string         { return a.model }
func (a *statsAdapter) Turns() int            { return a.ctl.Turns() }
func (a *statsAdapter) PagesCreated() int     { return a.gov.PagesCreated() }

func (a *statsAdapter) TaskState() string {
	if s, ok := a.state.Load().(string); ok {
		return s
	}
	return "idle"
}

func (a *statsAdapter) TokenTotals() (prompt, completion, total int64) {
	t := a.ctl.Usage().Totals()
	return t.Prompt, t.Completion, t.Total
}
