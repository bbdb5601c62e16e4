// Package session enforces browser hygiene around the tool gateway.
//
// A model-driven agent cannot be trusted to manage its own tabs: left
// alone it opens pages and never closes them, and a browser session
// that lives for hours accumulates state until it degrades. The
// Governor wraps every tool call with the enforcement the model won't
// do itself: idle tabs get swept, tab creation is refused at the
// ceiling, overflow is evicted, and the whole backend is restarted
// after enough page creations.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
)

// evictionSettle is the pause after each forced tab closure, letting
// the browser finish renumbering before the next listing.
const evictionSettle = 500 * time.Millisecond

// Config holds the governor's limits. Zero values disable each one.
type Config struct {
	// PageLimit caps concurrently open tabs. 0 = unlimited.
	PageLimit int

	// PagesBeforeRestart restarts the backend after this many
	// successful page creations. 0 = never.
	PagesBeforeRestart int

	// IdleTabTimeout closes inactive tabs untouched for this long.
	// 0 disables the idle sweep.
	IdleTabTimeout time.Duration

	// FilteredTools are tool names hidden from ListTools (arbitrary
	// code execution tools, typically).
	FilteredTools []string
}

// Governor wraps a Gateway with tab and session lifecycle enforcement.
// All browser mutations must go through it; bypassing it breaks the
// activity bookkeeping the limits depend on.
type Governor struct {
	gw       gateway.Gateway
	cfg      Config
	logger   *slog.Logger
	filtered map[string]bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex
	// lastActivity is keyed by tab URL. Indices renumber on every
	// close and titles change on navigation; the URL is the only
	// property of a tab that survives a listing refresh. Tabs sharing
	// a URL share a stamp, which errs toward keeping tabs alive.
	lastActivity map[string]time.Time
	pagesCreated int
}

// New creates a Governor over the given gateway.
func New(gw gateway.Gateway, cfg Config, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = slog.Default()
	}
	filtered := make(map[string]bool, len(cfg.FilteredTools))
	for _, name := range cfg.FilteredTools {
		filtered[name] = true
	}
	return &Governor{
		gw:           gw,
		cfg:          cfg,
		logger:       logger,
		filtered:     filtered,
		now:          time.Now,
		sleep:        sleepCtx,
		lastActivity: make(map[string]time.Time),
	}
}

// Connect passes through to the gateway.
func (g *Governor) Connect(ctx context.Context) error {
	return g.gw.Connect(ctx)
}

// Close passes through to the gateway.
func (g *Governor) Close() error {
	return g.gw.Close()
}

// ListTools returns the gateway's tools minus the configured filter.
func (g *Governor) ListTools(ctx context.Context) ([]gateway.ToolSchema, error) {
	schemas, err := g.gw.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	if len(g.filtered) == 0 {
		return schemas, nil
	}
	kept := make([]gateway.ToolSchema, 0, len(schemas))
	for _, s := range schemas {
		if g.filtered[s.Name] {
			continue
		}
		kept = append(kept, s)
	}
	return kept, nil
}

// PagesCreated returns the page creations counted since the last
// backend restart.
func (g *Governor) PagesCreated() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pagesCreated
}

// Invoke runs one tool call with session hygiene around it: an idle
// tab may be swept first, tab-creating calls are refused at the
// ceiling, overflow tabs are evicted afterward, and the backend is
// restarted once enough pages have been created.
//
// The error return carries transport-level failures only; a refused
// or failed call comes back as a ToolResult with Failed set.
func (g *Governor) Invoke(ctx context.Context, name string, args map[string]any) (*gateway.ToolResult, error) {
	g.sweepIdleTab(ctx)

	creating, refusal, err := g.admit(ctx, name)
	if err != nil {
		return nil, err
	}
	if refusal != nil {
		return refusal, nil
	}

	res, err := g.gw.Invoke(ctx, name, args)
	if err != nil {
		return nil, err
	}

	g.stampAndEnforce(ctx)

	if creating && !res.Failed {
		g.recordPageCreation(ctx)
	}
	return res, nil
}

// Tabs fetches the live tab listing and attaches activity stamps.
// A tab seen for the first time is stamped now; stamps for URLs no
// longer open are dropped.
func (g *Governor) Tabs(ctx context.Context) ([]Tab, error) {
	res, err := g.gw.Invoke(ctx, gateway.ToolTabList, nil)
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}
	if res.Failed {
		return nil, fmt.Errorf("list tabs: %s", res.Text())
	}
	tabs := ParseTabs(res.Text())

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	open := make(map[string]bool, len(tabs))
	for i := range tabs {
		url := tabs[i].URL
		open[url] = true
		if _, seen := g.lastActivity[url]; !seen {
			g.lastActivity[url] = now
		}
		tabs[i].LastActivity = g.lastActivity[url]
	}
	for url := range g.lastActivity {
		if !open[url] {
			delete(g.lastActivity, url)
		}
	}
	return tabs, nil
}

// touch stamps a URL's activity to now.
func (g *Governor) touch(url string) {
	g.mu.Lock()
	g.lastActivity[url] = g.now()
	g.mu.Unlock()
}

// sweepIdleTab closes at most one idle tab per call. Closing a tab
// renumbers every index after it, so closing more than one per sweep
// risks closing the wrong tab; the next Invoke sweeps again for any
// still-idle remainder. The active tab is never a candidate.
func (g *Governor) sweepIdleTab(ctx context.Context) {
	if g.cfg.IdleTabTimeout <= 0 {
		return
	}
	tabs, err := g.Tabs(ctx)
	if err != nil {
		g.logger.Debug("idle sweep skipped", "error", err)
		return
	}

	now := g.now()
	for _, t := range tabs {
		if t.Active {
			g.touch(t.URL)
		}
	}
	for _, t := range tabs {
		if t.Active {
			continue
		}
		idle := now.Sub(t.LastActivity)
		if idle <= g.cfg.IdleTabTimeout {
			continue
		}
		g.logger.Info("closing idle tab",
			"index", t.Index,
			"url", t.URL,
			"idle", idle.Round(time.Second),
		)
		g.closeTab(ctx, t.Index)
		return
	}
}

// admit decides whether the call may proceed, and whether it counts as
// a page creation. Tab creation means an explicit tab-open, or a
// navigation when no tabs exist yet (the backend opens the first tab
// implicitly); a navigation in an existing tab is never a creation.
func (g *Governor) admit(ctx context.Context, name string) (creating bool, refusal *gateway.ToolResult, err error) {
	isNew := name == gateway.ToolTabNew
	isNav := name == gateway.ToolNavigate
	if !isNew && !isNav {
		return false, nil, nil
	}

	needCount := (isNew && g.cfg.PageLimit > 0) ||
		(isNav && (g.cfg.PageLimit > 0 || g.cfg.PagesBeforeRestart > 0))
	if !needCount {
		return isNew, nil, nil
	}

	tabs, err := g.Tabs(ctx)
	if err != nil {
		return false, nil, err
	}

	creating = isNew || len(tabs) == 0
	if creating && g.cfg.PageLimit > 0 && len(tabs) >= g.cfg.PageLimit {
		g.logger.Warn("refusing tab-creating call at page limit",
			"tool", name,
			"open", len(tabs),
			"limit", g.cfg.PageLimit,
		)
		return creating, gateway.Failuref(
			"tab limit reached: %d tabs are open (limit %d); close one with %s before opening another",
			len(tabs), g.cfg.PageLimit, gateway.ToolTabClose,
		), nil
	}
	return creating, nil, nil
}

// stampAndEnforce re-reads the tab set after an execution, stamps the
// now-active tab (a click can activate a different tab as a side
// effect), and evicts overflow beyond the page limit. Overflow happens
// despite admission control: page scripts open tabs on their own via
// target="_blank" and window.open, which never pass through Invoke.
func (g *Governor) stampAndEnforce(ctx context.Context) {
	if g.cfg.IdleTabTimeout <= 0 && g.cfg.PageLimit <= 0 {
		return
	}
	tabs, err := g.Tabs(ctx)
	if err != nil {
		g.logger.Debug("activity stamping skipped", "error", err)
		return
	}
	for _, t := range tabs {
		if t.Active {
			g.touch(t.URL)
		}
	}
	if g.cfg.PageLimit > 0 && len(tabs) > g.cfg.PageLimit {
		g.evictOverflow(ctx)
	}
}

// evictOverflow closes inactive tabs, oldest activity first, until the
// count is back under the limit. The listing is re-fetched before
// every close because each close renumbers the indices after it, and
// a short pause follows each close so the browser settles before the
// next read.
func (g *Governor) evictOverflow(ctx context.Context) {
	lastCount := -1
	for {
		tabs, err := g.Tabs(ctx)
		if err != nil {
			g.logger.Warn("overflow eviction aborted", "error", err)
			return
		}
		if len(tabs) <= g.cfg.PageLimit {
			return
		}
		if lastCount >= 0 && len(tabs) >= lastCount {
			g.logger.Warn("tab count not dropping during eviction, giving up",
				"open", len(tabs), "limit", g.cfg.PageLimit)
			return
		}
		lastCount = len(tabs)

		victim := oldestInactive(tabs)
		if victim == nil {
			g.logger.Warn("tab overflow but every tab is active",
				"open", len(tabs), "limit", g.cfg.PageLimit)
			return
		}
		g.logger.Info("closing overflow tab",
			"index", victim.Index,
			"url", victim.URL,
			"open", len(tabs),
			"limit", g.cfg.PageLimit,
		)
		g.closeTab(ctx, victim.Index)
		if err := g.sleep(ctx, evictionSettle); err != nil {
			return
		}
	}
}

// oldestInactive picks the inactive tab with the oldest activity
// stamp. Returns nil when every tab is active.
func oldestInactive(tabs []Tab) *Tab {
	var oldest *Tab
	for i := range tabs {
		t := &tabs[i]
		if t.Active {
			continue
		}
		if oldest == nil || t.LastActivity.Before(oldest.LastActivity) {
			oldest = t
		}
	}
	return oldest
}

// closeTab closes one tab by its current index. Failures are logged,
// not returned: enforcement is best-effort and the next Invoke gets
// another chance.
func (g *Governor) closeTab(ctx context.Context, index int) {
	res, err := g.gw.Invoke(ctx, gateway.ToolTabClose, map[string]any{"index": index})
	if err != nil {
		g.logger.Warn("tab close failed", "index", index, "error", err)
		return
	}
	if res.Failed {
		g.logger.Warn("tab close refused", "index", index, "detail", res.Text())
	}
}

// recordPageCreation counts a successful page creation and restarts
// the backend at the configured threshold. Long-lived browser sessions
// accumulate state until reliability degrades; a periodic restart is
// cheaper than diagnosing a wedged one.
func (g *Governor) recordPageCreation(ctx context.Context) {
	g.mu.Lock()
	g.pagesCreated++
	created := g.pagesCreated
	threshold := g.cfg.PagesBeforeRestart
	if threshold <= 0 || created < threshold {
		g.mu.Unlock()
		return
	}
	g.pagesCreated = 0
	g.lastActivity = make(map[string]time.Time)
	g.mu.Unlock()

	g.logger.Info("page creation threshold reached, restarting browser session",
		"pages", created)
	if err := g.gw.Restart(ctx); err != nil {
		// The next Invoke will surface the broken session; nothing
		// useful to do with the error here.
		g.logger.Error("browser session restart failed", "error", err)
	}
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
