package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
)

type fakeTab struct {
	title string
	url   string
}

// fakeGateway emulates the browser backend's tab behavior: the listing
// renders in the standard format, closing a tab renumbers everything
// after it, and clicks can spawn background tabs the way page scripts
// do with window.open.
type fakeGateway struct {
	tabs   []fakeTab
	active int

	calls      []string
	closedURLs []string
	schemas    []gateway.ToolSchema
	failures   map[string]string
	errs       map[string]error

	// spawnOnClick appends this many background tabs on the next
	// browser_click, emulating popups.
	spawnOnClick int

	connects int
	restarts int
	closed   bool
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (f *fakeGateway) Connect(ctx context.Context) error {
	f.connects++
	return nil
}

func (f *fakeGateway) Close() error {
	f.closed = true
	return nil
}

func (f *fakeGateway) Restart(ctx context.Context) error {
	f.restarts++
	f.tabs = nil
	f.active = 0
	return nil
}

func (f *fakeGateway) ListTools(ctx context.Context) ([]gateway.ToolSchema, error) {
	return f.schemas, nil
}

func (f *fakeGateway) Invoke(ctx context.Context, name string, args map[string]any) (*gateway.ToolResult, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if msg, ok := f.failures[name]; ok {
		return gateway.Failuref("%s", msg), nil
	}

	switch name {
	case gateway.ToolTabList:
		return gateway.Textf("%s", f.renderTabs()), nil

	case gateway.ToolTabNew:
		url, _ := args["url"].(string)
		if url == "" {
			url = "about:blank"
		}
		f.tabs = append(f.tabs, fakeTab{title: "New Tab", url: url})
		f.active = len(f.tabs) - 1
		return gateway.Textf("opened tab %d", f.active), nil

	case gateway.ToolTabClose:
		idx, ok := args["index"].(int)
		if !ok || idx < 0 || idx >= len(f.tabs) {
			return gateway.Failuref("no tab at index %v", args["index"]), nil
		}
		f.closedURLs = append(f.closedURLs, f.tabs[idx].url)
		f.tabs = append(f.tabs[:idx], f.tabs[idx+1:]...)
		switch {
		case idx < f.active:
			f.active--
		case f.active >= len(f.tabs):
			f.active = 0
		}
		return gateway.Textf("closed tab %d", idx), nil

	case gateway.ToolNavigate:
		url, _ := args["url"].(string)
		if len(f.tabs) == 0 {
			f.tabs = append(f.tabs, fakeTab{title: "Page", url: url})
			f.active = 0
		} else {
			f.tabs[f.active].url = url
		}
		return gateway.Textf("navigated to %s", url), nil

	case gateway.ToolClick:
		for i := 0; i < f.spawnOnClick; i++ {
			f.tabs = append(f.tabs, fakeTab{
				title: "Popup",
				url:   fmt.Sprintf("https://popup.example.com/%d", len(f.tabs)),
			})
		}
		f.spawnOnClick = 0
		return gateway.Textf("clicked"), nil

	default:
		return gateway.Textf("ok"), nil
	}
}

func (f *fakeGateway) renderTabs() string {
	if len(f.tabs) == 0 {
		return "No open tabs."
	}
	var b strings.Builder
	b.WriteString("Open tabs:\n")
	for i, t := range f.tabs {
		if i == f.active {
			fmt.Fprintf(&b, "- %d: (current) %s (%s)\n", i, t.title, t.url)
		} else {
			fmt.Fprintf(&b, "- %d: %s (%s)\n", i, t.title, t.url)
		}
	}
	return b.String()
}

func (f *fakeGateway) count(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeGateway) urls() []string {
	var out []string
	for _, t := range f.tabs {
		out = append(out, t.url)
	}
	return out
}

// newTestGovernor wires a governor to the fake with a controllable
// clock and a sleep recorder.
func newTestGovernor(fake *fakeGateway, cfg Config) (*Governor, *time.Time, *[]time.Duration) {
	g := New(fake, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	current := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return current }
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &current, &slept
}

func TestGovernor_RefusesTabOpenAtLimit(t *testing.T) {
	fake := &fakeGateway{tabs: []fakeTab{
		{title: "A", url: "https://a.example.com/"},
		{title: "B", url: "https://b.example.com/"},
	}}
	g, _, _ := newTestGovernor(fake, Config{PageLimit: 2})

	res, err := g.Invoke(context.Background(), gateway.ToolTabNew, nil)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if !res.Failed {
		t.Fatal("tab open at limit should come back failed")
	}
	text := res.Text()
	if !strings.Contains(text, "limit") {
		t.Errorf("refusal should explain the limit, got %q", text)
	}
	if !strings.Contains(text, gateway.ToolTabClose) {
		t.Errorf("refusal should name the close tool, got %q", text)
	}
	if n := fake.count(gateway.ToolTabNew); n != 0 {
		t.Errorf("refused call reached the gateway %d times, want 0", n)
	}
	if len(fake.tabs) != 2 {
		t.Errorf("tab count = %d, want 2", len(fake.tabs))
	}
}

func TestGovernor_AllowsTabOpenUnderLimit(t *testing.T) {
	fake := &fakeGateway{tabs: []fakeTab{{title: "A", url: "https://a.example.com/"}}}
	g, _, _ := newTestGovernor(fake, Config{PageLimit: 2})

	res, err := g.Invoke(context.Background(), gateway.ToolTabNew, map[string]any{"url": "https://b.example.com/"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if res.Failed {
		t.Fatalf("tab open under limit failed: %s", res.Text())
	}
	if n := fake.count(gateway.ToolTabNew); n != 1 {
		t.Errorf("gateway saw %d tab opens, want 1", n)
	}
	if len(fake.tabs) != 2 {
		t.Errorf("tab count = %d, want 2", len(fake.tabs))
	}
}

func TestGovernor_NavigateAtLimitNotRefused(t *testing.T) {
	fake := &fakeGateway{tabs: []fakeTab{
		{title: "A", url: "https://a.example.com/"},
		{title: "B", url: "https://b.example.com/"},
	}}
	g, _, _ := newTestGovernor(fake, Config{PageLimit: 2})

	res, err := g.Invoke(context.Background(), gateway.ToolNavigate, map[string]any{"url": "https://c.example.com/"})
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if res.Failed {
		t.Fatalf("navigation in an existing tab was refused: %s", res.Text())
	}
	if fake.tabs[fake.active].url != "https://c.example.com/" {
		t.Errorf("active tab url = %q, want the navigated one", fake.tabs[fake.active].url)
	}
}

func TestGovernor_IdleSweepClosesOneTabPerCall(t *testing.T) {
	fake := &fakeGateway{
		tabs: []fakeTab{
			{title: "Active", url: "https://active.example.com/"},
			{title: "Stale1", url: "https://stale1.example.com/"},
			{title: "Stale2", url: "https://stale2.example.com/"},
		},
	}
	g, current, _ := newTestGovernor(fake, Config{IdleTabTimeout: time.Minute})
	ctx := context.Background()

	// First call stamps everything as fresh; nothing is idle yet.
	if _, err := g.Invoke(ctx, gateway.ToolSnapshot, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if n := fake.count(gateway.ToolTabClose); n != 0 {
		t.Fatalf("closed %d tabs before anything was idle", n)
	}

	*current = current.Add(2 * time.Minute)

	// Both stale tabs are past the timeout, but a sweep closes only
	// the first one it encounters.
	if _, err := g.Invoke(ctx, gateway.ToolSnapshot, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if n := fake.count(gateway.ToolTabClose); n != 1 {
		t.Fatalf("closed %d tabs in one sweep, want exactly 1", n)
	}
	if fake.closedURLs[0] != "https://stale1.example.com/" {
		t.Errorf("closed %q first, want the lowest-index idle tab", fake.closedURLs[0])
	}

	// The next call sweeps the remaining idle tab.
	if _, err := g.Invoke(ctx, gateway.ToolSnapshot, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if n := fake.count(gateway.ToolTabClose); n != 2 {
		t.Fatalf("total closes = %d, want 2", n)
	}

	// Only the active tab survives, and further sweeps leave it alone.
	if _, err := g.Invoke(ctx, gateway.ToolSnapshot, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if n := fake.count(gateway.ToolTabClose); n != 2 {
		t.Fatalf("sweep touched the active tab: %d closes", n)
	}
	if len(fake.tabs) != 1 || fake.tabs[0].url != "https://active.example.com/" {
		t.Errorf("surviving tabs = %v, want only the active one", fake.urls())
	}
}

func TestGovernor_IdleSweepDisabledByZeroTimeout(t *testing.T) {
	fake := &fakeGateway{
		tabs: []fakeTab{
			{title: "Active", url: "https://active.example.com/"},
			{title: "Stale", url: "https://stale.example.com/"},
		},
	}
	g, current, _ := newTestGovernor(fake, Config{})
	ctx := context.Background()

	if _, err := g.Invoke(ctx, gateway.ToolSnapshot, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	*current = current.Add(24 * time.Hour)
	if _, err := g.Invoke(ctx, gateway.ToolSnapshot, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if n := fake.count(gateway.ToolTabClose); n != 0 {
		t.Errorf("closed %d tabs with the sweep disabled, want 0", n)
	}
}

func TestGovernor_EvictsOverflowOldestFirst(t *testing.T) {
	fake := &fakeGateway{
		tabs: []fakeTab{{title: "Main", url: "https://main.example.com/"}},
	}
	g, current, slept := newTestGovernor(fake, Config{PageLimit: 3})
	ctx := context.Background()

	// Build up distinct activity stamps: each click spawns one popup,
	// one minute apart.
	fake.spawnOnClick = 1
	if _, err := g.Invoke(ctx, gateway.ToolClick, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	*current = current.Add(time.Minute)
	fake.spawnOnClick = 1
	if _, err := g.Invoke(ctx, gateway.ToolClick, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if n := fake.count(gateway.ToolTabClose); n != 0 {
		t.Fatalf("evicted %d tabs while still at the limit", n)
	}
	oldPopup, newerPopup := fake.tabs[1].url, fake.tabs[2].url

	// Two more popups push the count to 5; eviction trims back to 3,
	// dropping the two oldest inactive tabs.
	*current = current.Add(time.Minute)
	fake.spawnOnClick = 2
	if _, err := g.Invoke(ctx, gateway.ToolClick, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if len(fake.tabs) != 3 {
		t.Fatalf("tab count after eviction = %d, want 3: %v", len(fake.tabs), fake.urls())
	}
	if fake.tabs[0].url != "https://main.example.com/" {
		t.Errorf("active tab was evicted; remaining %v", fake.urls())
	}
	wantClosed := []string{oldPopup, newerPopup}
	if len(fake.closedURLs) != 2 || fake.closedURLs[0] != wantClosed[0] || fake.closedURLs[1] != wantClosed[1] {
		t.Errorf("closed %v, want oldest-first %v", fake.closedURLs, wantClosed)
	}
	if len(*slept) != 2 {
		t.Errorf("paused %d times between closures, want 2", len(*slept))
	}
}

func TestGovernor_RestartAfterPageThreshold(t *testing.T) {
	fake := &fakeGateway{}
	g, _, _ := newTestGovernor(fake, Config{PagesBeforeRestart: 2})
	ctx := context.Background()

	// First navigation with no tabs open creates a page.
	if _, err := g.Invoke(ctx, gateway.ToolNavigate, map[string]any{"url": "https://a.example.com/"}); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if got := g.PagesCreated(); got != 1 {
		t.Fatalf("pages created = %d, want 1", got)
	}

	// Navigating again in the existing tab is not a creation.
	if _, err := g.Invoke(ctx, gateway.ToolNavigate, map[string]any{"url": "https://b.example.com/"}); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if got := g.PagesCreated(); got != 1 {
		t.Fatalf("pages created = %d after plain navigation, want 1", got)
	}
	if fake.restarts != 0 {
		t.Fatalf("restarted %d times before the threshold", fake.restarts)
	}

	// The second creation hits the threshold.
	if _, err := g.Invoke(ctx, gateway.ToolTabNew, nil); err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if fake.restarts != 1 {
		t.Errorf("restarts = %d, want 1", fake.restarts)
	}
	if got := g.PagesCreated(); got != 0 {
		t.Errorf("pages created = %d after restart, want 0", got)
	}
}

func TestGovernor_FailedCreationDoesNotCount(t *testing.T) {
	fake := &fakeGateway{failures: map[string]string{gateway.ToolTabNew: "browser crashed"}}
	g, _, _ := newTestGovernor(fake, Config{PagesBeforeRestart: 1})

	res, err := g.Invoke(context.Background(), gateway.ToolTabNew, nil)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if !res.Failed {
		t.Fatal("expected the scripted failure to pass through")
	}
	if got := g.PagesCreated(); got != 0 {
		t.Errorf("pages created = %d for a failed open, want 0", got)
	}
	if fake.restarts != 0 {
		t.Errorf("restarts = %d, want 0", fake.restarts)
	}
}

func TestGovernor_TransportErrorPropagates(t *testing.T) {
	wantErr := errors.New("gateway down")
	fake := &fakeGateway{errs: map[string]error{gateway.ToolClick: wantErr}}
	g, _, _ := newTestGovernor(fake, Config{})

	res, err := g.Invoke(context.Background(), gateway.ToolClick, nil)
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if res != nil {
		t.Errorf("res = %+v, want nil on transport error", res)
	}
}

func TestGovernor_ListingFailureDoesNotBlockCalls(t *testing.T) {
	fake := &fakeGateway{
		tabs: []fakeTab{{title: "A", url: "https://a.example.com/"}},
		errs: map[string]error{gateway.ToolTabList: errors.New("listing broken")},
	}
	g, _, _ := newTestGovernor(fake, Config{IdleTabTimeout: time.Minute, PageLimit: 5})

	// Sweep and post-exec stamping both fail, but a non-creating call
	// still goes through.
	res, err := g.Invoke(context.Background(), gateway.ToolClick, nil)
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if res.Failed {
		t.Fatalf("call failed: %s", res.Text())
	}
	if n := fake.count(gateway.ToolClick); n != 1 {
		t.Errorf("gateway saw %d clicks, want 1", n)
	}
}

func TestGovernor_ListToolsFiltered(t *testing.T) {
	fake := &fakeGateway{schemas: []gateway.ToolSchema{
		{Name: "browser_navigate"},
		{Name: "browser_evaluate"},
		{Name: "browser_click"},
	}}
	g, _, _ := newTestGovernor(fake, Config{FilteredTools: []string{"browser_evaluate"}})

	tools, err := g.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(tools))
	}
	for _, tool := range tools {
		if tool.Name == "browser_evaluate" {
			t.Error("filtered tool still listed")
		}
	}
}

func TestGovernor_TabsStampsFirstSeen(t *testing.T) {
	fake := &fakeGateway{tabs: []fakeTab{
		{title: "A", url: "https://a.example.com/"},
		{title: "B", url: "https://b.example.com/"},
	}}
	g, current, _ := newTestGovernor(fake, Config{})
	ctx := context.Background()

	first := *current
	tabs, err := g.Tabs(ctx)
	if err != nil {
		t.Fatalf("Tabs error: %v", err)
	}
	for _, tab := range tabs {
		if !tab.LastActivity.Equal(first) {
			t.Errorf("tab %d stamp = %v, want first-seen time %v", tab.Index, tab.LastActivity, first)
		}
	}

	// A later listing keeps the old stamps and drops closed URLs.
	*current = current.Add(time.Minute)
	fake.tabs = fake.tabs[:1]
	tabs, err = g.Tabs(ctx)
	if err != nil {
		t.Fatalf("Tabs error: %v", err)
	}
	if len(tabs) != 1 {
		t.Fatalf("got %d tabs, want 1", len(tabs))
	}
	if !tabs[0].LastActivity.Equal(first) {
		t.Errorf("stamp = %v, want unchanged %v", tabs[0].LastActivity, first)
	}
	if _, ok := g.lastActivity["https://b.example.com/"]; ok {
		t.Error("stamp for a closed tab was not dropped")
	}
}

func TestGovernor_ConnectClosePassThrough(t *testing.T) {
	fake := &fakeGateway{}
	g, _, _ := newTestGovernor(fake, Config{})

	if err := g.Connect(context.Background()); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if fake.connects != 1 {
		t.Errorf("connects = %d, want 1", fake.connects)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if !fake.closed {
		t.Error("gateway was not closed")
	}
}
