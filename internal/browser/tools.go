package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
	"github.com/HolmesDomain/agentic-solaris/internal/snapshot"
)

// maxWaitSeconds caps browser_wait so a confused model cannot stall
// the loop for minutes at a time.
const maxWaitSeconds = 30

// ListTools returns the browser tool vocabulary.
func (b *Backend) ListTools(ctx context.Context) ([]gateway.ToolSchema, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	return toolSchemas(), nil
}

// Invoke dispatches one tool call. Tool-level failures (bad selector,
// navigation timeout, out-of-range tab index) come back as Failed
// results; only a broken browser returns an error.
func (b *Backend) Invoke(ctx context.Context, name string, args map[string]any) (*gateway.ToolResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.connectLocked(); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}

	res, err := b.dispatch(ctx, name, args)
	if err != nil {
		return nil, err
	}
	b.persistImages(name, res)
	return res, nil
}

func (b *Backend) dispatch(ctx context.Context, name string, args map[string]any) (*gateway.ToolResult, error) {
	switch name {
	case gateway.ToolNavigate:
		return b.navigate(args)
	case gateway.ToolClick:
		return b.click(args)
	case gateway.ToolType:
		return b.typeText(args)
	case gateway.ToolSnapshot:
		return b.snapshot()
	case gateway.ToolTakeScreenshot:
		return b.screenshot()
	case gateway.ToolTabList:
		return b.tabList()
	case gateway.ToolTabNew:
		return b.tabNew(args)
	case gateway.ToolTabSelect:
		return b.tabSelect(args)
	case gateway.ToolTabClose:
		return b.tabClose(args)
	case gateway.ToolWait:
		return b.wait(ctx, args)
	default:
		return gateway.Failuref("unknown tool %q; available tools: %s",
			name, strings.Join(toolNames(), ", ")), nil
	}
}

// persistImages writes image parts to the artifact store. Failures are
// logged and swallowed so persistence never fails the tool call.
func (b *Backend) persistImages(tool string, res *gateway.ToolResult) {
	if b.shots == nil {
		return
	}
	for _, img := range res.Images() {
		path, err := b.shots.SaveImageBase64(img.MimeType, img.Data)
		if err != nil {
			b.logger.Warn("failed to persist tool image", "tool", tool, "error", err)
			continue
		}
		b.logger.Debug("persisted tool image", "tool", tool, "path", path)
	}
}

func (b *Backend) navigate(args map[string]any) (*gateway.ToolResult, error) {
	url := stringArg(args, "url")
	if url == "" {
		return gateway.Failuref("url is required"), nil
	}

	page := b.activePage()
	if page == nil {
		var err error
		page, err = b.newPage()
		if err != nil {
			return nil, err
		}
	}

	if _, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return gateway.Failuref("navigate to %s: %v", url, err), nil
	}

	title, _ := page.Title()
	return gateway.Textf("Navigated to %s (%s)", url, title), nil
}

func (b *Backend) click(args map[string]any) (*gateway.ToolResult, error) {
	selector := stringArg(args, "selector")
	if selector == "" {
		return gateway.Failuref("selector is required"), nil
	}
	page := b.activePage()
	if page == nil {
		return gateway.Failuref("no open tab; use %s first", gateway.ToolNavigate), nil
	}

	if err := page.Locator(selector).First().Click(); err != nil {
		return gateway.Failuref("click %s: %v", selector, err), nil
	}
	return gateway.Textf("Clicked %s", selector), nil
}

func (b *Backend) typeText(args map[string]any) (*gateway.ToolResult, error) {
	selector := stringArg(args, "selector")
	if selector == "" {
		return gateway.Failuref("selector is required"), nil
	}
	text := stringArg(args, "text")
	page := b.activePage()
	if page == nil {
		return gateway.Failuref("no open tab; use %s first", gateway.ToolNavigate), nil
	}

	locator := page.Locator(selector).First()
	if err := locator.Fill(text); err != nil {
		return gateway.Failuref("type into %s: %v", selector, err), nil
	}
	if boolArg(args, "submit") {
		if err := locator.Press("Enter"); err != nil {
			return gateway.Failuref("press Enter after typing into %s: %v", selector, err), nil
		}
	}
	return gateway.Textf("Typed %q into %s", text, selector), nil
}

// snapshot renders the accessibility tree of the active tab, the same
// shape a Playwright MCP server returns. When the tree is unavailable
// the raw HTML is condensed to text instead.
func (b *Backend) snapshot() (*gateway.ToolResult, error) {
	page := b.activePage()
	if page == nil {
		return gateway.Failuref("no open tab; use %s first", gateway.ToolNavigate), nil
	}

	title, _ := page.Title()
	tree, err := page.Locator("body").AriaSnapshot()
	if err != nil {
		html, cerr := page.Content()
		if cerr != nil {
			return gateway.Failuref("snapshot: %v", err), nil
		}
		tree = snapshot.Text(html)
	}

	return gateway.Textf("Page URL: %s\nPage title: %s\n\n%s", page.URL(), title, tree), nil
}

func (b *Backend) screenshot() (*gateway.ToolResult, error) {
	page := b.activePage()
	if page == nil {
		return gateway.Failuref("no open tab; use %s first", gateway.ToolNavigate), nil
	}

	// JPEG at moderate quality keeps payloads small enough for model
	// image input.
	buf, err := page.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypeJpeg,
		Quality: playwright.Int(70),
	})
	if err != nil {
		return gateway.Failuref("screenshot: %v", err), nil
	}

	return &gateway.ToolResult{
		Parts: []gateway.ContentPart{
			{Type: "text", Text: fmt.Sprintf("Screenshot of %s", page.URL())},
			{Type: "image", Data: base64.StdEncoding.EncodeToString(buf), MimeType: "image/jpeg"},
		},
	}, nil
}

func (b *Backend) tabList() (*gateway.ToolResult, error) {
	pages := b.pages()
	if len(pages) == 0 {
		return gateway.Textf("No open tabs."), nil
	}

	active := b.activePage()
	var sb strings.Builder
	sb.WriteString("Open tabs:")
	for i, p := range pages {
		title, _ := p.Title()
		sb.WriteString("\n")
		sb.WriteString(renderTabLine(i, p == active, title, p.URL()))
	}
	return gateway.Textf("%s", sb.String()), nil
}

// renderTabLine produces one listing line in the format the rest of
// the system parses: "- <index>: [(current) ]<title> (<url>)".
func renderTabLine(index int, active bool, title, url string) string {
	if active {
		return fmt.Sprintf("- %d: (current) %s (%s)", index, title, url)
	}
	return fmt.Sprintf("- %d: %s (%s)", index, title, url)
}

func (b *Backend) tabNew(args map[string]any) (*gateway.ToolResult, error) {
	page, err := b.newPage()
	if err != nil {
		return nil, err
	}

	if url := stringArg(args, "url"); url != "" {
		if _, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			return gateway.Failuref("navigate new tab to %s: %v", url, err), nil
		}
		return gateway.Textf("Opened new tab at %s", url), nil
	}
	return gateway.Textf("Opened new tab"), nil
}

func (b *Backend) tabSelect(args map[string]any) (*gateway.ToolResult, error) {
	idx, ok := intArg(args, "index")
	if !ok {
		return gateway.Failuref("index is required"), nil
	}
	pages := b.pages()
	if idx < 0 || idx >= len(pages) {
		return gateway.Failuref("no tab at index %d; %d tabs are open", idx, len(pages)), nil
	}

	page := pages[idx]
	if err := page.BringToFront(); err != nil {
		return gateway.Failuref("select tab %d: %v", idx, err), nil
	}
	b.active = page

	title, _ := page.Title()
	return gateway.Textf("Selected tab %d: %s (%s)", idx, title, page.URL()), nil
}

func (b *Backend) tabClose(args map[string]any) (*gateway.ToolResult, error) {
	pages := b.pages()
	if len(pages) == 0 {
		return gateway.Failuref("no open tabs to close"), nil
	}

	page := b.activePage()
	if idx, ok := intArg(args, "index"); ok {
		if idx < 0 || idx >= len(pages) {
			return gateway.Failuref("no tab at index %d; %d tabs are open", idx, len(pages)), nil
		}
		page = pages[idx]
	}

	url := page.URL()
	if err := page.Close(); err != nil {
		return gateway.Failuref("close tab: %v", err), nil
	}
	if b.active == page {
		b.active = nil
	}
	return gateway.Textf("Closed tab (%s)", url), nil
}

func (b *Backend) wait(ctx context.Context, args map[string]any) (*gateway.ToolResult, error) {
	secs := floatArg(args, "seconds")
	if secs <= 0 {
		secs = 1
	}
	secs = clampSeconds(secs)

	timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}
	return gateway.Textf("Waited %.1fs", secs), nil
}

func clampSeconds(secs float64) float64 {
	if secs > maxWaitSeconds {
		return maxWaitSeconds
	}
	return secs
}

// --- Argument extraction helpers ---

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func boolArg(args map[string]any, key string) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return false
}

// intArg reads a numeric argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
