// Package browser is the local tool backend: a Playwright-driven
// Chromium exposing the same browser_* tool vocabulary a remote MCP
// server would, so the governor and loop cannot tell the difference.
// Useful when no tool server is available or a task must run fully
// self-contained.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"

	"github.com/HolmesDomain/agentic-solaris/internal/artifacts"
)

// Config controls the local browser launch.
type Config struct {
	// Headless hides the browser window. Interactive debugging wants
	// false; unattended runs want true.
	Headless bool
}

// Backend implements gateway.Gateway over an in-process Playwright
// browser. All methods are serialized by a mutex; the agent loop is
// strictly sequential anyway, the lock just keeps Restart and Close
// safe from other goroutines.
type Backend struct {
	cfg    Config
	logger *slog.Logger
	shots  *artifacts.Store

	mu         sync.Mutex
	pw         *playwright.Playwright
	browser    playwright.Browser
	browserCtx playwright.BrowserContext
	active     playwright.Page
}

// New creates a Backend. The browser launches lazily on first use or
// eagerly via Connect.
func New(cfg Config, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{cfg: cfg, logger: logger}
}

// SetArtifacts enables the screenshot side channel: every image part a
// tool produces is also written to the store. Saving is best-effort; a
// full disk costs a log line, not the tool result.
func (b *Backend) SetArtifacts(s *artifacts.Store) {
	b.shots = s
}

// Connect installs the Playwright driver if needed and launches the
// browser.
func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *Backend) connectLocked() error {
	if b.browserCtx != nil {
		return nil
	}

	if b.pw == nil {
		// No-op when the driver and browsers are already present.
		if err := playwright.Install(); err != nil {
			return fmt.Errorf("install playwright driver: %w", err)
		}
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("start playwright driver: %w", err)
		}
		b.pw = pw
	}

	browser, err := b.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(b.cfg.Headless),
	})
	if err != nil {
		return fmt.Errorf("launch chromium: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 720},
	})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create browser context: %w", err)
	}

	b.browser = browser
	b.browserCtx = browserCtx
	b.active = nil
	b.logger.Info("local browser launched", "headless", b.cfg.Headless)
	return nil
}

// Restart tears down the browser and launches a fresh one. Cookies,
// tabs, and storage do not survive.
func (b *Backend) Restart(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeBrowserLocked()
	if err := b.connectLocked(); err != nil {
		return fmt.Errorf("relaunch browser: %w", err)
	}
	b.logger.Info("local browser restarted")
	return nil
}

// Close shuts the browser and the driver process down.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeBrowserLocked()
	if b.pw != nil {
		err := b.pw.Stop()
		b.pw = nil
		return err
	}
	return nil
}

// closeBrowserLocked releases the context and browser, keeping the
// driver for relaunch. Caller must hold b.mu.
func (b *Backend) closeBrowserLocked() {
	if b.browserCtx != nil {
		if err := b.browserCtx.Close(); err != nil {
			b.logger.Debug("browser context close", "error", err)
		}
		b.browserCtx = nil
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			b.logger.Debug("browser close", "error", err)
		}
		b.browser = nil
	}
	b.active = nil
}

// pages returns the open tabs in creation order. Caller must hold b.mu
// with a live context.
func (b *Backend) pages() []playwright.Page {
	return b.browserCtx.Pages()
}

// activePage returns the current tab, repairing the pointer when the
// tracked tab was closed underneath us (window.close, target crash).
// Returns nil when no tabs are open. Caller must hold b.mu.
func (b *Backend) activePage() playwright.Page {
	pages := b.pages()
	if len(pages) == 0 {
		b.active = nil
		return nil
	}
	if b.active != nil && !b.active.IsClosed() {
		for _, p := range pages {
			if p == b.active {
				return b.active
			}
		}
	}
	b.active = pages[len(pages)-1]
	return b.active
}

// newPage opens a tab, applies default timeouts, and makes it active.
// Caller must hold b.mu.
func (b *Backend) newPage() (playwright.Page, error) {
	page, err := b.browserCtx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	page.SetDefaultTimeout(15000)
	page.SetDefaultNavigationTimeout(30000)
	b.active = page
	return page, nil
}
