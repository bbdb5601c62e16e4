package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
	"github.com/HolmesDomain/agentic-solaris/internal/llm"
	"github.com/HolmesDomain/agentic-solaris/internal/session"
)

// mockModel returns pre-configured responses in sequence and records
// each call for inspection.
type mockModel struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	callIndex int
	calls     []modelCall
}

type modelCall struct {
	Model      string
	Messages   []llm.Message
	Tools      []llm.Tool
	ToolChoice string
}

func (m *mockModel) Chat(_ context.Context, model string, msgs []llm.Message, tools []llm.Tool, toolChoice string) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, modelCall{Model: model, Messages: msgs, Tools: tools, ToolChoice: toolChoice})

	if m.callIndex >= len(m.responses) {
		return nil, fmt.Errorf("mockModel: no more responses (call %d)", m.callIndex)
	}
	resp := m.responses[m.callIndex]
	m.callIndex++
	return resp, nil
}

func textResponse(text string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: roleAssistant, Content: text},
		InputTokens:  100,
		OutputTokens: 10,
	}
}

func toolResponse(calls ...llm.ToolCall) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:        "test-model",
		Message:      llm.Message{Role: roleAssistant, ToolCalls: calls},
		InputTokens:  100,
		OutputTokens: 10,
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{
		ID:       id,
		Function: llm.FunctionCall{Name: name, Arguments: args},
	}
}

// fakeTab is one simulated browser tab.
type fakeTab struct {
	title  string
	url    string
	active bool
}

// fakeGateway is a scripted gateway.Gateway. Results and errors are
// keyed by tool name; tools with neither get a plausible default. It
// simulates enough tab state for the governor's listings to work, and
// counts every forwarded invocation per tool name.
type fakeGateway struct {
	mu      sync.Mutex
	tabs    []fakeTab
	results map[string]*gateway.ToolResult
	errs    map[string]error
	counts  map[string]int
	listErr error
}

func newFakeGateway(tabs ...fakeTab) *fakeGateway {
	return &fakeGateway{
		tabs:    tabs,
		results: make(map[string]*gateway.ToolResult),
		errs:    make(map[string]error),
		counts:  make(map[string]int),
	}
}

func (f *fakeGateway) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[name]
}

func (f *fakeGateway) Connect(context.Context) error { return nil }
func (f *fakeGateway) Restart(context.Context) error { return nil }
func (f *fakeGateway) Close() error                  { return nil }

func (f *fakeGateway) ListTools(context.Context) ([]gateway.ToolSchema, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	names := []string{
		gateway.ToolNavigate,
		gateway.ToolClick,
		gateway.ToolSnapshot,
		gateway.ToolTakeScreenshot,
		gateway.ToolTabList,
		gateway.ToolTabNew,
		gateway.ToolTabClose,
	}
	schemas := make([]gateway.ToolSchema, 0, len(names))
	for _, n := range names {
		schemas = append(schemas, gateway.ToolSchema{
			Name:        n,
			Description: "fake " + n,
			InputSchema: map[string]any{"type": "object"},
		})
	}
	return schemas, nil
}

func (f *fakeGateway) Invoke(_ context.Context, name string, args map[string]any) (*gateway.ToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counts[name]++

	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	if res, ok := f.results[name]; ok {
		return res, nil
	}

	switch name {
	case gateway.ToolTabList:
		if len(f.tabs) == 0 {
			return gateway.Textf("No open tabs."), nil
		}
		var b strings.Builder
		b.WriteString("Open tabs:")
		for i, t := range f.tabs {
			if t.active {
				fmt.Fprintf(&b, "\n- %d: (current) %s (%s)", i, t.title, t.url)
			} else {
				fmt.Fprintf(&b, "\n- %d: %s (%s)", i, t.title, t.url)
			}
		}
		return gateway.Textf("%s", b.String()), nil
	case gateway.ToolNavigate:
		url, _ := args["url"].(string)
		for i := range f.tabs {
			f.tabs[i].active = false
		}
		f.tabs = append(f.tabs, fakeTab{title: "Page", url: url, active: true})
		return gateway.Textf("Navigated to %s", url), nil
	case gateway.ToolTabNew:
		for i := range f.tabs {
			f.tabs[i].active = false
		}
		f.tabs = append(f.tabs, fakeTab{title: "New Tab", url: "about:blank", active: true})
		return gateway.Textf("Opened new tab %d", len(f.tabs)-1), nil
	case gateway.ToolClick:
		selector, _ := args["selector"].(string)
		return gateway.Textf("Clicked element: %s", selector), nil
	case gateway.ToolSnapshot:
		return gateway.Textf("Page URL: about:blank\nPage title: Blank\n\n(empty page)"), nil
	default:
		return gateway.Textf("ok"), nil
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildTestController wires a Controller over a real governor driving
// the fake gateway, so loop tests exercise the same enforcement path
// production uses.
func buildTestController(mock *mockModel, gw *fakeGateway, govCfg session.Config) *Controller {
	gov := session.New(gw, govCfg, discardLogger())
	return New(mock, gov, Config{Model: "test-model"}, discardLogger())
}
