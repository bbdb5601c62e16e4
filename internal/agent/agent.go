// Package agent runs the model-driven task loop.
//
// The controller repeatedly asks the chat model what to do next, runs
// the tool calls it returns, feeds the results back, and stops when
// the model answers with plain text or the turn budget runs out. The
// loop is strictly sequential. One model call or one tool call is in
// flight at any time, and tool calls within a turn run in the order
// the model produced them, because later calls may depend on the DOM
// state left by earlier ones.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
	"github.com/HolmesDomain/agentic-solaris/internal/llm"
	"github.com/HolmesDomain/agentic-solaris/internal/prompts"
	"github.com/HolmesDomain/agentic-solaris/internal/session"
	"github.com/HolmesDomain/agentic-solaris/internal/usage"
)

// ErrTurnLimit is returned by RunTask when the turn budget is spent
// before the model finishes the task. Callers may retry the whole task
// once; within the run it is a hard stop.
var ErrTurnLimit = errors.New("turn limit reached")

// ToolSession is the governed gateway surface the controller drives.
// *session.Governor satisfies it.
type ToolSession interface {
	ListTools(ctx context.Context) ([]gateway.ToolSchema, error)
	Invoke(ctx context.Context, name string, args map[string]any) (*gateway.ToolResult, error)
	Tabs(ctx context.Context) ([]session.Tab, error)
}

// Config holds the controller's tunables. Collaborators are passed to
// New directly.
type Config struct {
	// Model is the chat model identifier sent with every request.
	Model string

	// TaskLabel tags journal records for this controller's runs.
	// Empty is fine for ad-hoc use.
	TaskLabel string

	// RetentionWindow is how many assistant turns stay verbatim before
	// old ones are collapsed. 0 means DefaultRetentionWindow.
	RetentionWindow int
}

// Controller owns one agent instance: its conversation loop, its local
// tools, and its token accounting. Construct one per task pipeline;
// the usage accumulator spans every RunTask call made through it.
type Controller struct {
	client  llm.Client
	sess    ToolSession
	cfg     Config
	logger  *slog.Logger
	locals  *Registry
	tokens  *usage.Accumulator
	journal *usage.Store
	turns   atomic.Int64
}

// New creates a Controller. The completion report tool is registered
// up front so a model that volunteers a report mid-task gets an
// acknowledgement instead of an unknown-tool failure.
func New(client llm.Client, sess ToolSession, cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		client: client,
		sess:   sess,
		cfg:    cfg,
		logger: logger,
		locals: NewRegistry(),
		tokens: &usage.Accumulator{},
	}
	c.locals.Register(c.completionReportTool())
	return c
}

// SetJournal attaches a usage journal. Journaling failures are logged
// and never fail the loop.
func (c *Controller) SetJournal(j *usage.Store) {
	c.journal = j
}

// RegisterLocal adds a tool served in-process, like the mailbox
// verification-code fetcher. Local names win over gateway names.
func (c *Controller) RegisterLocal(t *LocalTool) {
	c.locals.Register(t)
}

// Usage returns the controller's token accumulator.
func (c *Controller) Usage() *usage.Accumulator {
	return c.tokens
}

// Turns returns the number of model calls made across every run on
// this controller, completion audits included.
func (c *Controller) Turns() int {
	return int(c.turns.Load())
}

// RunTask drives the model until it finishes the task or maxTurns
// model calls have been made. It returns the model's final plain-text
// message. A spent turn budget returns an error matching ErrTurnLimit.
func (c *Controller) RunTask(ctx context.Context, task, instructions string, maxTurns int) (string, error) {
	conv := NewConversation(prompts.System(instructions), task)
	return c.loop(ctx, conv, maxTurns)
}

// loop is the turn engine behind RunTask. Cancellation is checked at
// each turn boundary; an in-flight model or tool call is never
// abandoned mid-processing.
func (c *Controller) loop(ctx context.Context, conv *Conversation, maxTurns int) (string, error) {
	tools, err := c.toolList(ctx)
	if err != nil {
		return "", fmt.Errorf("list tools: %w", err)
	}

	start := time.Now()
	for turn := 1; ; turn++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if turn > maxTurns {
			c.logger.Warn("turn budget exhausted",
				"max_turns", maxTurns,
				"messages", conv.Len(),
				"elapsed", time.Since(start).Round(time.Second),
			)
			return "", fmt.Errorf("%w: %d turns spent without finishing the task", ErrTurnLimit, maxTurns)
		}

		c.logger.Debug("model turn", "turn", turn, "messages", conv.Len())
		resp, err := c.client.Chat(ctx, c.cfg.Model, c.requestMessages(ctx, conv), tools, "")
		if err != nil {
			return "", fmt.Errorf("model call on turn %d: %w", turn, err)
		}
		c.recordUsage(ctx, resp)
		conv.Append(resp.Message)

		// Plain text with no tool calls ends the task. When both are
		// present the tool calls win; the text is narration.
		if len(resp.Message.ToolCalls) == 0 {
			c.logger.Info("task finished",
				"turns", turn,
				"messages", conv.Len(),
				"elapsed", time.Since(start).Round(time.Second),
			)
			return resp.Message.Content, nil
		}
		if resp.Message.Content != "" {
			c.logger.Debug("model narration", "text", resp.Message.Content)
		}

		for _, call := range resp.Message.ToolCalls {
			conv.Append(c.execute(ctx, call)...)
		}
		conv.Prune(c.cfg.RetentionWindow)
	}
}

// requestMessages builds the message list for one model call: the
// permanent history plus an ephemeral system note describing the
// current tabs. The note is rebuilt every turn and never stored, so
// the model always sees live tab state instead of a stale copy.
func (c *Controller) requestMessages(ctx context.Context, conv *Conversation) []llm.Message {
	msgs := conv.Messages()
	tabs, err := c.sess.Tabs(ctx)
	if err != nil {
		c.logger.Debug("tab note skipped", "error", err)
		return msgs
	}
	return append(msgs, llm.Message{
		Role:    roleSystem,
		Content: prompts.TabNote(renderTabs(tabs)),
	})
}

// renderTabs formats governor tab records for the ephemeral note.
func renderTabs(tabs []session.Tab) string {
	var b strings.Builder
	for i, t := range tabs {
		if i > 0 {
			b.WriteByte('\n')
		}
		if t.Active {
			fmt.Fprintf(&b, "- %d: (current) %s (%s)", t.Index, t.Title, t.URL)
		} else {
			fmt.Fprintf(&b, "- %d: %s (%s)", t.Index, t.Title, t.URL)
		}
	}
	return b.String()
}

// toolList assembles the schemas sent with every model call: the
// gateway's vocabulary plus the local tools. The set is fixed for the
// whole run; only the tab note changes between turns.
func (c *Controller) toolList(ctx context.Context) ([]llm.Tool, error) {
	schemas, err := c.sess.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]llm.Tool, 0, len(schemas)+len(c.locals.order))
	for _, s := range schemas {
		tools = append(tools, llm.Tool{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.InputSchema,
		})
	}
	for _, lt := range c.locals.List() {
		tools = append(tools, llm.Tool{
			Name:        lt.Name,
			Description: lt.Description,
			Parameters:  lt.Parameters,
		})
	}
	return tools, nil
}

// execute runs one tool call and converts the outcome into messages:
// always one tool-result, plus one user message carrying any images
// the result contained. Tool results are a text-only channel, so the
// result itself gets a placeholder marker and the pixels ride in the
// follow-up message where the model can actually see them.
//
// Every failure mode is converted into a tool-result the model can
// read; a single bad call never ends the run.
func (c *Controller) execute(ctx context.Context, call llm.ToolCall) []llm.Message {
	name := call.Function.Name

	args, err := parseToolArgs(call.Function.Arguments)
	if err != nil {
		c.logger.Warn("malformed tool arguments", "tool", name, "error", err)
		return []llm.Message{toolMessage(call,
			fmt.Sprintf("could not parse tool arguments as JSON: %v\nraw arguments: %s", err, call.Function.Arguments))}
	}

	var res *gateway.ToolResult
	if local, ok := c.locals.Lookup(name); ok {
		c.logger.Debug("running local tool", "tool", name)
		res, err = local.Handler(ctx, args)
	} else {
		c.logger.Debug("invoking gateway tool", "tool", name)
		res, err = c.sess.Invoke(ctx, name, args)
	}
	if err != nil {
		c.logger.Warn("tool call failed", "tool", name, "error", err)
		return []llm.Message{toolMessage(call, fmt.Sprintf("tool %s failed: %v", name, err))}
	}
	if res.Failed {
		c.logger.Info("tool reported failure", "tool", name, "detail", res.Text())
	}

	msgs := []llm.Message{toolMessage(call, res.Text())}
	if imgs := res.Images(); len(imgs) > 0 {
		msgs = append(msgs, imageMessage(imgs))
	}
	return msgs
}

// parseToolArgs decodes the model's argument JSON. An empty string
// means no arguments; models routinely send that for no-arg tools.
func parseToolArgs(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// toolMessage builds the tool-result message for one call.
func toolMessage(call llm.ToolCall, content string) llm.Message {
	return llm.Message{
		Role:       roleTool,
		Content:    content,
		ToolCallID: call.ID,
	}
}

// imageMessage packs all images from one tool result into a single
// user message directly after it.
func imageMessage(imgs []gateway.ContentPart) llm.Message {
	m := llm.Message{
		Role:    roleUser,
		Content: "Image from the last tool result:",
	}
	for _, p := range imgs {
		m.Images = append(m.Images, llm.ImageContent{
			MimeType: p.MimeType,
			Data:     p.Data,
		})
	}
	return m
}

// recordUsage adds one model call's reported tokens to the running
// totals and journals them when a journal is attached.
func (c *Controller) recordUsage(ctx context.Context, resp *llm.ChatResponse) {
	c.turns.Add(1)
	total := resp.InputTokens + resp.OutputTokens
	c.tokens.Add(resp.InputTokens, resp.OutputTokens, total)
	if c.journal == nil {
		return
	}
	rec := usage.Record{
		Model:            resp.Model,
		Task:             c.cfg.TaskLabel,
		PromptTokens:     resp.InputTokens,
		CompletionTokens: resp.OutputTokens,
		TotalTokens:      total,
	}
	if rec.Model == "" {
		rec.Model = c.cfg.Model
	}
	if err := c.journal.Record(ctx, rec); err != nil {
		c.logger.Warn("usage journaling failed", "error", err)
	}
}
