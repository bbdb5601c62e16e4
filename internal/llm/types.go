package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the model.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Images     []ImageContent `json:"images,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // For tool responses
}

// ImageContent is an inline image attached to a user message,
// typically a screenshot coming back from a browser tool.
type ImageContent struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"` // base64
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its arguments exactly as the
// model produced them. Arguments stays a raw JSON string: the model
// can emit garbage here, and the loop needs the original text to hand
// back a parse error it can react to.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool describes a callable tool in provider-neutral form.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatResponse is the unified response from the model.
type ChatResponse struct {
	Model   string
	Message Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}
