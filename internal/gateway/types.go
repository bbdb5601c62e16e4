package gateway

import (
	"fmt"
	"strings"
)

// ToolSchema describes one tool the backend offers, in the JSON Schema
// form model providers expect.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ContentPart is one piece of a tool result. Text parts carry Text;
// image parts carry base64 Data plus MimeType.
type ContentPart struct {
	Type     string // "text" or "image"
	Text     string
	Data     string
	MimeType string
}

// ToolResult is the outcome of a tool invocation. Failed marks a
// tool-level failure (element not found, navigation timeout) that the
// model should see and react to; it is not an infrastructure error.
type ToolResult struct {
	Parts  []ContentPart
	Failed bool
}

// Textf builds a successful single-text result.
func Textf(format string, args ...any) *ToolResult {
	return &ToolResult{
		Parts: []ContentPart{{Type: "text", Text: fmt.Sprintf(format, args...)}},
	}
}

// Failuref builds a failed single-text result. The text is what the
// model sees, so it should say what went wrong and, where possible,
// what to do instead.
func Failuref(format string, args ...any) *ToolResult {
	return &ToolResult{
		Parts:  []ContentPart{{Type: "text", Text: fmt.Sprintf(format, args...)}},
		Failed: true,
	}
}

// Text joins the text parts into a single string. Non-text parts are
// represented as inline markers so their presence stays visible.
func (r *ToolResult) Text() string {
	var parts []string
	for _, p := range r.Parts {
		switch p.Type {
		case "text":
			parts = append(parts, p.Text)
		case "image":
			parts = append(parts, "[image]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", p.Type))
		}
	}
	return strings.Join(parts, "\n")
}

// Images returns the image parts of the result, in order.
func (r *ToolResult) Images() []ContentPart {
	var imgs []ContentPart
	for _, p := range r.Parts {
		if p.Type == "image" {
			imgs = append(imgs, p)
		}
	}
	return imgs
}
