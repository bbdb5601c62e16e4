package browser

import "github.com/HolmesDomain/agentic-solaris/internal/gateway"

// toolSchemas describes the local vocabulary in the same JSON Schema
// form a remote tool server advertises.
func toolSchemas() []gateway.ToolSchema {
	return []gateway.ToolSchema{
		{
			Name:        gateway.ToolNavigate,
			Description: "Navigate the current tab to a URL. Opens a tab if none exist.",
			InputSchema: objectSchema(map[string]any{
				"url": map[string]any{"type": "string", "description": "Absolute URL to open."},
			}, "url"),
		},
		{
			Name:        gateway.ToolClick,
			Description: "Click the first element matching a selector (CSS, text=..., or role=...).",
			InputSchema: objectSchema(map[string]any{
				"selector": map[string]any{"type": "string", "description": "Element selector."},
			}, "selector"),
		},
		{
			Name:        gateway.ToolType,
			Description: "Fill a form field, optionally pressing Enter afterwards.",
			InputSchema: objectSchema(map[string]any{
				"selector": map[string]any{"type": "string", "description": "Field selector."},
				"text":     map[string]any{"type": "string", "description": "Text to fill in."},
				"submit":   map[string]any{"type": "boolean", "description": "Press Enter after filling."},
			}, "selector", "text"),
		},
		{
			Name:        gateway.ToolSnapshot,
			Description: "Capture the accessibility tree of the current page as text.",
			InputSchema: objectSchema(nil),
		},
		{
			Name:        gateway.ToolTakeScreenshot,
			Description: "Take a screenshot of the current viewport.",
			InputSchema: objectSchema(nil),
		},
		{
			Name:        gateway.ToolTabList,
			Description: "List open tabs with their indices, titles, and URLs.",
			InputSchema: objectSchema(nil),
		},
		{
			Name:        gateway.ToolTabNew,
			Description: "Open a new tab, optionally navigating it to a URL.",
			InputSchema: objectSchema(map[string]any{
				"url": map[string]any{"type": "string", "description": "URL to open in the new tab."},
			}),
		},
		{
			Name:        gateway.ToolTabSelect,
			Description: "Switch to the tab at the given index.",
			InputSchema: objectSchema(map[string]any{
				"index": map[string]any{"type": "integer", "description": "Tab index from the tab list."},
			}, "index"),
		},
		{
			Name:        gateway.ToolTabClose,
			Description: "Close the tab at the given index, or the current tab when omitted.",
			InputSchema: objectSchema(map[string]any{
				"index": map[string]any{"type": "integer", "description": "Tab index from the tab list."},
			}),
		},
		{
			Name:        gateway.ToolWait,
			Description: "Wait for page activity to settle before the next action.",
			InputSchema: objectSchema(map[string]any{
				"seconds": map[string]any{"type": "number", "description": "Seconds to wait (max 30)."},
			}),
		},
	}
}

func toolNames() []string {
	schemas := toolSchemas()
	names := make([]string, len(schemas))
	for i, s := range schemas {
		names[i] = s.Name
	}
	return names
}

// objectSchema builds {"type":"object","properties":...,"required":...}.
func objectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
