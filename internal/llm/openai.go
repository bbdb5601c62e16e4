package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/HolmesDomain/agentic-solaris/internal/httpkit"
)

// OpenAIClient is a client for OpenAI-compatible chat completion APIs.
type OpenAIClient struct {
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIClient creates a client. baseURL overrides the default API
// endpoint, so any OpenAI-compatible server works (empty keeps the
// library default).
func NewOpenAIClient(apiKey, baseURL string, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}

	// Model responses can take significant time before sending headers
	// (long prompts, screenshots in context). Use a custom transport
	// with a generous response header timeout.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = httpkit.NewClient(httpkit.Options{
		// No whole-request timeout; ctx deadlines control cancellation.
		NoTimeout: true,
		Transport: t,
	})

	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		logger: logger.With("provider", "openai"),
	}
}

// Chat sends a chat completion request.
func (c *OpenAIClient) Chat(ctx context.Context, model string, messages []Message, tools []Tool, toolChoice string) (*ChatResponse, error) {
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: convertMessages(messages),
		Tools:    convertTools(tools),
	}
	if toolChoice != "" {
		req.ToolChoice = openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: toolChoice},
		}
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
		"tool_choice", toolChoice,
	)
	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(req); err == nil {
			c.logger.Log(ctx, LevelTrace, "request payload", "json", string(payload))
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices")
	}

	result := convertResponse(&resp)
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping checks if the API is reachable with the configured credentials.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("model API unreachable: %w", err)
	}
	return nil
}

// convertMessages converts internal messages to the wire format.
// Messages carrying images become multi-part content with data URLs.
func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
		}

		if len(m.Images) > 0 {
			var parts []openai.ChatMessagePart
			if m.Content != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: m.Content,
				})
			}
			for _, img := range m.Images {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL: fmt.Sprintf("data:%s;base64,%s", img.MimeType, img.Data),
					},
				})
			}
			om.MultiContent = parts
		} else {
			om.Content = m.Content
		}

		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		out = append(out, om)
	}
	return out
}

// convertTools converts tool definitions to the wire format.
func convertTools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// convertResponse converts a wire response to our internal format.
func convertResponse(resp *openai.ChatCompletionResponse) *ChatResponse {
	choice := resp.Choices[0]

	msg := Message{
		Role:    "assistant",
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID: tc.ID,
			Function: FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return &ChatResponse{
		Model:        resp.Model,
		Message:      msg,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
}
