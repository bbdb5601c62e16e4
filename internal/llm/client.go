// Package llm provides the chat model client.
package llm

import "context"

// Client is the interface the agent loop talks to the model through.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// toolChoice forces the named tool; "" lets the model decide.
	Chat(ctx context.Context, model string, messages []Message, tools []Tool, toolChoice string) (*ChatResponse, error)
}
