package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
)

// ToolName is the name the model calls to read a verification code
// from the agent's mailbox.
const ToolName = "fetch_verification_code"

// ToolSchema describes the verification code tool for the model.
func ToolSchema() gateway.ToolSchema {
	return gateway.ToolSchema{
		Name: ToolName,
		Description: "Fetch a one-time verification code (OTP, PIN, sign-up confirmation) " +
			"from the agent's email inbox. Use this after a website says it sent a code. " +
			"Codes take a moment to arrive; if none is found, wait and try again.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sender": map[string]any{
					"type":        "string",
					"description": "Only consider mail whose From header contains this text (e.g. \"noreply@shop.example\").",
				},
				"subject_contains": map[string]any{
					"type":        "string",
					"description": "Only consider mail whose Subject contains this text.",
				},
				"max_age_minutes": map[string]any{
					"type":        "integer",
					"description": "Ignore mail older than this many minutes. Default 15.",
				},
			},
		},
	}
}

// HandleFetchCode is the tool handler behind ToolName. A missing code
// comes back as a failed result the model can react to; transport
// errors propagate as errors.
func (m *Manager) HandleFetchCode(ctx context.Context, args map[string]any) (*gateway.ToolResult, error) {
	q := CodeQuery{
		Sender:          stringArg(args, "sender"),
		SubjectContains: stringArg(args, "subject_contains"),
	}
	if mins := intArg(args, "max_age_minutes"); mins > 0 {
		q.MaxAge = time.Duration(mins) * time.Minute
	}

	code, err := m.FetchVerificationCode(ctx, q)
	if err != nil {
		if errors.Is(err, ErrNoCode) {
			return gateway.Failuref("%s; the message may not have arrived yet, wait a few seconds and call %s again", err, ToolName), nil
		}
		return nil, fmt.Errorf("fetch verification code: %w", err)
	}

	return gateway.Textf("Verification code: %s\nFrom: %s\nSubject: %s\nReceived: %s",
		code.Code, code.From, code.Subject, code.Date.Format("2006-01-02 15:04:05 MST")), nil
}

// --- Argument extraction helpers ---

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

// intArg reads a numeric argument. JSON numbers decode as float64.
func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
