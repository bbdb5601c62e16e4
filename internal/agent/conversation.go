package agent

import (
	"fmt"

	"github.com/HolmesDomain/agentic-solaris/internal/llm"
)

// Message roles, matching what chat completion APIs expect.
const (
	roleSystem    = "system"
	roleUser      = "user"
	roleAssistant = "assistant"
	roleTool      = "tool"
)

// DefaultRetentionWindow is how many assistant turns stay verbatim in
// the conversation before older ones are collapsed.
const DefaultRetentionWindow = 8

// Conversation is the permanent message history of one task run. The
// first two messages (system instructions and the task itself) are
// immutable; everything after them may be collapsed by Prune once the
// conversation outgrows the retention window.
type Conversation struct {
	msgs []llm.Message

	// removed counts every message pruning has dropped so far, so the
	// placeholder can report a cumulative figure.
	removed   int
	collapsed bool
}

// NewConversation seeds a conversation with its permanent head: the
// system instructions and the user task.
func NewConversation(system, task string) *Conversation {
	return &Conversation{
		msgs: []llm.Message{
			{Role: roleSystem, Content: system},
			{Role: roleUser, Content: task},
		},
	}
}

// Append adds messages to the history.
func (c *Conversation) Append(msgs ...llm.Message) {
	c.msgs = append(c.msgs, msgs...)
}

// Len returns the number of messages in the history.
func (c *Conversation) Len() int {
	return len(c.msgs)
}

// Messages returns a copy of the history. Callers may append to the
// copy (the per-turn tab note rides along this way) without touching
// the permanent record.
func (c *Conversation) Messages() []llm.Message {
	out := make([]llm.Message, len(c.msgs))
	copy(out, c.msgs)
	return out
}

// Last returns the most recent message, or a zero Message when empty.
func (c *Conversation) Last() llm.Message {
	if len(c.msgs) == 0 {
		return llm.Message{}
	}
	return c.msgs[len(c.msgs)-1]
}

// Prune collapses old turns once more than window assistant messages
// have accumulated. The first two messages are never touched. The most
// recent window's worth of assistant messages, and everything after
// each of them (tool results, injected screenshots), stay verbatim;
// the span between the head and that tail is replaced with a single
// system placeholder noting the cumulative number of removed messages.
// A conversation at or under the window is left unchanged, so pruning
// is idempotent at the boundary.
func (c *Conversation) Prune(window int) {
	if window <= 0 {
		window = DefaultRetentionWindow
	}

	assistants := 0
	for _, m := range c.msgs {
		if m.Role == roleAssistant {
			assistants++
		}
	}
	if assistants <= window {
		return
	}

	// Walk back to the assistant message that starts the retained tail.
	keepFrom := -1
	seen := 0
	for i := len(c.msgs) - 1; i >= 2; i-- {
		if c.msgs[i].Role != roleAssistant {
			continue
		}
		seen++
		if seen == window {
			keepFrom = i
			break
		}
	}
	if keepFrom <= 2 {
		return
	}

	dropped := keepFrom - 2
	if c.collapsed {
		// One of the dropped messages is the previous placeholder, not
		// a real turn.
		dropped--
	}
	c.removed += dropped
	c.collapsed = true

	placeholder := llm.Message{
		Role:    roleSystem,
		Content: fmt.Sprintf("[%d earlier messages removed to keep the conversation short]", c.removed),
	}

	pruned := make([]llm.Message, 0, 3+len(c.msgs)-keepFrom)
	pruned = append(pruned, c.msgs[:2]...)
	pruned = append(pruned, placeholder)
	pruned = append(pruned, c.msgs[keepFrom:]...)
	c.msgs = pruned
}
