package agent

import (
	"context"

	"github.com/HolmesDomain/agentic-solaris/internal/gateway"
)

// LocalTool is a tool served in-process instead of through the tool
// gateway. The handler returns results in the same shape gateway tools
// do, so the loop treats both identically.
type LocalTool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     func(ctx context.Context, args map[string]any) (*gateway.ToolResult, error)
}

// Registry maps local tool names to their handlers. Registration order
// is preserved so the schema list sent to the model is stable.
type Registry struct {
	order  []string
	byName map[string]*LocalTool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*LocalTool)}
}

// Register adds a tool. Re-registering a name replaces the handler but
// keeps its original position.
func (r *Registry) Register(t *LocalTool) {
	if _, exists := r.byName[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.byName[t.Name] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*LocalTool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []*LocalTool {
	out := make([]*LocalTool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}
