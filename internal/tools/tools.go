// Package tools defines the capabilities the agent loop may invoke and
// the registry that dispatches them by name. Handlers are thin adapters
// over the external provider collaborators; orchestration code never
// switches on tool names.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/porterlabs/porter-agent/internal/convo"
	"github.com/porterlabs/porter-agent/internal/llm"
)

// Error kinds recorded on failed outcomes.
const (
	ErrKindProvider = "provider_error"
	ErrKindTimeout  = "timeout"
	ErrKindNotFound = "not_found"
	ErrKindBadArgs  = "bad_arguments"
)

// Outcome is the result of one tool invocation within a loop run.
type Outcome struct {
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	// Payload is the structured result fed back to the model. It is
	// never forwarded verbatim to the end user.
	Payload string `json:"payload,omitempty"`
	// Message is a short human-readable summary, safe for synthesized
	// replies when text extraction fails.
	Message string `json:"message,omitempty"`
	// ErrKind classifies the failure when Success is false.
	ErrKind string `json:"err_kind,omitempty"`
}

// Handler executes a tool. A returned error is the exception path: the
// loop counts it as a failure and, for specialists configured that way,
// ends the run. Expected provider-level failures should instead be
// reported as an unsuccessful Outcome with ErrKind set.
type Handler func(ctx context.Context, args map[string]any, user *convo.UserContext) (Outcome, error)

// Tool is a declarative capability: a descriptor plus its handler.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
	Handler     Handler
}

// Registry holds the tool catalog and dispatches executions by name.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty registry. Callers register tools and
// then Verify before serving.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Later registrations with the same name replace
// earlier ones.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Verify checks that every registered descriptor has a handler. Run at
// startup so a missing handler fails the process, not a conversation.
func (r *Registry) Verify() error {
	for name, t := range r.tools {
		if t.Handler == nil {
			return fmt.Errorf("tool %q has no handler", name)
		}
		if t.Parameters == nil {
			return fmt.Errorf("tool %q has no parameter schema", name)
		}
	}
	return nil
}

// List returns the catalog as reasoning-call tool definitions, sorted
// by name for deterministic prompts.
func (r *Registry) List() []llm.ToolDef {
	defs := make([]llm.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the sorted names of all registered tools.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// FilteredCopy returns a registry restricted to the named tools.
// Unknown names are skipped.
func (r *Registry) FilteredCopy(names []string) *Registry {
	out := NewRegistry()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out.tools[name] = t
		}
	}
	return out
}

// Execute dispatches a tool by name. Unknown tools return an
// unsuccessful outcome, not an error; the model hallucinating a tool
// name must not end a conversation.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, user *convo.UserContext) (Outcome, error) {
	t, ok := r.tools[name]
	if !ok {
		return Outcome{
			Tool:    name,
			Success: false,
			ErrKind: ErrKindNotFound,
			Message: fmt.Sprintf("no tool named %q", name),
		}, nil
	}
	return t.Handler(ctx, args, user)
}
