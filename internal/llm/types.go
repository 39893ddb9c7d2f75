// Package llm defines the reasoning collaborator boundary and its
// provider implementations. The core never sees a vendor SDK, only the
// [Request]/[Response] shapes and the [Client] interface.
package llm

// Message is one turn of conversation text supplied to the model.
type Message struct {
	Role    string `json:"role"` // system, user, assistant, tool
	Content string `json:"content"`
	// ToolCalls echoes the invocations an assistant turn requested, so a
	// transcript containing tool results stays well-formed on the wire.
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-role result message to its invocation.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDef describes one tool offered to the model.
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolInvocation is a tool call requested by the model. RawArguments is
// the argument payload exactly as emitted; it may be empty or
// syntactically invalid JSON, and both are conditions the caller must
// handle rather than errors of this layer.
type ToolInvocation struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name"`
	RawArguments string `json:"raw_arguments"`
}

// Effort levels hint how much reasoning a request deserves.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

// Verbosity levels hint how long a response should be.
const (
	VerbosityLow    = "low"
	VerbosityMedium = "medium"
)

// Request is a single reasoning call.
type Request struct {
	// Instructions is the system prompt.
	Instructions string
	// Messages is the conversation context, oldest first.
	Messages []Message
	// Tools is the catalog offered for this call. Nil or empty
	// withholds tools entirely (the model cannot request invocations).
	Tools []ToolDef
	// Effort and Verbosity are provider hints; providers that do not
	// support them ignore them.
	Effort    string
	Verbosity string
}

// OutputItem is one structured element of a model response.
type OutputItem struct {
	Type string `json:"type"` // "text", "refusal", ...
	Role string `json:"role"` // usually "assistant"
	Text string `json:"text"`
}

// Response is the provider-neutral result of a reasoning call.
type Response struct {
	// Text is the flattened convenience field. May be empty even when
	// Items carries text segments; callers fall back to scanning Items.
	Text string
	// Items are the structured output elements in emission order.
	Items []OutputItem
	// ToolCalls are the requested tool invocations, in emission order.
	ToolCalls []ToolInvocation

	Model        string
	InputTokens  int
	OutputTokens int
}
