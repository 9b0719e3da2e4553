package task

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// MaxToolResultBytes caps tool result content before it enters history.
// Bounds context growth regardless of what a tool returns.
const MaxToolResultBytes = 16 * 1024

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type string `json:"type"` // "text" or "image_url"
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Message is one turn in a task conversation.
//
// Assistant messages that requested tools carry ToolCalls; tool messages
// carry the ToolCallID they answer. Every tool message must reference
// exactly one preceding assistant tool call in the same history.
type Message struct {
	Role       string        `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCalls  []ToolCall    `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Summary    bool          `json:"summary,omitempty"` // synthetic compression summary
}

// ToolCall is a model-requested tool invocation. Arguments are opaque to
// the engine; the tool implementation owns parsing.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ErrorKind classifies a tool failure.
type ErrorKind string

// Tool failure kinds.
const (
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindAuth        ErrorKind = "auth_error"
	ErrKindNotFound    ErrorKind = "not_found"
	ErrKindRateLimit   ErrorKind = "rate_limit"
	ErrKindHTTP        ErrorKind = "http_error"
	ErrKindInvalidArgs ErrorKind = "invalid_args"
	ErrKindGeneric     ErrorKind = "generic_error"
)

// ToolResult is the outcome of a single tool call.
type ToolResult struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Success bool      `json:"success"`
	Kind    ErrorKind `json:"kind,omitempty"` // set only when Success is false
	Content string    `json:"content"`
}

// Truncate caps s at MaxToolResultBytes, appending a marker when cut.
func Truncate(s string) string {
	if len(s) <= MaxToolResultBytes {
		return s
	}
	return s[:MaxToolResultBytes] + "\n[truncated]"
}

// Msg converts the result into a tool-role history message.
func (r ToolResult) Msg() Message {
	content := r.Content
	if !r.Success {
		content = "error (" + string(r.Kind) + "): " + r.Content
	}
	return Message{Role: RoleTool, Content: Truncate(content), ToolCallID: r.ID}
}
