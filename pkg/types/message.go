package types

import "encoding/json"

// Role identifies the author of a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatMessage is one turn of a conversation. History is append-only and
// its order is significant for every vendor.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// Assistant-specific fields
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// Tool-result-specific fields
	ToolCallID string `json:"toolCallId,omitempty"`
	ToolName   string `json:"toolName,omitempty"` // vendor-qualified name of the call
	IsError    bool   `json:"isError,omitempty"`
}

// ToolCall is a structured tool request emitted by a model.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"` // "<serverName>__<toolName>"
	Arguments json.RawMessage `json:"arguments,omitempty"`

	// Filled in once the call has been executed.
	Result   *ToolResult `json:"result,omitempty"`
	ServerID string      `json:"serverId,omitempty"`
}

// ToolResult is the JSON-encoded outcome of one executed call.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// NewUserMessage creates a user turn.
func NewUserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

// NewAssistantMessage creates an assistant turn, optionally with tool calls.
func NewAssistantMessage(text string, calls []ToolCall) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text, ToolCalls: calls}
}

// NewToolMessage creates a tool-result turn for the given call.
func NewToolMessage(call ToolCall, result ToolResult) ChatMessage {
	return ChatMessage{
		Role:       RoleTool,
		Content:    result.Content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    result.IsError,
	}
}

// HasToolCalls reports whether an assistant turn requested tools.
func (m ChatMessage) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ArgumentsOrEmpty returns the call arguments, or an empty JSON object.
func (c ToolCall) ArgumentsOrEmpty() json.RawMessage {
	if len(c.Arguments) == 0 || string(c.Arguments) == "null" {
		return json.RawMessage("{}")
	}
	return c.Arguments
}

// ArgumentsMap decodes the arguments into a map. Invalid or non-object
// arguments decode to an empty map.
func (c ToolCall) ArgumentsMap() map[string]any {
	args := map[string]any{}
	_ = json.Unmarshal(c.ArgumentsOrEmpty(), &args)
	if args == nil {
		args = map[string]any{}
	}
	return args
}

// Resolved returns a copy of the call with its execution result attached.
// A call that already carries a result is returned unchanged.
func (c ToolCall) Resolved(serverID string, result ToolResult) ToolCall {
	if c.Result != nil {
		return c
	}
	c.ServerID = serverID
	c.Result = &result
	return c
}

// CloneHistory copies a message slice so callers can append without
// aliasing the caller's backing array.
func CloneHistory(history []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(history))
	for i, m := range history {
		if len(m.ToolCalls) > 0 {
			m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}
