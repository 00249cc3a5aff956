package types

import (
	"encoding/json"
	"strings"
)

// QualifiedNameSeparator joins a server name and a tool name.
const QualifiedNameSeparator = "__"

// ToolDescriptor is a tool advertised by a connected server, tagged with
// its origin. Descriptors are recomputed on demand and never persisted.
type ToolDescriptor struct {
	ServerID    string          `json:"serverId"`
	ServerName  string          `json:"serverName"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// QualifiedName returns the vendor-facing name "<serverName>__<toolName>",
// with characters vendors reject replaced by underscores.
func (t ToolDescriptor) QualifiedName() string {
	return SanitizeToolName(t.ServerName) + QualifiedNameSeparator + SanitizeToolName(t.Name)
}

// DescriptionOrName returns the description, falling back to the tool name.
func (t ToolDescriptor) DescriptionOrName() string {
	if t.Description != "" {
		return t.Description
	}
	return t.Name
}

// SchemaOrEmpty returns the input schema, or an empty object schema.
func (t ToolDescriptor) SchemaOrEmpty() json.RawMessage {
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
		return json.RawMessage(`{"type":"object","properties":{}}`)
	}
	return t.InputSchema
}

// SanitizeToolName keeps [A-Za-z0-9_-] and replaces everything else.
func SanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ToolOutput is the result of invoking a tool on a server.
type ToolOutput struct {
	Content           []ContentItem `json:"content"`
	StructuredContent any           `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}

// Text concatenates the text items of the output.
func (o *ToolOutput) Text() string {
	if o == nil {
		return ""
	}
	var parts []string
	for _, c := range o.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ContentItem is one piece of tool or prompt content.
type ContentItem struct {
	Type     string `json:"type"` // "text"|"image"|"audio"|"resource"|"resource_link"
	Text     string `json:"text,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
	Data     []byte `json:"data,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// Resource is a readable resource advertised by a server.
type Resource struct {
	ServerID    string `json:"serverId,omitempty"`
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
}

// ResourceContent is one content entry of a read resource.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
	Blob     []byte `json:"blob,omitempty"`
}

// Prompt is a templated prompt advertised by a server.
type Prompt struct {
	ServerID    string           `json:"serverId,omitempty"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Arguments   []PromptArgument `json:"arguments,omitempty"`
}

// PromptArgument describes a prompt template argument.
type PromptArgument struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required,omitempty"`
}

// PromptResult is an expanded prompt.
type PromptResult struct {
	Description string          `json:"description,omitempty"`
	Messages    []PromptMessage `json:"messages"`
}

// PromptMessage is one message of an expanded prompt.
type PromptMessage struct {
	Role    string      `json:"role"`
	Content ContentItem `json:"content"`
}
