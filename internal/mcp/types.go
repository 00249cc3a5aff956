package mcp

import (
	"context"
	"encoding/json"
	"errors"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prism-ai/prism/pkg/types"
)

var (
	// ErrServerNotFound is returned for operations on an unknown server id.
	ErrServerNotFound = errors.New("server not found")
	// ErrNotConnected is returned when the server exists but is not connected.
	ErrNotConnected = errors.New("server not connected")
	// ErrAuthRequired is returned when a server demands credentials and no
	// authenticator is configured, or the authenticated retry was rejected.
	ErrAuthRequired = errors.New("authorization required")
)

// ToolExecutor is the view of the registry the chat orchestrator needs.
type ToolExecutor interface {
	ListAllTools(ctx context.Context) ([]types.ToolDescriptor, error)
	CallTool(ctx context.Context, serverID, toolName string, args json.RawMessage) (*types.ToolOutput, error)
}

// ConnectResult is returned by a successful Connect.
type ConnectResult struct {
	Capabilities types.Capabilities `json:"capabilities"`
	ServerInfo   *types.ServerInfo  `json:"serverInfo,omitempty"`
	Instructions string             `json:"instructions,omitempty"`
}

func capabilitiesFromSDK(init *sdkmcp.InitializeResult) types.Capabilities {
	if init == nil || init.Capabilities == nil {
		return types.Capabilities{}
	}
	c := init.Capabilities
	return types.Capabilities{
		Tools:     c.Tools != nil,
		Resources: c.Resources != nil,
		Prompts:   c.Prompts != nil,
		Logging:   c.Logging != nil,
	}
}

func serverInfoFromSDK(init *sdkmcp.InitializeResult) *types.ServerInfo {
	if init == nil || init.ServerInfo == nil {
		return nil
	}
	return &types.ServerInfo{
		Name:    init.ServerInfo.Name,
		Version: init.ServerInfo.Version,
	}
}

// toolFromSDK converts an SDK tool into a descriptor tagged with its origin.
func toolFromSDK(serverID, serverName string, t *sdkmcp.Tool) types.ToolDescriptor {
	d := types.ToolDescriptor{
		ServerID:    serverID,
		ServerName:  serverName,
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema != nil {
		if raw, err := json.Marshal(t.InputSchema); err == nil {
			d.InputSchema = raw
		}
	}
	return d
}

func contentFromSDK(c sdkmcp.Content) types.ContentItem {
	switch v := c.(type) {
	case *sdkmcp.TextContent:
		return types.ContentItem{Type: "text", Text: v.Text}
	case *sdkmcp.ImageContent:
		return types.ContentItem{Type: "image", MIMEType: v.MIMEType, Data: v.Data}
	case *sdkmcp.AudioContent:
		return types.ContentItem{Type: "audio", MIMEType: v.MIMEType, Data: v.Data}
	case *sdkmcp.ResourceLink:
		return types.ContentItem{Type: "resource_link", URI: v.URI, MIMEType: v.MIMEType, Text: v.Name}
	case *sdkmcp.EmbeddedResource:
		item := types.ContentItem{Type: "resource"}
		if v.Resource != nil {
			item.URI = v.Resource.URI
			item.MIMEType = v.Resource.MIMEType
			item.Text = v.Resource.Text
			item.Data = v.Resource.Blob
		}
		return item
	default:
		return types.ContentItem{Type: "unknown"}
	}
}

func toolOutputFromSDK(res *sdkmcp.CallToolResult) *types.ToolOutput {
	out := &types.ToolOutput{
		Content:           make([]types.ContentItem, 0, len(res.Content)),
		StructuredContent: res.StructuredContent,
		IsError:           res.IsError,
	}
	for _, c := range res.Content {
		out.Content = append(out.Content, contentFromSDK(c))
	}
	return out
}

func resourceFromSDK(serverID string, r *sdkmcp.Resource) types.Resource {
	return types.Resource{
		ServerID:    serverID,
		URI:         r.URI,
		Name:        r.Name,
		Description: r.Description,
		MIMEType:    r.MIMEType,
	}
}

func promptFromSDK(serverID string, p *sdkmcp.Prompt) types.Prompt {
	prompt := types.Prompt{
		ServerID:    serverID,
		Name:        p.Name,
		Description: p.Description,
	}
	for _, a := range p.Arguments {
		prompt.Arguments = append(prompt.Arguments, types.PromptArgument{
			Name:        a.Name,
			Description: a.Description,
			Required:    a.Required,
		})
	}
	return prompt
}
