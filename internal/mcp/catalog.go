package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/pkg/types"
	"golang.org/x/sync/errgroup"
)

// ListTools returns the tools of one connected server, minus those hidden
// by the server's DisabledTools patterns.
func (r *Registry) ListTools(ctx context.Context, id string) ([]types.ToolDescriptor, error) {
	entry, session, err := r.connected(id)
	if err != nil {
		return nil, err
	}

	var tools []types.ToolDescriptor
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list tools of %s: %w", id, err)
		}
		if toolDisabled(entry.cfg.DisabledTools, t.Name) {
			continue
		}
		tools = append(tools, toolFromSDK(id, entry.cfg.DisplayName(), t))
	}

	r.mu.Lock()
	changed := entry.toolCount != len(tools)
	entry.toolCount = len(tools)
	r.mu.Unlock()
	if changed && r.bus != nil {
		r.bus.Publish(event.Event{
			Type: event.ServerToolsChanged,
			Data: event.ServerToolsData{ServerID: id, Count: len(tools)},
		})
	}
	return tools, nil
}

// toolDisabled reports whether name matches any of the patterns.
func toolDisabled(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

// ListAllTools collects tools from every connected server that advertises
// them. A server that fails to list is logged and skipped. The result is
// sorted by server name, then tool name.
func (r *Registry) ListAllTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	r.mu.RLock()
	var ids []string
	for id, entry := range r.servers {
		if entry.status == types.StatusConnected && entry.capabilities.Tools {
			ids = append(ids, id)
		}
	}
	r.mu.RUnlock()

	results := make([][]types.ToolDescriptor, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			tools, err := r.ListTools(gctx, id)
			if err != nil {
				r.log.Warn().Err(err).Str("server", id).Msg("skipping server while listing tools")
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	var all []types.ToolDescriptor
	for _, tools := range results {
		all = append(all, tools...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].ServerName != all[j].ServerName {
			return all[i].ServerName < all[j].ServerName
		}
		return all[i].Name < all[j].Name
	})
	return all, nil
}

// CallTool invokes a tool on a connected server. A tool that reports an
// error returns an output with IsError set and a nil error; the error
// return is reserved for lookup and transport failures.
func (r *Registry) CallTool(ctx context.Context, serverID, toolName string, args json.RawMessage) (*types.ToolOutput, error) {
	_, session, err := r.connected(serverID)
	if err != nil {
		return nil, err
	}

	if len(strings.TrimSpace(string(args))) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	res, err := session.CallTool(ctx, &sdkmcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", toolName, serverID, err)
	}
	return toolOutputFromSDK(res), nil
}

// ListResources returns the resources of one connected server.
func (r *Registry) ListResources(ctx context.Context, id string) ([]types.Resource, error) {
	_, session, err := r.connected(id)
	if err != nil {
		return nil, err
	}

	var out []types.Resource
	for res, err := range session.Resources(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list resources of %s: %w", id, err)
		}
		out = append(out, resourceFromSDK(id, res))
	}
	return out, nil
}

// ReadResource reads one resource by URI.
func (r *Registry) ReadResource(ctx context.Context, id, uri string) ([]types.ResourceContent, error) {
	_, session, err := r.connected(id)
	if err != nil {
		return nil, err
	}

	res, err := session.ReadResource(ctx, &sdkmcp.ReadResourceParams{URI: uri})
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", uri, id, err)
	}
	out := make([]types.ResourceContent, 0, len(res.Contents))
	for _, c := range res.Contents {
		if c == nil {
			continue
		}
		out = append(out, types.ResourceContent{
			URI:      c.URI,
			MIMEType: c.MIMEType,
			Text:     c.Text,
			Blob:     c.Blob,
		})
	}
	return out, nil
}

// ListPrompts returns the prompts of one connected server.
func (r *Registry) ListPrompts(ctx context.Context, id string) ([]types.Prompt, error) {
	_, session, err := r.connected(id)
	if err != nil {
		return nil, err
	}

	var out []types.Prompt
	for p, err := range session.Prompts(ctx, nil) {
		if err != nil {
			return nil, fmt.Errorf("list prompts of %s: %w", id, err)
		}
		out = append(out, promptFromSDK(id, p))
	}
	return out, nil
}

// GetPrompt expands a prompt with the given arguments.
func (r *Registry) GetPrompt(ctx context.Context, id, name string, args map[string]string) (*types.PromptResult, error) {
	_, session, err := r.connected(id)
	if err != nil {
		return nil, err
	}

	res, err := session.GetPrompt(ctx, &sdkmcp.GetPromptParams{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("get prompt %s from %s: %w", name, id, err)
	}
	out := &types.PromptResult{
		Description: res.Description,
		Messages:    make([]types.PromptMessage, 0, len(res.Messages)),
	}
	for _, m := range res.Messages {
		if m == nil {
			continue
		}
		out.Messages = append(out.Messages, types.PromptMessage{
			Role:    string(m.Role),
			Content: contentFromSDK(m.Content),
		})
	}
	return out, nil
}
