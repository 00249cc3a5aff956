package chat

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/prism-ai/prism/pkg/types"
)

// maxSuggestions caps the names offered for an unknown tool.
const maxSuggestions = 3

// catalog resolves vendor-qualified names against one tool snapshot.
type catalog struct {
	tools  []types.ToolDescriptor
	byName map[string]types.ToolDescriptor
}

func newCatalog(tools []types.ToolDescriptor) *catalog {
	c := &catalog{tools: tools, byName: make(map[string]types.ToolDescriptor, len(tools))}
	for _, t := range tools {
		name := t.QualifiedName()
		if _, dup := c.byName[name]; dup {
			continue
		}
		c.byName[name] = t
	}
	return c
}

func (c *catalog) resolve(name string) (types.ToolDescriptor, bool) {
	t, ok := c.byName[name]
	return t, ok
}

// suggest returns the closest known names to an unresolved one.
func (c *catalog) suggest(name string) []string {
	limit := max(2, len(name)/4)
	lower := strings.ToLower(name)

	type candidate struct {
		name string
		dist int
	}
	var found []candidate
	for known := range c.byName {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(known))
		if d <= limit {
			found = append(found, candidate{known, d})
		}
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].dist != found[j].dist {
			return found[i].dist < found[j].dist
		}
		return found[i].name < found[j].name
	})

	var out []string
	for i := 0; i < len(found) && i < maxSuggestions; i++ {
		out = append(out, found[i].name)
	}
	return out
}

// unknownToolResult is the error result for a call outside the snapshot.
func (c *catalog) unknownToolResult(name string) types.ToolResult {
	payload := struct {
		Error       string   `json:"error"`
		Suggestions []string `json:"suggestions,omitempty"`
	}{
		Error:       "Unknown tool: " + name,
		Suggestions: c.suggest(name),
	}
	data, _ := json.Marshal(payload)
	return types.ToolResult{Content: string(data), IsError: true}
}

// errorResult wraps an execution failure as {"error": msg}.
func errorResult(err error) types.ToolResult {
	data, _ := json.Marshal(map[string]string{"error": err.Error()})
	return types.ToolResult{Content: string(data), IsError: true}
}

// outputResult encodes a tool output as the tool turn content.
func outputResult(out *types.ToolOutput) types.ToolResult {
	if out == nil {
		return types.ToolResult{Content: "null"}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return errorResult(err)
	}
	return types.ToolResult{Content: string(data), IsError: out.IsError}
}
