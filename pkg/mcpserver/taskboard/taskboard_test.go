package taskboard

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callTool(t *testing.T, board *Board, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool := NewServer(board).GetTool(name)
	require.NotNil(t, tool, "%s tool should exist", name)

	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := tool.Handler(context.Background(), request)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "content should be text")
	return text.Text
}

func TestTaskboard_AddTask(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		wantErr  bool
		priority string
	}{
		{name: "default priority", args: map[string]any{"title": "write docs"}, priority: "normal"},
		{name: "explicit priority", args: map[string]any{"title": "fix bug", "priority": "high"}, priority: "high"},
		{name: "missing title", args: map[string]any{}, wantErr: true},
		{name: "blank title", args: map[string]any{"title": "  "}, wantErr: true},
		{name: "bad priority", args: map[string]any{"title": "x", "priority": "urgent"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := NewBoard()
			result := callTool(t, board, "add_task", tt.args)
			if tt.wantErr {
				assert.True(t, result.IsError)
				assert.Empty(t, board.List(false))
				return
			}
			assert.False(t, result.IsError)

			var task Task
			require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &task))
			assert.Equal(t, 1, task.ID)
			assert.Equal(t, tt.priority, task.Priority)
		})
	}
}

func TestTaskboard_CompleteAndList(t *testing.T) {
	board := NewBoard()
	board.Add("one", "low")
	board.Add("two", "high")

	result := callTool(t, board, "complete_task", map[string]any{"id": float64(1)})
	assert.False(t, result.IsError)

	var open []Task
	result = callTool(t, board, "list_tasks", map[string]any{"open": true})
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &open))
	require.Len(t, open, 1)
	assert.Equal(t, "two", open[0].Title)

	assert.Len(t, board.List(false), 2)

	result = callTool(t, board, "complete_task", map[string]any{"id": float64(42)})
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not found")
}

func TestTaskboard_HasTools(t *testing.T) {
	s := NewServer(NewBoard())
	for _, name := range []string{"add_task", "list_tasks", "complete_task"} {
		tool := s.GetTool(name)
		require.NotNil(t, tool, "%s tool should exist", name)
		assert.NotEmpty(t, tool.Tool.Description)
	}
}
