package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		field   string
		wantErr bool
	}{
		{"stdio ok", ServerConfig{ID: "a", Command: "node"}, "", false},
		{"http ok", ServerConfig{ID: "a", Type: TransportHTTP, URL: "http://x"}, "", false},
		{"inferred http", ServerConfig{ID: "a", URL: "http://x"}, "", false},
		{"missing id", ServerConfig{Command: "node"}, "id", true},
		{"stdio without command", ServerConfig{ID: "a", Type: TransportStdio}, "command", true},
		{"http without url", ServerConfig{ID: "a", Type: TransportHTTP}, "url", true},
		{"unknown transport", ServerConfig{ID: "a", Type: "sse", URL: "http://x"}, "type", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestQualifiedName(t *testing.T) {
	d := ToolDescriptor{ServerName: "Wrike", Name: "get_tasks"}
	assert.Equal(t, "Wrike__get_tasks", d.QualifiedName())

	d = ToolDescriptor{ServerName: "My Server.v2", Name: "list/files"}
	assert.Equal(t, "My_Server_v2__list_files", d.QualifiedName())
}

func TestToolCallResolvedOnce(t *testing.T) {
	call := ToolCall{ID: "1", Name: "a__b"}
	first := call.Resolved("srv", ToolResult{Content: `{"ok":true}`})
	require.NotNil(t, first.Result)
	assert.Equal(t, "srv", first.ServerID)
	assert.Nil(t, call.Result)

	second := first.Resolved("other", ToolResult{Content: "x"})
	assert.Equal(t, "srv", second.ServerID)
	assert.Equal(t, `{"ok":true}`, second.Result.Content)
}

func TestArgumentsOrEmpty(t *testing.T) {
	assert.JSONEq(t, `{}`, string(ToolCall{}.ArgumentsOrEmpty()))
	assert.JSONEq(t, `{}`, string(ToolCall{Arguments: json.RawMessage("null")}.ArgumentsOrEmpty()))
	assert.Equal(t, map[string]any{"q": "x"}, ToolCall{Arguments: json.RawMessage(`{"q":"x"}`)}.ArgumentsMap())
	assert.Empty(t, ToolCall{Arguments: json.RawMessage(`[1]`)}.ArgumentsMap())
}

func TestCloneHistoryDoesNotAlias(t *testing.T) {
	history := []ChatMessage{
		NewAssistantMessage("", []ToolCall{{ID: "1", Name: "a__b"}}),
	}
	clone := CloneHistory(history)
	clone[0].ToolCalls[0] = clone[0].ToolCalls[0].Resolved("s", ToolResult{Content: "{}"})
	assert.Nil(t, history[0].ToolCalls[0].Result)
}

func TestToolOutputText(t *testing.T) {
	out := &ToolOutput{Content: []ContentItem{
		{Type: "text", Text: "one"},
		{Type: "image", Data: []byte{1}},
		{Type: "text", Text: "two"},
	}}
	assert.Equal(t, "one\ntwo", out.Text())
	assert.Equal(t, "", (*ToolOutput)(nil).Text())
}
