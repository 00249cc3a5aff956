package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/prism-ai/prism/pkg/types"
)

// renderer prints chat progress and listings.
type renderer struct {
	out  io.Writer
	json bool

	user      *color.Color
	assistant *color.Color
	tool      *color.Color
	muted     *color.Color
	success   *color.Color
	failure   *color.Color
}

func newRenderer(out io.Writer, jsonOutput bool) *renderer {
	return &renderer{
		out:       out,
		json:      jsonOutput,
		user:      color.New(color.FgCyan, color.Bold),
		assistant: color.New(color.FgGreen, color.Bold),
		tool:      color.New(color.FgYellow),
		muted:     color.New(color.FgHiBlack),
		success:   color.New(color.FgGreen),
		failure:   color.New(color.FgRed),
	}
}

func (r *renderer) emit(v map[string]any) {
	b, _ := json.Marshal(v)
	fmt.Fprintln(r.out, string(b))
}

// User prints the user's turn.
func (r *renderer) User(text string) {
	if r.json {
		r.emit(map[string]any{"type": "user", "text": text})
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", r.user.Sprint("you ›"), text)
}

// Assistant prints the final reply.
func (r *renderer) Assistant(text string) {
	if r.json {
		r.emit(map[string]any{"type": "assistant", "text": text})
		return
	}
	fmt.Fprintf(r.out, "%s %s\n", r.assistant.Sprint("assistant ›"), text)
}

// ToolStart prints a call before it runs.
func (r *renderer) ToolStart(call types.ToolCall) {
	if r.json {
		r.emit(map[string]any{"type": "tool_start", "name": call.Name, "arguments": call.ArgumentsOrEmpty()})
		return
	}
	fmt.Fprintf(r.out, "%s %s %s\n", r.tool.Sprint("⚙"), call.Name, r.muted.Sprint(truncate(string(call.ArgumentsOrEmpty()), 80)))
}

// ToolEnd prints the outcome of a call.
func (r *renderer) ToolEnd(call types.ToolCall) {
	isError := call.Result != nil && call.Result.IsError
	if r.json {
		r.emit(map[string]any{"type": "tool_end", "name": call.Name, "isError": isError})
		return
	}
	mark := r.success.Sprint("✓")
	if isError {
		mark = r.failure.Sprint("✗")
	}
	fmt.Fprintf(r.out, "%s %s\n", mark, call.Name)
}

// Status prints one server status line.
func (r *renderer) Status(st types.ServerStatus) {
	state := string(st.Status)
	switch st.Status {
	case types.StatusConnected:
		state = r.success.Sprint(state)
	case types.StatusError:
		state = r.failure.Sprint(state)
	default:
		state = r.muted.Sprint(state)
	}
	line := fmt.Sprintf("  %-20s %-6s %s", st.ID, st.Type, state)
	if st.Status == types.StatusConnected {
		line += r.muted.Sprintf(" (%d tools)", st.ToolCount)
	}
	if st.Error != "" {
		line += " " + r.failure.Sprint(st.Error)
	}
	fmt.Fprintln(r.out, line)
}

// Muted prints a secondary line.
func (r *renderer) Muted(format string, args ...any) {
	fmt.Fprintln(r.out, r.muted.Sprintf(format, args...))
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
