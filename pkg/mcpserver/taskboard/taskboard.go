// Package taskboard provides a small MCP server that keeps an in-memory
// task list. It exposes tools, resources and a prompt, and is used as a
// reference server by the registry tests and for local demos.
package taskboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	// TasksURI lists every task as JSON.
	TasksURI = "taskboard://tasks"
	// GuideURI is an HTML usage guide.
	GuideURI = "taskboard://guide"
)

// Task is one entry on the board.
type Task struct {
	ID       int    `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Done     bool   `json:"done"`
}

// Board is the task store behind the server.
type Board struct {
	mu     sync.Mutex
	nextID int
	tasks  map[int]*Task
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{nextID: 1, tasks: make(map[int]*Task)}
}

// Add stores a new task and returns it.
func (b *Board) Add(title, priority string) Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &Task{ID: b.nextID, Title: title, Priority: priority}
	b.tasks[t.ID] = t
	b.nextID++
	return *t
}

// Complete marks a task done.
func (b *Board) Complete(id int) (Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("task %d not found", id)
	}
	t.Done = true
	return *t, nil
}

// List returns tasks ordered by id. When open is true, done tasks are
// left out.
func (b *Board) List(open bool) []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		if open && t.Done {
			continue
		}
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NewServer creates the taskboard MCP server backed by board.
func NewServer(board *Board) *server.MCPServer {
	s := server.NewMCPServer(
		"taskboard",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, false),
		server.WithPromptCapabilities(false),
	)

	s.AddTool(mcp.NewTool("add_task",
		mcp.WithDescription("Adds a task to the board"),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short task title"),
		),
		mcp.WithString("priority",
			mcp.Description("Task priority"),
			mcp.Enum("low", "normal", "high"),
		),
	), board.addHandler)

	s.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("Lists tasks on the board"),
		mcp.WithBoolean("open",
			mcp.Description("Only list tasks that are not done"),
		),
	), board.listHandler)

	s.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Marks a task as done"),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("Task id"),
		),
	), board.completeHandler)

	s.AddResource(mcp.NewResource(TasksURI, "tasks",
		mcp.WithResourceDescription("All tasks as JSON"),
		mcp.WithMIMEType("application/json"),
	), board.tasksResource)

	s.AddResource(mcp.NewResource(GuideURI, "guide",
		mcp.WithResourceDescription("How to use the board"),
		mcp.WithMIMEType("text/html"),
	), guideResource)

	s.AddPrompt(mcp.NewPrompt("plan_day",
		mcp.WithPromptDescription("Plans the day from the open tasks"),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Area to focus on"),
		),
	), board.planPrompt)

	return s
}

func (b *Board) addHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := request.RequireString("title")
	if err != nil || strings.TrimSpace(title) == "" {
		return mcp.NewToolResultError("title is required"), nil
	}
	priority := request.GetString("priority", "normal")
	switch priority {
	case "low", "normal", "high":
	default:
		return mcp.NewToolResultErrorf("invalid priority %q", priority), nil
	}
	return jsonResult(b.Add(title, priority))
}

func (b *Board) listHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(b.List(request.GetBool("open", false)))
}

func (b *Board) completeHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireInt("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	t, err := b.Complete(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t)
}

func (b *Board) tasksResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.Marshal(b.List(false))
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      TasksURI,
		MIMEType: "application/json",
		Text:     string(data),
	}}, nil
}

const guideHTML = `<h1>Taskboard</h1>
<p>Use <code>add_task</code> to add work and <code>complete_task</code> to finish it.</p>
<ul><li>Priorities: low, normal, high</li></ul>`

func guideResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      GuideURI,
		MIMEType: "text/html",
		Text:     guideHTML,
	}}, nil
}

func (b *Board) planPrompt(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var lines []string
	for _, t := range b.List(true) {
		lines = append(lines, fmt.Sprintf("- [%s] %s", t.Priority, t.Title))
	}
	if len(lines) == 0 {
		lines = append(lines, "- (no open tasks)")
	}
	text := "Plan my day around these tasks:\n" + strings.Join(lines, "\n")
	if focus := request.Params.Arguments["focus"]; focus != "" {
		text += "\nFocus on: " + focus
	}
	return mcp.NewGetPromptResult("Daily plan", []mcp.PromptMessage{
		mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
	}), nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
