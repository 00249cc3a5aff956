package event

import "github.com/prism-ai/prism/pkg/types"

// ServerStatusData is the data for server.status events.
type ServerStatusData struct {
	Status types.ServerStatus `json:"status"`
}

// ServerToolsData is the data for server.tools events.
type ServerToolsData struct {
	ServerID string `json:"serverID"`
	Count    int    `json:"count"`
}

// AuthRequiredData is published when a server needs the user to finish
// an authorization in the browser.
type AuthRequiredData struct {
	ServerID string `json:"serverID"`
	URL      string `json:"url"`
}

// AuthCompletedData is the data for auth.completed events.
type AuthCompletedData struct {
	ServerID string `json:"serverID"`
	Error    string `json:"error,omitempty"`
}

// ToolStartedData is the data for tool.started events.
type ToolStartedData struct {
	RunID    string `json:"runID"`
	CallID   string `json:"callID"`
	Name     string `json:"name"`
	ServerID string `json:"serverID,omitempty"`
}

// ToolFinishedData is the data for tool.finished events.
type ToolFinishedData struct {
	RunID    string `json:"runID"`
	CallID   string `json:"callID"`
	Name     string `json:"name"`
	IsError  bool   `json:"isError"`
	Duration int64  `json:"durationMs"`
}

// ChatCompletedData is the data for chat.completed events.
type ChatCompletedData struct {
	RunID   string `json:"runID"`
	Vendor  string `json:"vendor"`
	Outcome string `json:"outcome"`
	Rounds  int    `json:"rounds"`
}

// ConfigReloadedData is the data for config.reloaded events.
type ConfigReloadedData struct {
	Servers []string `json:"servers"`
}
