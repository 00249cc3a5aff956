// Package server provides the HTTP API over the MCP registry, the chat
// orchestrator and the secret store.
//
// # Core Components
//
//   - HTTP Server: Chi-based router with request id, zerolog request
//     logging, panic recovery and CORS middleware
//   - Server management: connect, disconnect and inspect MCP servers,
//     and import mcpServers documents into the configuration
//   - Chat: one blocking endpoint that runs the model/tool loop
//   - Event Streaming: Server-Sent Events (SSE) mirroring the event bus
//
// # API Endpoints
//
//   - GET /servers, POST /servers, POST /servers/import
//   - /servers/{id}/*: status, tools, resources, prompts and tool calls
//   - GET /tools: the aggregated catalog of all connected servers
//   - POST /chat: run a chat with tools
//   - GET /providers: the configured model vendors
//   - /secrets/{id}: read (masked), merge and delete stored secrets
//   - GET /event: real-time event streaming via SSE
//
// # Errors
//
// Failures are returned as {"error": {"code", "message"}}. Unknown servers
// map to 404, servers that are not connected to 409, pending
// authorization to 401 and upstream MCP or vendor failures to 502.
//
// # Configuration Reload
//
// ApplyConfig is called by the configuration watcher. It disconnects
// servers that were removed or disabled and reconnects those whose
// configuration changed.
package server
