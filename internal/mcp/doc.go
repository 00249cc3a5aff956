// Package mcp manages connections to Model Context Protocol tool servers
// using the official MCP Go SDK.
//
// A Registry owns at most one live transport and client session per server
// id. Connecting an id that is already registered tears the old session
// down first. Servers are reached either by spawning a subprocess that
// speaks MCP over stdio, or over the streamable HTTP transport.
//
// # Connection States
//
// Every managed server moves through
//
//	disconnected -> connecting -> connected | error
//
// A connected server becomes disconnected when the remote end closes the
// stream, and error when the transport faults. Disconnect removes the
// entry from any state.
//
// # Variable Substitution
//
// ${NAME} references in stdio args, the http URL and http header values are
// expanded against the process environment overlaid with the server's Env.
// Unknown names expand to the empty string.
//
// # Protocol Noise
//
// Some servers emit well-formed JSON that is not JSON-RPC, such as
// heartbeats, on stdout or as event stream data. Those messages are dropped
// and logged once per connection; see IsProtocolNoise. Malformed JSON ends
// the connection with a fault.
//
// # Authorization
//
// When an http server answers the handshake with 401 the registry asks its
// Authenticator for a token, then rebuilds the transport and retries the
// handshake once.
//
// # Basic Usage
//
//	reg := mcp.NewRegistry(mcp.WithEventBus(bus))
//	defer reg.DisconnectAll(ctx)
//
//	_, err := reg.Connect(ctx, types.ServerConfig{
//		ID:      "tasks",
//		Command: "taskboard-mcp",
//	})
//	if err != nil {
//		return err
//	}
//
//	tools, _ := reg.ListAllTools(ctx)
//	out, err := reg.CallTool(ctx, "tasks", "add_task", json.RawMessage(`{"title":"x"}`))
package mcp
