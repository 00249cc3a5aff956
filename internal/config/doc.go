// Package config provides configuration loading, server import, and path
// management for Prism.
//
// # Configuration Loading
//
// Load merges configuration from these sources, later ones winning:
//
//  1. Global config ($XDG_CONFIG_HOME/prism/prism.{yaml,yml,json,jsonc})
//  2. Project config (<dir>/prism.* and <dir>/.prism/prism.*)
//  3. PRISM_CONFIG file
//  4. PRISM_CONFIG_CONTENT inline JSON
//  5. Environment variables (OPENAI_API_KEY, ANTHROPIC_API_KEY,
//     GEMINI_API_KEY/GOOGLE_API_KEY, PRISM_VENDOR, PRISM_LOCALE,
//     PRISM_MAX_ROUNDS)
//
// A .env file in the project directory is loaded before anything else.
// JSON files may contain comments (tidwall/jsonc); YAML files use the
// same field names.
//
// # Variable Interpolation
//
// Configuration files support two placeholders:
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents, escaped for a JSON string
//
// MCP server args and headers may additionally contain ${VAR}
// references. Those are not touched here; the registry substitutes them
// at connect time against the server's own env merged over the process
// environment.
//
// Example:
//
//	{
//	  "defaultVendor": "anthropic",
//	  "chat": { "maxRounds": 5 },
//	  "oauth": { "port": 54321 },
//	  "mcp": {
//	    "wrike": {
//	      "type": "http",
//	      "url": "https://www.wrike.com/app/mcp/sse",
//	      "headers": { "Authorization": "Bearer ${WRIKE_TOKEN}" }
//	    },
//	    "files": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-filesystem", "{file:~/.prism/root}"]
//	    }
//	  }
//	}
//
// # Server Import
//
// ParseServers reads the "mcpServers" document format shared by most MCP
// clients and turns it into ServerConfig values. Entries that launch a
// remote server through `npx mcp-remote <url> --header "K: V"` become
// native http servers.
//
// # Watching
//
// Watcher reloads the configuration when any config file changes so a
// running server can reconcile its managed connections.
package config
