package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/prism-ai/prism/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
	"mvdan.cc/sh/v3/shell"
)

// ErrNoServers is returned when an import document holds no server entries.
var ErrNoServers = errors.New("no MCP servers found in document")

// importedServer is the common shape used by MCP client configuration
// files: {"mcpServers": {"<name>": {...}}}.
type importedServer struct {
	Type    string            `json:"type,omitempty" yaml:"type,omitempty"`
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    argList           `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// argList accepts either a JSON array or a single shell-style string.
type argList []string

func (a *argList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*a = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("args must be a list or a string")
	}
	fields, err := splitCommandLine(s)
	if err != nil {
		return err
	}
	*a = fields
	return nil
}

func (a *argList) UnmarshalYAML(node *yaml.Node) error {
	var list []string
	if err := node.Decode(&list); err == nil {
		*a = list
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("args must be a list or a string")
	}
	fields, err := splitCommandLine(s)
	if err != nil {
		return err
	}
	*a = fields
	return nil
}

// ParseServers parses an MCP server document. Accepted shapes:
//   - {"mcpServers": {"name": {...}, ...}}
//   - {"name": {"command": ...}} (named entries at the top level)
//   - {"command": ...} or {"url": ...} (a single unnamed server)
//
// format is "yaml" or anything else for JSONC. Entries launched through
// `npx mcp-remote <url>` are converted into native http servers.
func ParseServers(data []byte, format string) ([]types.ServerConfig, error) {
	var root map[string]any
	if err := decode(data, format, &root); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	entries := map[string]importedServer{}
	switch {
	case root["mcpServers"] != nil:
		var doc struct {
			MCPServers map[string]importedServer `json:"mcpServers" yaml:"mcpServers"`
		}
		if err := decode(data, format, &doc); err != nil {
			return nil, fmt.Errorf("parse mcpServers: %w", err)
		}
		entries = doc.MCPServers
	case root["command"] != nil || root["url"] != nil:
		var single importedServer
		if err := decode(data, format, &single); err != nil {
			return nil, fmt.Errorf("parse server: %w", err)
		}
		entries["imported-server"] = single
	default:
		if err := decode(data, format, &entries); err != nil {
			return nil, fmt.Errorf("parse servers: %w", err)
		}
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []types.ServerConfig
	for _, name := range names {
		cfg, err := entries[name].toServerConfig(name)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if len(out) == 0 {
		return nil, ErrNoServers
	}
	return out, nil
}

func decode(data []byte, format string, v any) error {
	if format == "yaml" || format == "yml" {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(jsonc.ToJSON(data), v)
}

func (s importedServer) toServerConfig(name string) (types.ServerConfig, error) {
	cfg := types.ServerConfig{
		ID:   ServerID(name),
		Name: name,
		Env:  s.Env,
	}

	command, args := s.Command, []string(s.Args)
	if command != "" && len(args) == 0 && strings.ContainsAny(command, " \t") {
		fields, err := splitCommandLine(command)
		if err != nil {
			return cfg, fmt.Errorf("server %q: %w", name, err)
		}
		command, args = fields[0], fields[1:]
	}

	if remote, ok := convertMCPRemote(command, args); ok {
		cfg.Type = types.TransportHTTP
		cfg.URL = remote.URL
		cfg.Headers = remote.Headers
		return cfg, cfg.Validate()
	}

	switch {
	case command != "":
		cfg.Type = types.TransportStdio
		cfg.Command = command
		cfg.Args = args
	case s.URL != "":
		cfg.Type = types.TransportHTTP
		cfg.URL = s.URL
		cfg.Headers = s.Headers
	default:
		return cfg, fmt.Errorf("server %q: missing \"command\" or \"url\"", name)
	}
	return cfg, cfg.Validate()
}

type remoteEndpoint struct {
	URL     string
	Headers map[string]string
}

// convertMCPRemote detects `npx [-y] mcp-remote <url> [--header "K: V"]...`
// and returns the remote endpoint it proxies.
func convertMCPRemote(command string, args []string) (remoteEndpoint, bool) {
	if command != "npx" {
		return remoteEndpoint{}, false
	}
	usesRemote := false
	for _, a := range args {
		if strings.Contains(a, "mcp-remote") {
			usesRemote = true
			break
		}
	}
	if !usesRemote {
		return remoteEndpoint{}, false
	}

	var ep remoteEndpoint
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--header" && i+1 < len(args):
			key, value, ok := strings.Cut(args[i+1], ":")
			if ok {
				if ep.Headers == nil {
					ep.Headers = map[string]string{}
				}
				ep.Headers[strings.TrimSpace(key)] = strings.TrimSpace(value)
			}
			i++
		case ep.URL == "" && (strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://")):
			ep.URL = a
		}
	}
	return ep, ep.URL != ""
}

// splitCommandLine splits a shell-style command line. Variable references
// are preserved as ${NAME} so they are substituted at connect time.
func splitCommandLine(s string) ([]string, error) {
	fields, err := shell.Fields(s, func(name string) string {
		return "${" + name + "}"
	})
	if err != nil {
		return nil, fmt.Errorf("split command %q: %w", s, err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command")
	}
	return fields, nil
}

// ServerID derives a stable id from a display name.
func ServerID(name string) string {
	id := strings.ToLower(strings.TrimSpace(name))
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
	id = strings.Trim(id, "-")
	if id == "" {
		return "server"
	}
	return id
}

// MergeServers adds imported servers to the config, replacing entries
// with the same id. It returns the ids that were added or replaced.
func MergeServers(cfg *types.Config, servers []types.ServerConfig) []string {
	if cfg.MCP == nil {
		cfg.MCP = make(map[string]types.ServerConfig)
	}
	ids := make([]string, 0, len(servers))
	for _, s := range servers {
		cfg.MCP[s.ID] = s
		ids = append(ids, s.ID)
	}
	return ids
}
