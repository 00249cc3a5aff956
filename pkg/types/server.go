package types

import (
	"fmt"
	"strings"
)

// TransportKind is the transport used to reach a tool server.
type TransportKind string

const (
	TransportStdio TransportKind = "stdio"
	TransportHTTP  TransportKind = "http"
)

// ConnectionStatus is the lifecycle state of a managed tool server.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusError        ConnectionStatus = "error"
)

// ServerConfig describes one tool server.
type ServerConfig struct {
	ID   string        `json:"id" yaml:"id"`
	Name string        `json:"name,omitempty" yaml:"name,omitempty"`
	Type TransportKind `json:"type,omitempty" yaml:"type,omitempty"` // "stdio"|"http"

	// stdio
	Command string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`

	// http
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	Disabled bool `json:"disabled,omitempty" yaml:"disabled,omitempty"`
	Timeout  int  `json:"timeout,omitempty" yaml:"timeout,omitempty"` // ms

	// DisabledTools holds glob patterns of tool names hidden from listings.
	DisabledTools []string `json:"disabledTools,omitempty" yaml:"disabledTools,omitempty"`

	OAuth *OAuthClientConfig `json:"oauth,omitempty" yaml:"oauth,omitempty"`
}

// OAuthClientConfig holds statically registered OAuth client details for a
// server. Missing endpoints are discovered from the server.
type OAuthClientConfig struct {
	ClientID     string   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	ClientSecret string   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	AuthURL      string   `json:"authUrl,omitempty" yaml:"authUrl,omitempty"`
	TokenURL     string   `json:"tokenUrl,omitempty" yaml:"tokenUrl,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
	// ExtraParams is appended verbatim to the authorization URL query,
	// e.g. "prompt=select_account".
	ExtraParams string `json:"extraParams,omitempty" yaml:"extraParams,omitempty"`
	// ExchangeStyle is "form" (default), "basic" or "basic_json".
	ExchangeStyle string `json:"exchangeStyle,omitempty" yaml:"exchangeStyle,omitempty"`
}

// DisplayName returns Name, falling back to ID.
func (c ServerConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// Kind returns the transport kind, inferring it when unset.
func (c ServerConfig) Kind() TransportKind {
	if c.Type != "" {
		return c.Type
	}
	if c.URL != "" && c.Command == "" {
		return TransportHTTP
	}
	return TransportStdio
}

// Validate checks the fields required by the transport kind.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return &ConfigError{Field: "id", Reason: "is required"}
	}
	switch c.Kind() {
	case TransportStdio:
		if strings.TrimSpace(c.Command) == "" {
			return &ConfigError{ServerID: c.ID, Field: "command", Reason: "is required for stdio servers"}
		}
	case TransportHTTP:
		if strings.TrimSpace(c.URL) == "" {
			return &ConfigError{ServerID: c.ID, Field: "url", Reason: "is required for http servers"}
		}
	default:
		return &ConfigError{ServerID: c.ID, Field: "type", Reason: fmt.Sprintf("unknown transport %q", c.Type)}
	}
	return nil
}

// ConfigError reports an invalid server configuration. Connections are
// never attempted for configs that fail validation.
type ConfigError struct {
	ServerID string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	if e.ServerID == "" {
		return fmt.Sprintf("invalid server config: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid server config %q: %s %s", e.ServerID, e.Field, e.Reason)
}

// Capabilities is the feature set a server advertised during the handshake.
type Capabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
	Logging   bool `json:"logging"`
}

// ServerInfo identifies the remote implementation.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerStatus is the externally visible state of a managed server.
type ServerStatus struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         TransportKind    `json:"type"`
	Status       ConnectionStatus `json:"status"`
	Error        string           `json:"error,omitempty"`
	ServerInfo   *ServerInfo      `json:"serverInfo,omitempty"`
	Capabilities *Capabilities    `json:"capabilities,omitempty"`
	ToolCount    int              `json:"toolCount"`
}
