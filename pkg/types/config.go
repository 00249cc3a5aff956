package types

// Config represents the Prism configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// DefaultVendor selects the adapter used when a chat request names none.
	DefaultVendor string `json:"defaultVendor,omitempty" yaml:"defaultVendor,omitempty"` // "openai"|"anthropic"|"gemini"

	// Locale for assistant replies ("en", "ja").
	Locale string `json:"locale,omitempty" yaml:"locale,omitempty"`

	// Provider configs keyed by vendor id
	Provider map[string]ProviderConfig `json:"provider,omitempty" yaml:"provider,omitempty"`

	// Chat loop settings
	Chat *ChatConfig `json:"chat,omitempty" yaml:"chat,omitempty"`

	// OAuth callback settings
	OAuth *OAuthSettings `json:"oauth,omitempty" yaml:"oauth,omitempty"`

	// MCP server configs keyed by server id
	MCP map[string]ServerConfig `json:"mcp,omitempty" yaml:"mcp,omitempty"`

	// Secret store settings
	Secrets *SecretsConfig `json:"secrets,omitempty" yaml:"secrets,omitempty"`

	// HTTP API settings
	Server *ServerSettings `json:"server,omitempty" yaml:"server,omitempty"`
}

// ProviderConfig holds configuration for one AI vendor.
type ProviderConfig struct {
	APIKey    string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	BaseURL   string `json:"baseURL,omitempty" yaml:"baseURL,omitempty"`
	Model     string `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Timeout   *int   `json:"timeout,omitempty" yaml:"timeout,omitempty"` // ms, nil = default
	Disable   bool   `json:"disable,omitempty" yaml:"disable,omitempty"`
}

// ChatConfig holds chat orchestration settings.
type ChatConfig struct {
	// MaxRounds caps model calls per chat run. Zero means the default.
	MaxRounds int `json:"maxRounds,omitempty" yaml:"maxRounds,omitempty"`
}

// OAuthSettings holds the local callback listener settings.
type OAuthSettings struct {
	// Port is the fixed callback port registered with providers.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`
	// CallbackTimeout in ms for a connection-level authorization.
	CallbackTimeout int `json:"callbackTimeout,omitempty" yaml:"callbackTimeout,omitempty"`
	// FlowTimeout in ms for the MCP handshake-driven flow.
	FlowTimeout int `json:"flowTimeout,omitempty" yaml:"flowTimeout,omitempty"`
	// CloseGrace in ms between the callback response and listener shutdown.
	CloseGrace int `json:"closeGrace,omitempty" yaml:"closeGrace,omitempty"`
}

// SecretsConfig selects the secret store backend.
type SecretsConfig struct {
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"` // "keyring"|"file"
}

// ServerSettings configures the HTTP API.
type ServerSettings struct {
	Port        int      `json:"port,omitempty" yaml:"port,omitempty"`
	Hostname    string   `json:"hostname,omitempty" yaml:"hostname,omitempty"`
	CORSOrigins []string `json:"corsOrigins,omitempty" yaml:"corsOrigins,omitempty"`
}
