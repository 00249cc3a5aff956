package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prism-ai/prism/pkg/types"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Defaults for values a config may leave unset.
const (
	DefaultMaxRounds       = 5
	DefaultCallbackPort    = 54321
	DefaultCallbackTimeout = 2 * time.Minute
	DefaultFlowTimeout     = 5 * time.Minute
	DefaultCloseGrace      = 3 * time.Second
	DefaultServerPort      = 4096
	DefaultLocale          = "en"
)

// File names searched in every config directory, in load order.
var configFileNames = []string{"prism.yaml", "prism.yml", "prism.json", "prism.jsonc"}

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config ($XDG_CONFIG_HOME/prism/)
// 2. Project config (<dir>/prism.* and <dir>/.prism/prism.*)
// 3. PRISM_CONFIG file
// 4. PRISM_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// A .env file in the project directory is loaded into the process
// environment first; variables that are already set win.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{
		Provider: make(map[string]types.ProviderConfig),
		MCP:      make(map[string]types.ServerConfig),
	}

	if directory != "" {
		envFile := filepath.Join(directory, ".env")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}

	loaded := make(map[string]bool)
	var loadErr error
	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		if err := loadConfigFile(path, config, baseDir); err != nil {
			if loadErr == nil {
				loadErr = fmt.Errorf("load %s: %w", path, err)
			}
			return
		}
		loaded[absPath] = true
	}

	globalPath := GetPaths().Config
	for _, name := range configFileNames {
		loadOnce(filepath.Join(globalPath, name), globalPath)
	}

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".prism")
		for _, name := range configFileNames {
			loadOnce(filepath.Join(directory, name), directory)
		}
		for _, name := range configFileNames {
			loadOnce(filepath.Join(projectConfigDir, name), projectConfigDir)
		}
	}

	if configPath := os.Getenv("PRISM_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	if configContent := os.Getenv("PRISM_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inlineConfig); err != nil {
			return nil, fmt.Errorf("parse PRISM_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inlineConfig)
	}

	if loadErr != nil {
		return nil, loadErr
	}

	applyEnvOverrides(config)
	ApplyDefaults(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	fileConfig, err := parseConfig(interpolate(data, baseDir), filepath.Ext(path))
	if err != nil {
		return err
	}

	mergeConfig(config, fileConfig)
	return nil
}

// LoadFile reads one config file as written, without interpolation,
// defaults or env overrides, so it can be edited and saved back. A
// missing file yields an empty config.
func LoadFile(path string) (*types.Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &types.Config{}, nil
	}
	if err != nil {
		return nil, err
	}
	cfg, err := parseConfig(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// parseConfig decodes YAML for .yaml/.yml files and JSONC otherwise.
func parseConfig(data []byte, ext string) (*types.Config, error) {
	var cfg types.Config
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(jsonc.ToJSON(data), &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := envPattern.ReplaceAllStringFunc(string(data), func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		// Escape for a JSON (or YAML double-quoted) string
		escaped := strings.TrimRight(string(content), "\r\n")
		escaped = strings.ReplaceAll(escaped, "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.DefaultVendor != "" {
		target.DefaultVendor = source.DefaultVendor
	}
	if source.Locale != "" {
		target.Locale = source.Locale
	}

	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]types.ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}

	if source.MCP != nil {
		if target.MCP == nil {
			target.MCP = make(map[string]types.ServerConfig)
		}
		for k, v := range source.MCP {
			target.MCP[k] = v
		}
	}

	if source.Chat != nil {
		target.Chat = source.Chat
	}
	if source.OAuth != nil {
		target.OAuth = source.OAuth
	}
	if source.Secrets != nil {
		target.Secrets = source.Secrets
	}
	if source.Server != nil {
		target.Server = source.Server
	}
}

// providerEnvMap maps vendor ids to the environment variables holding
// their API keys, in lookup order.
var providerEnvMap = map[string][]string{
	"openai":    {"OPENAI_API_KEY"},
	"anthropic": {"ANTHROPIC_API_KEY"},
	"gemini":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	for provider, envVars := range providerEnvMap {
		p := config.Provider[provider]
		if p.APIKey != "" {
			continue
		}
		for _, envVar := range envVars {
			if apiKey := os.Getenv(envVar); apiKey != "" {
				p.APIKey = apiKey
				config.Provider[provider] = p
				break
			}
		}
	}

	if vendor := os.Getenv("PRISM_VENDOR"); vendor != "" {
		config.DefaultVendor = vendor
	}

	if locale := os.Getenv("PRISM_LOCALE"); locale != "" {
		config.Locale = locale
	}

	if rounds := os.Getenv("PRISM_MAX_ROUNDS"); rounds != "" {
		if n, err := strconv.Atoi(rounds); err == nil && n > 0 {
			if config.Chat == nil {
				config.Chat = &types.ChatConfig{}
			}
			config.Chat.MaxRounds = n
		}
	}
}

// ApplyDefaults fills unset values and normalises server entries.
func ApplyDefaults(config *types.Config) {
	if config.Locale == "" {
		config.Locale = DefaultLocale
	}
	if config.Chat == nil {
		config.Chat = &types.ChatConfig{}
	}
	if config.Chat.MaxRounds <= 0 {
		config.Chat.MaxRounds = DefaultMaxRounds
	}
	if config.OAuth == nil {
		config.OAuth = &types.OAuthSettings{}
	}
	if config.OAuth.Port == 0 {
		config.OAuth.Port = DefaultCallbackPort
	}
	if config.OAuth.CallbackTimeout == 0 {
		config.OAuth.CallbackTimeout = int(DefaultCallbackTimeout / time.Millisecond)
	}
	if config.OAuth.FlowTimeout == 0 {
		config.OAuth.FlowTimeout = int(DefaultFlowTimeout / time.Millisecond)
	}
	if config.OAuth.CloseGrace == 0 {
		config.OAuth.CloseGrace = int(DefaultCloseGrace / time.Millisecond)
	}
	if config.Server == nil {
		config.Server = &types.ServerSettings{}
	}
	if config.Server.Port == 0 {
		config.Server.Port = DefaultServerPort
	}
	if config.Server.Hostname == "" {
		config.Server.Hostname = "127.0.0.1"
	}
	if config.MCP == nil {
		config.MCP = make(map[string]types.ServerConfig)
	}
	for id, srv := range config.MCP {
		if srv.ID == "" {
			srv.ID = id
		}
		if srv.Name == "" {
			srv.Name = id
		}
		if srv.Type == "" {
			srv.Type = srv.Kind()
		}
		config.MCP[id] = srv
	}
}

// Millis converts a millisecond config value to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers PRISM_CONFIG_DIR, then the XDG location.
func GetConfigDir() string {
	if dir := os.Getenv("PRISM_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
