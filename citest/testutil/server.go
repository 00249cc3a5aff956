package testutil

import (
	"context"
	"fmt"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"time"

	mcpgo "github.com/mark3labs/mcp-go/server"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/mcp"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/internal/provider/providertest"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/internal/server"
	"github.com/prism-ai/prism/pkg/mcpserver/taskboard"
	"github.com/prism-ai/prism/pkg/types"
)

// TestServer is a prism API listening on a real port, wired to a
// taskboard MCP server and a mock LLM that answers for every vendor.
type TestServer struct {
	Server    *server.Server
	BaseURL   string
	Board     *taskboard.Board
	BoardURL  string
	LLM       *providertest.MockLLMServer
	Registry  *mcp.Registry
	Providers *provider.Registry
	Bus       *event.Bus
	TempDir   string

	board *httptest.Server
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	locale    string
	maxRounds int
}

// WithLocale sets the configured reply language.
func WithLocale(locale string) TestServerOption {
	return func(c *testServerConfig) {
		c.locale = locale
	}
}

// WithMaxRounds caps the tool rounds of every chat.
func WithMaxRounds(n int) TestServerOption {
	return func(c *testServerConfig) {
		c.maxRounds = n
	}
}

// StartTestServer creates and starts a test server
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{locale: "en"}
	for _, opt := range opts {
		opt(cfg)
	}

	tempDir, err := os.MkdirTemp("", "prism-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	bus := event.NewBus()
	board := taskboard.NewBoard()
	boardSrv := mcpgo.NewTestStreamableHTTPServer(taskboard.NewServer(board))
	llm := providertest.NewMockLLMServer()

	providers := provider.NewRegistry()
	providers.Register(provider.NewOpenAIAdapter(provider.OpenAIConfig{APIKey: "test-key", BaseURL: llm.URL() + "/v1"}))
	providers.Register(provider.NewAnthropicAdapter(provider.AnthropicConfig{APIKey: "test-key", BaseURL: llm.URL()}))
	providers.Register(provider.NewGeminiAdapter(provider.GeminiConfig{APIKey: "test-key", BaseURL: llm.URL() + "/v1beta"}))
	providers.SetDefault(provider.VendorOpenAI)

	registry := mcp.NewRegistry(mcp.WithEventBus(bus), mcp.WithClientInfo("prism-citest", "0.0.0"))

	chatOpts := []chat.Option{chat.WithEvents(bus)}
	if cfg.maxRounds > 0 {
		chatOpts = append(chatOpts, chat.WithMaxRounds(cfg.maxRounds))
	}

	serverConfig := server.DefaultConfig()
	serverConfig.Port = port

	srv := server.New(serverConfig, server.Deps{
		AppConfig:  &types.Config{Locale: cfg.locale},
		Registry:   registry,
		Chat:       chat.New(providers, registry, chatOpts...),
		Providers:  providers,
		Secrets:    secrets.NewFileStore(filepath.Join(tempDir, "secrets")),
		Bus:        bus,
		ConfigPath: filepath.Join(tempDir, "prism.json"),
	})

	go func() {
		_ = srv.Start()
	}()

	ts := &TestServer{
		Server:    srv,
		BaseURL:   fmt.Sprintf("http://127.0.0.1:%d", port),
		Board:     board,
		BoardURL:  boardSrv.URL + "/mcp",
		LLM:       llm,
		Registry:  registry,
		Providers: providers,
		Bus:       bus,
		TempDir:   tempDir,
		board:     boardSrv,
	}

	if err := waitForServer(ts.BaseURL, 10*time.Second); err != nil {
		ts.Stop()
		return nil, fmt.Errorf("server failed to start: %w", err)
	}
	return ts, nil
}

// Stop shuts down the test server and cleans up
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if ts.Server != nil {
		err = ts.Server.Shutdown(ctx)
	}
	ts.LLM.Close()
	ts.board.Close()
	ts.Bus.Close()
	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}
	return err
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

// BoardConfig is the server config of the taskboard under id.
func (ts *TestServer) BoardConfig(id string) types.ServerConfig {
	return types.ServerConfig{ID: id, Type: types.TransportHTTP, URL: ts.BoardURL}
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/health")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
