package mcp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/modelcontextprotocol/go-sdk/auth"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/oauth"
	"github.com/prism-ai/prism/pkg/mcpserver/taskboard"
	"github.com/prism-ai/prism/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const goodToken = "good-token"

type echoInput struct {
	Text string `json:"text" jsonschema:"text to echo"`
}

// newEchoServer returns a go-sdk MCP server with a single echo tool.
func newEchoServer() *sdkmcp.Server {
	srv := sdkmcp.NewServer(&sdkmcp.Implementation{Name: "echo", Version: "0.1.0"}, nil)
	sdkmcp.AddTool(srv, &sdkmcp.Tool{Name: "echo", Description: "Echoes text"},
		func(ctx context.Context, req *sdkmcp.CallToolRequest, in echoInput) (*sdkmcp.CallToolResult, any, error) {
			return &sdkmcp.CallToolResult{Content: []sdkmcp.Content{&sdkmcp.TextContent{Text: in.Text}}}, nil, nil
		})
	return srv
}

// newProtectedServer serves the echo server behind bearer auth. Only
// goodToken is accepted.
func newProtectedServer(t *testing.T) *httptest.Server {
	t.Helper()
	var ts *httptest.Server
	mux := http.NewServeMux()
	handler := sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return newEchoServer() }, nil)
	mux.Handle("/mcp", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verifier := func(ctx context.Context, token string, req *http.Request) (*auth.TokenInfo, error) {
			if token != goodToken {
				return nil, auth.ErrInvalidToken
			}
			return &auth.TokenInfo{Expiration: time.Now().Add(time.Hour)}, nil
		}
		auth.RequireBearerToken(verifier, &auth.RequireBearerTokenOptions{
			ResourceMetadataURL: ts.URL + "/.well-known/oauth-protected-resource",
		})(handler).ServeHTTP(w, r)
	}))
	ts = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// fakeAuthenticator hands out a fixed token and records challenges.
type fakeAuthenticator struct {
	mu         sync.Mutex
	cached     *oauth2.Token
	token      string
	challenges []oauth.Challenge
}

func (f *fakeAuthenticator) CachedToken(ctx context.Context, cfg types.ServerConfig) (*oauth2.Token, error) {
	return f.cached, nil
}

func (f *fakeAuthenticator) Authorize(ctx context.Context, cfg types.ServerConfig, ch oauth.Challenge) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.challenges = append(f.challenges, ch)
	return &oauth2.Token{AccessToken: f.token, TokenType: "Bearer"}, nil
}

func (f *fakeAuthenticator) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.challenges)
}

func httpConfig(id, url string) types.ServerConfig {
	return types.ServerConfig{ID: id, Type: types.TransportHTTP, URL: url}
}

func TestRegistry_StreamableHTTP(t *testing.T) {
	ctx := context.Background()

	var seen atomic.Value
	base := server.NewStreamableHTTPServer(taskboard.NewServer(taskboard.NewBoard()))
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v := r.Header.Get("X-Workspace"); v != "" {
			seen.Store(v)
		}
		base.ServeHTTP(w, r)
	}))
	defer ts.Close()

	reg := NewRegistry()
	defer reg.DisconnectAll(ctx)

	cfg := httpConfig("board", ts.URL+"/mcp")
	cfg.Env = map[string]string{"WORKSPACE_ID": "ws-42"}
	cfg.Headers = map[string]string{"X-Workspace": "${WORKSPACE_ID}"}

	res, err := reg.Connect(ctx, cfg)
	require.NoError(t, err)
	assert.True(t, res.Capabilities.Tools)
	assert.Equal(t, "ws-42", seen.Load())

	tools, err := reg.ListTools(ctx, "board")
	require.NoError(t, err)
	assert.Len(t, tools, 3)

	out, err := reg.CallTool(ctx, "board", "add_task", []byte(`{"title":"remote"}`))
	require.NoError(t, err)
	assert.Contains(t, out.Text(), "remote")

	require.NoError(t, reg.Disconnect(ctx, "board"))
	assert.Equal(t, types.StatusDisconnected, reg.GetStatus("board"))
}

func TestRegistry_AuthRetry(t *testing.T) {
	ctx := context.Background()
	ts := newProtectedServer(t)

	authn := &fakeAuthenticator{token: goodToken}
	bus := event.NewBus()
	defer bus.Close()
	rec := recordStatuses(t, bus)

	reg := NewRegistry(WithAuthenticator(authn), WithEventBus(bus))
	defer reg.DisconnectAll(ctx)

	_, err := reg.Connect(ctx, httpConfig("secure", ts.URL+"/mcp"))
	require.NoError(t, err)

	require.Equal(t, 1, authn.calls())
	ch := authn.challenges[0]
	assert.Equal(t, "Bearer", ch.Scheme)
	assert.Equal(t, ts.URL+"/.well-known/oauth-protected-resource", ch.ResourceMetadata)
	assert.Equal(t, ts.URL+"/mcp", ch.Endpoint)

	assert.Equal(t, []types.ConnectionStatus{types.StatusConnecting, types.StatusConnected}, rec.sequence("secure"))

	out, err := reg.CallTool(ctx, "secure", "echo", []byte(`{"text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Text())
}

func TestRegistry_AuthRequiredWithoutAuthenticator(t *testing.T) {
	ctx := context.Background()
	ts := newProtectedServer(t)

	bus := event.NewBus()
	defer bus.Close()
	rec := recordStatuses(t, bus)
	reg := NewRegistry(WithEventBus(bus))

	_, err := reg.Connect(ctx, httpConfig("secure", ts.URL+"/mcp"))
	require.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, types.StatusDisconnected, reg.GetStatus("secure"))
	assert.Equal(t, []types.ConnectionStatus{types.StatusConnecting, types.StatusError}, rec.sequence("secure"))
}

func TestRegistry_AuthRetriedOnlyOnce(t *testing.T) {
	ctx := context.Background()
	ts := newProtectedServer(t)

	authn := &fakeAuthenticator{token: "wrong"}
	reg := NewRegistry(WithAuthenticator(authn))

	_, err := reg.Connect(ctx, httpConfig("secure", ts.URL+"/mcp"))
	require.ErrorIs(t, err, ErrAuthRequired)
	assert.Equal(t, authRetryBudget, authn.calls())
	assert.Empty(t, reg.Statuses())
}

func TestRegistry_CachedTokenSkipsAuthorize(t *testing.T) {
	ctx := context.Background()
	ts := newProtectedServer(t)

	authn := &fakeAuthenticator{cached: &oauth2.Token{AccessToken: goodToken}}
	reg := NewRegistry(WithAuthenticator(authn))
	defer reg.DisconnectAll(ctx)

	_, err := reg.Connect(ctx, httpConfig("secure", ts.URL+"/mcp"))
	require.NoError(t, err)
	assert.Zero(t, authn.calls())
}

// heartbeatWriter writes a non JSON-RPC event ahead of every event of an
// event stream response.
type heartbeatWriter struct {
	http.ResponseWriter
	sent *atomic.Int32
}

func (w *heartbeatWriter) Write(p []byte) (int, error) {
	if strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream") {
		if _, err := io.WriteString(w.ResponseWriter, "data: "+heartbeat+"\n"); err != nil {
			return 0, err
		}
		w.sent.Add(1)
	}
	return w.ResponseWriter.Write(p)
}

func (w *heartbeatWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func TestRegistry_HTTPNoiseIsIgnored(t *testing.T) {
	ctx := context.Background()

	var sent atomic.Int32
	handler := sdkmcp.NewStreamableHTTPHandler(func(*http.Request) *sdkmcp.Server { return newEchoServer() }, nil)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(&heartbeatWriter{ResponseWriter: w, sent: &sent}, r)
	}))
	defer ts.Close()

	bus := event.NewBus()
	defer bus.Close()
	rec := recordStatuses(t, bus)
	reg := NewRegistry(WithEventBus(bus))
	defer reg.DisconnectAll(ctx)

	_, err := reg.Connect(ctx, httpConfig("noisy", ts.URL+"/mcp"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		out, err := reg.CallTool(ctx, "noisy", "echo", []byte(`{"text":"hi"}`))
		require.NoError(t, err)
		assert.Equal(t, "hi", out.Text())
	}

	assert.Positive(t, sent.Load())
	assert.Equal(t, types.StatusConnected, reg.GetStatus("noisy"))
	assert.Equal(t, []types.ConnectionStatus{types.StatusConnecting, types.StatusConnected}, rec.sequence("noisy"))
}
