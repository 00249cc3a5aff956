package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/server"
	"github.com/prism-ai/prism/pkg/types"
)

// TestClient provides HTTP client utilities for testing
type TestClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewTestClient creates a new test HTTP client
func NewTestClient(baseURL string) *TestClient {
	return &TestClient{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// RequestOption configures HTTP requests
type RequestOption func(*http.Request)

// WithQuery adds query parameters
func WithQuery(params map[string]string) RequestOption {
	return func(r *http.Request) {
		q := r.URL.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		r.URL.RawQuery = q.Encode()
	}
}

// Response wraps HTTP response with helpers
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON unmarshals response body into v
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// String returns response body as string
func (r *Response) String() string {
	return string(r.Body)
}

// IsSuccess returns true if status code is 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ErrorCode returns the code of an error response, or "".
func (r *Response) ErrorCode() string {
	var resp server.ErrorResponse
	if err := r.JSON(&resp); err != nil {
		return ""
	}
	return resp.Error.Code
}

// Get performs HTTP GET request
func (c *TestClient) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil, opts...)
}

// Post performs HTTP POST request with JSON body
func (c *TestClient) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, body, opts...)
}

// Put performs HTTP PUT request with JSON body
func (c *TestClient) Put(ctx context.Context, path string, body any, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, body, opts...)
}

// Delete performs HTTP DELETE request
func (c *TestClient) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, nil, opts...)
}

func (c *TestClient) do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(req)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       respBody,
	}, nil
}

// decode checks the status and unmarshals the body into v.
func decode(resp *Response, err error, what string, v any) error {
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("failed to %s: %d - %s", what, resp.StatusCode, resp.String())
	}
	if v == nil {
		return nil
	}
	return resp.JSON(v)
}

// ---- Server Helpers ----

// ConnectServer connects a tool server.
func (c *TestClient) ConnectServer(ctx context.Context, cfg types.ServerConfig) (*server.ConnectResponse, error) {
	var out server.ConnectResponse
	resp, err := c.Post(ctx, "/servers", cfg)
	if err := decode(resp, err, "connect server", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DisconnectServer disconnects a tool server.
func (c *TestClient) DisconnectServer(ctx context.Context, id string) error {
	resp, err := c.Delete(ctx, "/servers/"+url.PathEscape(id))
	return decode(resp, err, "disconnect server", nil)
}

// ListServers lists the status of every known server.
func (c *TestClient) ListServers(ctx context.Context) ([]types.ServerStatus, error) {
	var out []types.ServerStatus
	resp, err := c.Get(ctx, "/servers")
	if err := decode(resp, err, "list servers", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListTools lists the aggregated tool catalog.
func (c *TestClient) ListTools(ctx context.Context) ([]types.ToolDescriptor, error) {
	var out []types.ToolDescriptor
	resp, err := c.Get(ctx, "/tools")
	if err := decode(resp, err, "list tools", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CallTool calls one tool of a server directly.
func (c *TestClient) CallTool(ctx context.Context, id, name string, args any) (*types.ToolOutput, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out types.ToolOutput
	resp, err := c.Post(ctx, "/servers/"+url.PathEscape(id)+"/tools/"+url.PathEscape(name), server.CallToolRequest{Arguments: raw})
	if err := decode(resp, err, "call tool", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReadResource reads a resource, as Markdown when markdown is set.
func (c *TestClient) ReadResource(ctx context.Context, id, uri string, markdown bool) ([]types.ResourceContent, error) {
	query := map[string]string{"uri": uri}
	if markdown {
		query["format"] = "markdown"
	}
	var out []types.ResourceContent
	resp, err := c.Get(ctx, "/servers/"+url.PathEscape(id)+"/resource", WithQuery(query))
	if err := decode(resp, err, "read resource", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- Chat Helpers ----

// Chat runs one chat request to completion.
func (c *TestClient) Chat(ctx context.Context, req server.ChatRequest) (*chat.RunResult, error) {
	var out chat.RunResult
	resp, err := c.Post(ctx, "/chat", req)
	if err := decode(resp, err, "chat", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask sends a single user message to vendor.
func (c *TestClient) Ask(ctx context.Context, vendor, message string) (*chat.RunResult, error) {
	return c.Chat(ctx, server.ChatRequest{
		Vendor:  vendor,
		History: []types.ChatMessage{types.NewUserMessage(message)},
	})
}
