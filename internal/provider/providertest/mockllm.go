// Package providertest serves scripted replies in the wire formats of the
// three supported vendors.
package providertest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Vendor endpoint paths. Adapter base URLs are URL()+"/v1" for OpenAI,
// URL() for Anthropic and URL()+"/v1beta" for Gemini.
const (
	OpenAIPath    = "/v1/chat/completions"
	AnthropicPath = "/v1/messages"
	GeminiPrefix  = "/v1beta/models/"
)

// Reply is one scripted model turn.
type Reply struct {
	Content string
	Calls   []Call

	// Status and Error make the reply a vendor error envelope.
	Status int
	Error  string
}

// Call is a scripted tool call. Arguments is raw JSON.
type Call struct {
	Name      string
	Arguments string
}

// Text is a reply with content only.
func Text(s string) Reply { return Reply{Content: s} }

// ToolCalls is a reply requesting the given calls.
func ToolCalls(calls ...Call) Reply { return Reply{Calls: calls} }

// Failure is a vendor error reply.
func Failure(status int, msg string) Reply { return Reply{Status: status, Error: msg} }

// MockRequest records one incoming request.
type MockRequest struct {
	Timestamp time.Time
	Vendor    string
	Path      string
	APIKey    string
	Body      map[string]any
}

// MockLLMServer is an httptest server answering all three vendor APIs
// from a single reply script.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	script   []Reply
	fallback Reply
	requests []MockRequest
	ids      int
}

// NewMockLLMServer starts a server whose script is the given replies.
// Once the script is exhausted every request gets the fallback reply.
func NewMockLLMServer(replies ...Reply) *MockLLMServer {
	m := &MockLLMServer{
		script:   replies,
		fallback: Text("I understand your request. Let me help you with that."),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(OpenAIPath, m.handleOpenAI)
	mux.HandleFunc("/chat/completions", m.handleOpenAI)
	mux.HandleFunc(AnthropicPath, m.handleAnthropic)
	mux.HandleFunc(GeminiPrefix, m.handleGemini)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the server's root URL.
func (m *MockLLMServer) URL() string { return m.server.URL }

// Close shuts down the server.
func (m *MockLLMServer) Close() { m.server.Close() }

// Script appends replies to the script.
func (m *MockLLMServer) Script(replies ...Reply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, replies...)
}

// Requests returns a copy of the recorded requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// LastRequest returns the most recent request body, or nil.
func (m *MockLLMServer) LastRequest() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1].Body
}

// next records the request and pops the next reply.
func (m *MockLLMServer) next(r *http.Request, vendor, apiKey string) (Reply, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return Reply{}, false
	}
	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		return Reply{}, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, MockRequest{
		Timestamp: time.Now(),
		Vendor:    vendor,
		Path:      r.URL.Path,
		APIKey:    apiKey,
		Body:      req,
	})
	if len(m.script) == 0 {
		return m.fallback, true
	}
	reply := m.script[0]
	m.script = m.script[1:]
	return reply, true
}

func (m *MockLLMServer) nextID(prefix string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids++
	return fmt.Sprintf("%s_%03d", prefix, m.ids)
}

func (m *MockLLMServer) handleOpenAI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply, ok := m.next(r, "openai", strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	if !ok {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if reply.Status != 0 {
		writeJSON(w, reply.Status, map[string]any{
			"error": map[string]any{"message": reply.Error, "type": "invalid_request_error"},
		})
		return
	}

	message := map[string]any{"role": "assistant", "content": reply.Content}
	finish := "stop"
	if len(reply.Calls) > 0 {
		calls := make([]map[string]any, len(reply.Calls))
		for i, c := range reply.Calls {
			calls[i] = map[string]any{
				"id":   m.nextID("call"),
				"type": "function",
				"function": map[string]any{
					"name":      c.Name,
					"arguments": c.Arguments,
				},
			}
		}
		message["tool_calls"] = calls
		finish = "tool_calls"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      m.nextID("chatcmpl-mockllm"),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   "mock-gpt",
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": finish,
		}},
		"usage": map[string]any{
			"prompt_tokens":     100,
			"completion_tokens": 50,
			"total_tokens":      150,
		},
	})
}

func (m *MockLLMServer) handleAnthropic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reply, ok := m.next(r, "anthropic", r.Header.Get("X-Api-Key"))
	if !ok {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if reply.Status != 0 {
		writeJSON(w, reply.Status, map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "invalid_request_error", "message": reply.Error},
		})
		return
	}

	var content []map[string]any
	if reply.Content != "" {
		content = append(content, map[string]any{"type": "text", "text": reply.Content})
	}
	stop := "end_turn"
	for _, c := range reply.Calls {
		content = append(content, map[string]any{
			"type":  "tool_use",
			"id":    m.nextID("toolu"),
			"name":  c.Name,
			"input": json.RawMessage(orEmptyObject(c.Arguments)),
		})
		stop = "tool_use"
	}
	if content == nil {
		content = []map[string]any{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            m.nextID("msg"),
		"type":          "message",
		"role":          "assistant",
		"model":         "mock-claude",
		"content":       content,
		"stop_reason":   stop,
		"stop_sequence": nil,
		"usage":         map[string]any{"input_tokens": 100, "output_tokens": 50},
	})
}

func (m *MockLLMServer) handleGemini(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	reply, ok := m.next(r, "gemini", r.URL.Query().Get("key"))
	if !ok {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if reply.Status != 0 {
		writeJSON(w, reply.Status, map[string]any{
			"error": map[string]any{"code": reply.Status, "message": reply.Error, "status": "INVALID_ARGUMENT"},
		})
		return
	}

	var parts []map[string]any
	if reply.Content != "" {
		parts = append(parts, map[string]any{"text": reply.Content})
	}
	for _, c := range reply.Calls {
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": c.Name,
				"args": json.RawMessage(orEmptyObject(c.Arguments)),
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": parts},
			"finishReason": "STOP",
		}},
	})
}

func orEmptyObject(s string) string {
	if strings.TrimSpace(s) == "" {
		return "{}"
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
