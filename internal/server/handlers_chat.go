package server

import (
	"net/http"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/pkg/types"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Vendor    string              `json:"vendor,omitempty"`
	Model     string              `json:"model,omitempty"`
	MaxTokens int                 `json:"maxTokens,omitempty"`
	Locale    string              `json:"locale,omitempty"`
	History   []types.ChatMessage `json:"history"`
}

// ProviderInfo describes one configured vendor.
type ProviderInfo struct {
	Vendor  provider.Vendor `json:"vendor"`
	Default bool            `json:"default"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listAllTools handles GET /tools.
func (s *Server) listAllTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.registry.ListAllTools(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(tools))
}

// runChat handles POST /chat. It blocks until the run ends; progress is
// published on the event stream.
func (s *Server) runChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "chat is not configured")
		return
	}

	var req ChatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.History) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "history is required")
		return
	}

	var vendor provider.Vendor
	if req.Vendor != "" {
		v, err := provider.ParseVendor(req.Vendor)
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		vendor = v
	}

	locale := req.Locale
	if locale == "" {
		locale = s.currentConfig().Locale
	}

	res, err := s.chat.Run(r.Context(), chat.RunRequest{
		Vendor:    vendor,
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		History:   req.History,
		Locale:    locale,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// listProviders handles GET /providers.
func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	if s.providers == nil {
		writeJSON(w, http.StatusOK, []ProviderInfo{})
		return
	}
	def := s.providers.Default()
	out := []ProviderInfo{}
	for _, v := range s.providers.List() {
		out = append(out, ProviderInfo{Vendor: v, Default: v == def})
	}
	writeJSON(w, http.StatusOK, out)
}
