package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-chi/chi/v5"

	"github.com/prism-ai/prism/internal/config"
	"github.com/prism-ai/prism/pkg/types"
)

// ConnectResponse is returned by POST /servers.
type ConnectResponse struct {
	Status types.ServerStatus `json:"status"`
	Result any                `json:"result"`
}

// ImportRequest is the body of POST /servers/import.
type ImportRequest struct {
	// Document is an mcpServers document in JSON, JSONC or YAML.
	Document string `json:"document"`
	Format   string `json:"format,omitempty"` // "yaml", otherwise JSONC
	Connect  bool   `json:"connect,omitempty"`
	Save     bool   `json:"save,omitempty"`
}

// ImportResponse lists the imported servers.
type ImportResponse struct {
	Servers []types.ServerConfig `json:"servers"`
	Failed  map[string]string    `json:"failed,omitempty"`
}

// CallToolRequest is the body of POST /servers/{id}/tools/{name}.
type CallToolRequest struct {
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// GetPromptRequest is the body of POST /servers/{id}/prompts/{name}.
type GetPromptRequest struct {
	Arguments map[string]string `json:"arguments,omitempty"`
}

// listServers handles GET /servers. Configured servers that were never
// connected are reported as disconnected.
func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	statuses := s.registry.Statuses()
	seen := make(map[string]bool, len(statuses))
	for _, st := range statuses {
		seen[st.ID] = true
	}
	for id, srv := range s.currentConfig().MCP {
		if seen[id] {
			continue
		}
		statuses = append(statuses, types.ServerStatus{
			ID:     id,
			Name:   srv.DisplayName(),
			Type:   srv.Kind(),
			Status: types.StatusDisconnected,
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].ID < statuses[j].ID })
	writeJSON(w, http.StatusOK, orEmpty(statuses))
}

// connectServer handles POST /servers.
func (s *Server) connectServer(w http.ResponseWriter, r *http.Request) {
	var cfg types.ServerConfig
	if !decodeBody(w, r, &cfg) {
		return
	}
	if cfg.ID == "" {
		cfg.ID = config.ServerID(cfg.DisplayName())
	}

	res, err := s.registry.Connect(r.Context(), cfg)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	st, _ := s.registry.Status(cfg.ID)
	writeJSON(w, http.StatusOK, ConnectResponse{Status: st, Result: res})
}

// disconnectServer handles DELETE /servers/{id}.
func (s *Server) disconnectServer(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeSuccess(w)
}

// serverStatus handles GET /servers/{id}/status.
func (s *Server) serverStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, ok := s.registry.Status(id)
	if !ok {
		writeJSON(w, http.StatusOK, types.ServerStatus{ID: id, Status: types.StatusDisconnected})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// serverTools handles GET /servers/{id}/tools.
func (s *Server) serverTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.registry.ListTools(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(tools))
}

// serverResources handles GET /servers/{id}/resources.
func (s *Server) serverResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.registry.ListResources(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(resources))
}

// readResource handles GET /servers/{id}/resource?uri=. With
// format=markdown, HTML contents are converted to Markdown.
func (s *Server) readResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "uri is required")
		return
	}
	contents, err := s.registry.ReadResource(r.Context(), chi.URLParam(r, "id"), uri)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "markdown" {
		for i, c := range contents {
			if !isHTML(c) {
				continue
			}
			html := c.Text
			if html == "" && len(c.Blob) > 0 {
				html = string(c.Blob)
			}
			markdown, err := convertHTMLToMarkdown(html)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, ErrCodeInvalidRequest, "failed to convert resource: "+err.Error())
				return
			}
			contents[i] = types.ResourceContent{URI: c.URI, MIMEType: "text/markdown", Text: markdown}
		}
	}
	writeJSON(w, http.StatusOK, orEmpty(contents))
}

func isHTML(c types.ResourceContent) bool {
	mime := strings.ToLower(c.MIMEType)
	return strings.HasPrefix(mime, "text/html") || strings.HasPrefix(mime, "application/xhtml")
}

// convertHTMLToMarkdown converts HTML content to Markdown format.
func convertHTMLToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, &md.Options{
		HeadingStyle:     "atx",
		HorizontalRule:   "---",
		BulletListMarker: "-",
		CodeBlockStyle:   "fenced",
		EmDelimiter:      "*",
	})
	converter.Remove("script", "style", "meta", "link")
	return converter.ConvertString(html)
}

// serverPrompts handles GET /servers/{id}/prompts.
func (s *Server) serverPrompts(w http.ResponseWriter, r *http.Request) {
	prompts, err := s.registry.ListPrompts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty(prompts))
}

// getPrompt handles POST /servers/{id}/prompts/{name}.
func (s *Server) getPrompt(w http.ResponseWriter, r *http.Request) {
	var req GetPromptRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	res, err := s.registry.GetPrompt(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Arguments)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// callTool handles POST /servers/{id}/tools/{name}.
func (s *Server) callTool(w http.ResponseWriter, r *http.Request) {
	var req CallToolRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	out, err := s.registry.CallTool(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "name"), req.Arguments)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// importServers handles POST /servers/import. The body is either an
// ImportRequest or, with a non-JSON content type, the raw document.
func (s *Server) importServers(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if !decodeBody(w, r, &req) {
			return
		}
	} else {
		data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		req.Document = string(data)
		req.Format = r.URL.Query().Get("format")
		req.Connect = r.URL.Query().Get("connect") == "true"
		req.Save = r.URL.Query().Get("save") == "true"
	}

	servers, err := config.ParseServers([]byte(req.Document), req.Format)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidConfig, err.Error())
		return
	}

	s.cfgMu.Lock()
	config.MergeServers(s.appConfig, servers)
	var saveErr error
	if req.Save && s.configPath != "" {
		saveErr = config.Save(s.appConfig, s.configPath)
	}
	s.cfgMu.Unlock()
	if saveErr != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to save config: "+saveErr.Error())
		return
	}

	resp := ImportResponse{Servers: servers}
	if req.Connect {
		for _, srv := range servers {
			if srv.Disabled {
				continue
			}
			if _, err := s.registry.Connect(r.Context(), srv); err != nil {
				if resp.Failed == nil {
					resp.Failed = make(map[string]string)
				}
				resp.Failed[srv.ID] = err.Error()
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// orEmpty keeps empty lists encoded as [] rather than null.
func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
