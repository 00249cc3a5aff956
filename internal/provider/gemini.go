package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/pkg/types"
)

// DefaultGeminiBaseURL is the Generative Language API root.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiCallIDPrefix prefixes synthesized call ids.
const GeminiCallIDPrefix = "gemini_"

// GeminiConfig holds configuration for the Gemini adapter.
type GeminiConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// GeminiAdapter drives the generateContent REST endpoint.
type GeminiAdapter struct {
	config GeminiConfig
	client *http.Client
	log    zerolog.Logger
}

// GeminiRequest is the translated generateContent request.
type GeminiRequest struct {
	Model             string                  `json:"-"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	Contents          []GeminiContent         `json:"contents"`
	Tools             []GeminiTool            `json:"tools,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
}

// Vendor implements VendorRequest.
func (*GeminiRequest) Vendor() Vendor { return VendorGemini }

// GeminiContent is one turn.
type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

// GeminiPart is a text, functionCall or functionResponse part.
type GeminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
}

// GeminiFunctionCall is a model-issued call. The API assigns no id.
type GeminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// GeminiFunctionResponse carries a tool result keyed by tool name.
type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// GeminiTool groups function declarations.
type GeminiTool struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

// GeminiFunctionDeclaration declares one callable function.
type GeminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// GeminiGenerationConfig holds generation limits.
type GeminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      GeminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

// NewGeminiAdapter creates a Gemini adapter.
func NewGeminiAdapter(config GeminiConfig) *GeminiAdapter {
	client := config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	return &GeminiAdapter{
		config: config,
		client: client,
		log:    logging.Component("provider").With().Str("vendor", string(VendorGemini)).Logger(),
	}
}

// Vendor returns VendorGemini.
func (a *GeminiAdapter) Vendor() Vendor { return VendorGemini }

// TranslateTools returns []GeminiTool with schemas stripped.
func (a *GeminiAdapter) TranslateTools(tools []types.ToolDescriptor) any {
	return geminiTools(tools)
}

// TranslateHistory returns []GeminiContent.
func (a *GeminiAdapter) TranslateHistory(history []types.ChatMessage) any {
	return geminiContents(history)
}

// Build assembles the request.
func (a *GeminiAdapter) Build(req Request) (VendorRequest, error) {
	greq := &GeminiRequest{
		Model:    withDefault(withDefault(req.Model, a.config.Model), DefaultGeminiModel),
		Contents: geminiContents(req.History),
		Tools:    geminiTools(req.Tools),
	}
	if req.System != "" {
		greq.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{Text: req.System}}}
	}
	if n := withDefault(req.MaxTokens, a.config.MaxTokens); n > 0 {
		greq.GenerationConfig = &GeminiGenerationConfig{MaxOutputTokens: n}
	}
	return greq, nil
}

// Send posts to models/<model>:generateContent with the key as a query
// parameter.
func (a *GeminiAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	if a.config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	vr, err := a.Build(req)
	if err != nil {
		return nil, err
	}
	greq := vr.(*GeminiRequest)

	body, err := json.Marshal(greq)
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}
	base := strings.TrimSuffix(withDefault(a.config.BaseURL, DefaultGeminiBaseURL), "/")
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", base, url.PathEscape(greq.Model), url.QueryEscape(a.config.APIKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	a.log.Debug().Str("model", greq.Model).Int("contents", len(greq.Contents)).Msg("sending request")
	httpResp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, &VendorError{Vendor: VendorGemini, Err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 32<<20))
	if err != nil {
		return nil, &VendorError{Vendor: VendorGemini, StatusCode: httpResp.StatusCode, Err: err}
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &VendorError{
			Vendor:     VendorGemini,
			StatusCode: httpResp.StatusCode,
			Message:    apiErrorMessage(data),
		}
	}

	var gresp geminiResponse
	if err := json.Unmarshal(data, &gresp); err != nil {
		return nil, &VendorError{Vendor: VendorGemini, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("decode gemini response: %w", err)}
	}
	if len(gresp.Candidates) == 0 {
		msg := "Gemini returned no candidates"
		if gresp.PromptFeedback != nil && gresp.PromptFeedback.BlockReason != "" {
			msg += ": blocked (" + gresp.PromptFeedback.BlockReason + ")"
		}
		return nil, &VendorError{Vendor: VendorGemini, StatusCode: httpResp.StatusCode, Message: msg}
	}

	resp := &Response{}
	for _, part := range gresp.Candidates[0].Content.Parts {
		switch {
		case part.FunctionCall != nil:
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:        GeminiCallIDPrefix + ulid.Make().String(),
				Name:      part.FunctionCall.Name,
				Arguments: normalizeArguments(part.FunctionCall.Args),
			})
		case part.Text != "":
			resp.Content += part.Text
		}
	}
	return resp, nil
}

// geminiContents converts history. Assistant turns use the "model" role;
// tool results become user-role functionResponse parts, with consecutive
// results sharing one turn.
func geminiContents(history []types.ChatMessage) []GeminiContent {
	var (
		out         []GeminiContent
		openResults bool
	)
	for _, m := range history {
		switch m.Role {
		case types.RoleUser:
			openResults = false
			out = append(out, GeminiContent{Role: "user", Parts: []GeminiPart{{Text: m.Content}}})

		case types.RoleAssistant:
			openResults = false
			var parts []GeminiPart
			if m.Content != "" {
				parts = append(parts, GeminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, GeminiPart{FunctionCall: &GeminiFunctionCall{Name: tc.Name, Args: tc.ArgumentsOrEmpty()}})
			}
			if len(parts) == 0 {
				continue
			}
			out = append(out, GeminiContent{Role: "model", Parts: parts})

		case types.RoleTool:
			part := GeminiPart{FunctionResponse: &GeminiFunctionResponse{
				Name:     m.ToolName,
				Response: functionResponse(m.Content),
			}}
			if openResults {
				last := &out[len(out)-1]
				last.Parts = append(last.Parts, part)
				continue
			}
			out = append(out, GeminiContent{Role: "user", Parts: []GeminiPart{part}})
			openResults = true
		}
	}
	return out
}

// functionResponse decodes a JSON tool result. Non-object results are
// wrapped as {"result": value}.
func functionResponse(content string) map[string]any {
	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return map[string]any{"result": content}
	}
	if obj, ok := v.(map[string]any); ok {
		return obj
	}
	return map[string]any{"result": v}
}

func geminiTools(tools []types.ToolDescriptor) []GeminiTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]GeminiFunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, GeminiFunctionDeclaration{
			Name:        t.QualifiedName(),
			Description: t.DescriptionOrName(),
			Parameters:  StripGeminiSchema(inlineRefs(decodeSchema(t))),
		})
	}
	return []GeminiTool{{FunctionDeclarations: decls}}
}

// geminiRejectedKeys are schema keywords the function declaration
// validator refuses.
var geminiRejectedKeys = []string{
	"additionalProperties", "$schema", "$ref", "$defs", "$id", "$comment",
	"definitions", "default", "examples",
}

// StripGeminiSchema removes keywords Gemini rejects from a JSON schema in
// place and returns it. Property names are never treated as keywords.
func StripGeminiSchema(node map[string]any) map[string]any {
	if node == nil {
		return nil
	}
	for _, k := range geminiRejectedKeys {
		delete(node, k)
	}
	if props, ok := node["properties"].(map[string]any); ok {
		for _, p := range props {
			if pm, ok := p.(map[string]any); ok {
				StripGeminiSchema(pm)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		StripGeminiSchema(items)
	}
	for _, k := range []string{"anyOf", "oneOf", "allOf"} {
		if list, ok := node[k].([]any); ok {
			for _, e := range list {
				if em, ok := e.(map[string]any); ok {
					StripGeminiSchema(em)
				}
			}
		}
	}
	return node
}
