package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prism-ai/prism/pkg/types"
)

// Vendor identifies an AI backend.
type Vendor string

const (
	VendorOpenAI    Vendor = "openai"
	VendorAnthropic Vendor = "anthropic"
	VendorGemini    Vendor = "gemini"
)

// Vendors lists the supported vendors in display order.
var Vendors = []Vendor{VendorOpenAI, VendorAnthropic, VendorGemini}

// ParseVendor maps a vendor id to a Vendor. "google" is accepted for Gemini.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return VendorOpenAI, nil
	case "anthropic", "claude":
		return VendorAnthropic, nil
	case "gemini", "google":
		return VendorGemini, nil
	default:
		return "", fmt.Errorf("unknown vendor %q", s)
	}
}

// Default models per vendor.
const (
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
	DefaultGeminiModel    = "gemini-2.0-flash"

	// DefaultMaxTokens is the output token cap used when none is configured.
	DefaultMaxTokens = 4096
)

// ErrMissingAPIKey is returned by Send when the adapter has no API key.
// Its text is shown to the user as the assistant reply.
var ErrMissingAPIKey = errors.New("API key is not set.")

// Request is a vendor-neutral chat request.
type Request struct {
	System    string
	History   []types.ChatMessage
	Tools     []types.ToolDescriptor
	Model     string
	MaxTokens int
}

// Response is a vendor-neutral model reply: text plus zero or more calls.
type Response struct {
	Content   string
	ToolCalls []types.ToolCall
}

// Adapter translates between the vendor-neutral chat model and one
// vendor's function-calling API.
type Adapter interface {
	Vendor() Vendor

	// TranslateTools converts the tool catalog to the vendor's schema.
	TranslateTools(tools []types.ToolDescriptor) any

	// TranslateHistory converts history to the vendor's message list.
	TranslateHistory(history []types.ChatMessage) any

	// Build assembles the complete vendor request.
	Build(req Request) (VendorRequest, error)

	// Send performs one model call.
	Send(ctx context.Context, req Request) (*Response, error)
}

// VendorRequest is one of *OpenAIRequest, *AnthropicRequest or
// *GeminiRequest.
type VendorRequest interface {
	Vendor() Vendor
}

// VendorError is a failed model call.
type VendorError struct {
	Vendor     Vendor
	StatusCode int
	Message    string
	Err        error
}

func (e *VendorError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s request failed with status %d", e.Vendor, e.StatusCode)
}

func (e *VendorError) Unwrap() error { return e.Err }

// apiErrorMessage extracts the message of the {"error":{"message":...}}
// envelope all three vendors use, or returns "".
func apiErrorMessage(body []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) != nil {
		return ""
	}
	return env.Error.Message
}

// decodeSchema parses a tool input schema into a map. Invalid schemas
// yield an empty object schema.
func decodeSchema(tool types.ToolDescriptor) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(tool.SchemaOrEmpty(), &m); err != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}

// inlineRefs returns a copy of node with local "#/$defs/..." and
// "#/definitions/..." references replaced by their targets, for vendors that
// do not resolve references. Keywords next to a $ref override the target.
// A reference back into its own expansion becomes a bare object schema and
// other references are dropped.
func inlineRefs(node map[string]any) map[string]any {
	x := &refInliner{defs: map[string]map[string]any{}, active: map[string]bool{}}
	escape := strings.NewReplacer("~", "~0", "/", "~1")
	for _, key := range []string{"$defs", "definitions"} {
		defs, _ := node[key].(map[string]any)
		for name, d := range defs {
			if dm, ok := d.(map[string]any); ok {
				x.defs["#/"+key+"/"+escape.Replace(name)] = dm
			}
		}
	}
	out := x.schema(node)
	delete(out, "$defs")
	delete(out, "definitions")
	return out
}

type refInliner struct {
	defs   map[string]map[string]any
	active map[string]bool
}

func (x *refInliner) schema(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	if ref, ok := node["$ref"].(string); ok {
		if def, found := x.defs[ref]; found {
			if x.active[ref] {
				out["type"] = "object"
			} else {
				x.active[ref] = true
				for k, v := range x.schema(def) {
					out[k] = v
				}
				delete(x.active, ref)
			}
		}
	}
	for k, v := range node {
		switch k {
		case "$ref":
			if _, ok := v.(string); !ok {
				out[k] = v
			}
		case "enum", "const", "default", "examples":
			out[k] = v
		case "properties", "patternProperties", "dependentSchemas", "$defs", "definitions":
			named, ok := v.(map[string]any)
			if !ok {
				out[k] = v
				continue
			}
			m := make(map[string]any, len(named))
			for name, sub := range named {
				m[name] = x.value(sub)
			}
			out[k] = m
		default:
			out[k] = x.value(v)
		}
	}
	return out
}

func (x *refInliner) value(v any) any {
	switch n := v.(type) {
	case map[string]any:
		return x.schema(n)
	case []any:
		out := make([]any, len(n))
		for i, e := range n {
			out[i] = x.value(e)
		}
		return out
	default:
		return v
	}
}

// normalizeArguments returns raw as call arguments, substituting an empty
// object for missing or malformed JSON.
func normalizeArguments(raw []byte) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" || !json.Valid(raw) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}

func withDefault[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
