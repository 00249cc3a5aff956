package provider

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"

	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/pkg/types"
)

// AnthropicConfig holds configuration for the Anthropic adapter.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	HTTPClient *http.Client
}

// AnthropicAdapter drives the Messages API.
type AnthropicAdapter struct {
	config AnthropicConfig
	log    zerolog.Logger
}

// AnthropicRequest is the translated Anthropic request.
type AnthropicRequest struct {
	Params anthropic.MessageNewParams
}

// Vendor implements VendorRequest.
func (*AnthropicRequest) Vendor() Vendor { return VendorAnthropic }

// NewAnthropicAdapter creates an Anthropic adapter.
func NewAnthropicAdapter(config AnthropicConfig) *AnthropicAdapter {
	return &AnthropicAdapter{
		config: config,
		log:    logging.Component("provider").With().Str("vendor", string(VendorAnthropic)).Logger(),
	}
}

// Vendor returns VendorAnthropic.
func (a *AnthropicAdapter) Vendor() Vendor { return VendorAnthropic }

// TranslateTools returns []anthropic.ToolUnionParam.
func (a *AnthropicAdapter) TranslateTools(tools []types.ToolDescriptor) any {
	return anthropicTools(tools)
}

// TranslateHistory returns []anthropic.MessageParam.
func (a *AnthropicAdapter) TranslateHistory(history []types.ChatMessage) any {
	return anthropicMessages(history)
}

// Build assembles the request with the system prompt in its own field.
func (a *AnthropicAdapter) Build(req Request) (VendorRequest, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(withDefault(withDefault(req.Model, a.config.Model), DefaultAnthropicModel)),
		MaxTokens: int64(withDefault(withDefault(req.MaxTokens, a.config.MaxTokens), DefaultMaxTokens)),
		Messages:  anthropicMessages(req.History),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if tools := anthropicTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	return &AnthropicRequest{Params: params}, nil
}

// Send performs one Messages call. The SDK's automatic retries are off.
func (a *AnthropicAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	if a.config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	vr, err := a.Build(req)
	if err != nil {
		return nil, err
	}
	params := vr.(*AnthropicRequest).Params

	opts := []option.RequestOption{
		option.WithAPIKey(a.config.APIKey),
		option.WithMaxRetries(0),
	}
	if a.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(a.config.BaseURL))
	}
	if a.config.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(a.config.HTTPClient))
	}
	client := anthropic.NewClient(opts...)

	a.log.Debug().Str("model", string(params.Model)).Int("messages", len(params.Messages)).Int("tools", len(params.Tools)).Msg("sending request")
	msg, err := client.Messages.New(ctx, params)
	if err != nil {
		verr := &VendorError{Vendor: VendorAnthropic, Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			verr.StatusCode = apiErr.StatusCode
			verr.Message = apiErrorMessage([]byte(apiErr.RawJSON()))
		}
		return nil, verr
	}

	resp := &Response{}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: normalizeArguments(block.Input),
			})
		}
	}
	return resp, nil
}

// anthropicMessages converts history. Tool results become tool_result
// blocks inside a user message; consecutive results share one message and
// a user turn that directly follows them is merged into it.
func anthropicMessages(history []types.ChatMessage) []anthropic.MessageParam {
	var (
		msgs        []anthropic.MessageParam
		openResults bool
	)
	for _, m := range history {
		switch m.Role {
		case types.RoleUser:
			if openResults {
				last := &msgs[len(msgs)-1]
				last.Content = append(last.Content, anthropic.NewTextBlock(m.Content))
				openResults = false
				continue
			}
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))

		case types.RoleAssistant:
			openResults = false
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.ArgumentsOrEmpty(), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, anthropic.NewAssistantMessage(blocks...))

		case types.RoleTool:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)
			if openResults {
				last := &msgs[len(msgs)-1]
				last.Content = append(last.Content, block)
				continue
			}
			msgs = append(msgs, anthropic.NewUserMessage(block))
			openResults = true
		}
	}
	return msgs
}

func anthropicTools(tools []types.ToolDescriptor) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		s := inlineRefs(decodeSchema(t))
		input := anthropic.ToolInputSchemaParam{Properties: s["properties"]}
		if input.Properties == nil {
			input.Properties = map[string]any{}
		}
		if req, ok := s["required"].([]any); ok {
			for _, r := range req {
				if name, ok := r.(string); ok {
					input.Required = append(input.Required, name)
				}
			}
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.QualifiedName(),
				Description: anthropic.String(t.DescriptionOrName()),
				InputSchema: input,
			},
		})
	}
	return out
}
