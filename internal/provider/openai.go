package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/eino-contrib/jsonschema"
	"github.com/rs/zerolog"

	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/pkg/types"
)

// OpenAIConfig holds configuration for the OpenAI adapter.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// OpenAIAdapter drives the chat completions API through an eino ChatModel.
type OpenAIAdapter struct {
	config OpenAIConfig
	log    zerolog.Logger

	// newModel builds the chat model for one request.
	newModel func(ctx context.Context, cfg *openai.ChatModelConfig) (model.ToolCallingChatModel, error)
}

// OpenAIRequest is the translated OpenAI request.
type OpenAIRequest struct {
	Model     string
	MaxTokens int
	Messages  []*schema.Message
	Tools     []*schema.ToolInfo
}

// Vendor implements VendorRequest.
func (*OpenAIRequest) Vendor() Vendor { return VendorOpenAI }

// NewOpenAIAdapter creates an OpenAI adapter.
func NewOpenAIAdapter(config OpenAIConfig) *OpenAIAdapter {
	return &OpenAIAdapter{
		config: config,
		log:    logging.Component("provider").With().Str("vendor", string(VendorOpenAI)).Logger(),
		newModel: func(ctx context.Context, cfg *openai.ChatModelConfig) (model.ToolCallingChatModel, error) {
			m, err := openai.NewChatModel(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
	}
}

// Vendor returns VendorOpenAI.
func (a *OpenAIAdapter) Vendor() Vendor { return VendorOpenAI }

// TranslateTools returns []*schema.ToolInfo.
func (a *OpenAIAdapter) TranslateTools(tools []types.ToolDescriptor) any {
	return openAITools(tools)
}

// TranslateHistory returns []*schema.Message without the system message.
func (a *OpenAIAdapter) TranslateHistory(history []types.ChatMessage) any {
	return openAIMessages(history)
}

// Build assembles the request. The system prompt is a leading system
// message.
func (a *OpenAIAdapter) Build(req Request) (VendorRequest, error) {
	msgs := make([]*schema.Message, 0, len(req.History)+1)
	if req.System != "" {
		msgs = append(msgs, &schema.Message{Role: schema.System, Content: req.System})
	}
	msgs = append(msgs, openAIMessages(req.History)...)
	return &OpenAIRequest{
		Model:     withDefault(withDefault(req.Model, a.config.Model), DefaultOpenAIModel),
		MaxTokens: withDefault(withDefault(req.MaxTokens, a.config.MaxTokens), DefaultMaxTokens),
		Messages:  msgs,
		Tools:     openAITools(req.Tools),
	}, nil
}

// Send performs one non-streaming completion.
func (a *OpenAIAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	if a.config.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	vr, err := a.Build(req)
	if err != nil {
		return nil, err
	}
	oreq := vr.(*OpenAIRequest)

	maxTokens := oreq.MaxTokens
	cfg := &openai.ChatModelConfig{
		APIKey:              a.config.APIKey,
		Model:               oreq.Model,
		MaxCompletionTokens: &maxTokens,
	}
	if a.config.BaseURL != "" {
		cfg.BaseURL = a.config.BaseURL
	}

	chatModel, err := a.newModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI model: %w", err)
	}
	if len(oreq.Tools) > 0 {
		chatModel, err = chatModel.WithTools(oreq.Tools)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	a.log.Debug().Str("model", oreq.Model).Int("messages", len(oreq.Messages)).Int("tools", len(oreq.Tools)).Msg("sending request")
	out, err := chatModel.Generate(ctx, oreq.Messages)
	if err != nil {
		return nil, &VendorError{Vendor: VendorOpenAI, Err: err}
	}
	return openAIResponse(out), nil
}

func openAIMessages(history []types.ChatMessage) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case types.RoleUser:
			msgs = append(msgs, &schema.Message{Role: schema.User, Content: m.Content})
		case types.RoleAssistant:
			msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
			for _, tc := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.ArgumentsOrEmpty()),
					},
				})
			}
			msgs = append(msgs, msg)
		case types.RoleTool:
			msgs = append(msgs, &schema.Message{Role: schema.Tool, Content: m.Content, ToolCallID: m.ToolCallID})
		}
	}
	return msgs
}

func openAIResponse(msg *schema.Message) *Response {
	resp := &Response{}
	if msg == nil {
		return resp
	}
	resp.Content = msg.Content
	for _, tc := range msg.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: normalizeArguments([]byte(tc.Function.Arguments)),
		})
	}
	return resp
}

func openAITools(tools []types.ToolDescriptor) []*schema.ToolInfo {
	if len(tools) == 0 {
		return nil
	}
	out := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		out = append(out, &schema.ToolInfo{
			Name:        t.QualifiedName(),
			Desc:        t.DescriptionOrName(),
			ParamsOneOf: schema.NewParamsOneOfByJSONSchema(openAISchema(t)),
		})
	}
	return out
}

// openAISchema passes the tool's input schema through as a JSON schema so
// enums keep their types and unions, bounds and local definitions survive.
func openAISchema(t types.ToolDescriptor) *jsonschema.Schema {
	s := &jsonschema.Schema{}
	raw, err := json.Marshal(decodeSchema(t))
	if err == nil {
		err = json.Unmarshal(raw, s)
	}
	if err != nil {
		s = &jsonschema.Schema{}
	}
	s.Version = ""
	if s.Type == "" && len(s.TypeEnhanced) == 0 {
		s.Type = string(schema.Object)
	}
	return s
}
