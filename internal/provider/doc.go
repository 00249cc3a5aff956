// Package provider translates vendor-neutral chat history and tool
// catalogs into the function-calling APIs of OpenAI, Anthropic and Gemini.
//
// # Core Components
//
//   - Adapter: one implementation per vendor
//   - Request/Response: the vendor-neutral call and reply
//   - VendorRequest: the translated request, one of *OpenAIRequest,
//     *AnthropicRequest or *GeminiRequest
//   - Registry: adapters keyed by vendor, built from configuration
//
// # Vendors
//
// ## OpenAI
//
// Requests go through an eino ChatModel. The system prompt is a leading
// system message and each tool result is a separate tool message keyed by
// call id.
//
// ## Anthropic
//
// Requests go through anthropic-sdk-go. Tool results are tool_result
// blocks inside a user message. Results of one assistant turn share a
// single user message.
//
// ## Gemini
//
// Requests go to the generateContent REST endpoint. Results are
// functionResponse parts keyed by tool name, and tool schemas are stripped
// of keywords the API rejects. Gemini does not assign call ids, so they
// are synthesized with a "gemini_" prefix.
//
// # Registry Usage
//
//	reg, err := provider.FromConfig(ctx, cfg, store)
//	if err != nil {
//	    return err
//	}
//	adapter, err := reg.Get(provider.VendorAnthropic)
//	resp, err := adapter.Send(ctx, provider.Request{
//	    System:  "You are a helpful assistant.",
//	    History: history,
//	    Tools:   tools,
//	})
//
// A missing API key is not a construction error. Send returns
// ErrMissingAPIKey so callers can show it as the reply.
package provider
