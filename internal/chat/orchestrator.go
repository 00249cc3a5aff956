package chat

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/mcp"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/pkg/types"
)

// DefaultMaxRounds caps model calls per run.
const DefaultMaxRounds = 5

// Replies used as the final assistant turn when a run does not complete.
const (
	MsgRoundsExhausted = "Maximum tool call rounds reached."
	MsgNoResponse      = "Failed to get response from AI."
	msgRequestFailed   = "AI request failed: "
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeFailed    Outcome = "failed"
)

// Adapters looks up the adapter for a vendor. *provider.Registry
// implements it.
type Adapters interface {
	Get(vendor provider.Vendor) (provider.Adapter, error)
}

// RunRequest is the input of one chat run.
type RunRequest struct {
	Vendor    provider.Vendor
	Model     string
	MaxTokens int
	History   []types.ChatMessage

	// Tools is the catalog snapshot offered to the model. When nil the
	// snapshot is taken from the executor at the start of the run.
	Tools []types.ToolDescriptor

	Locale string

	// OnToolStart is called before a resolved call executes. OnToolEnd
	// receives the call with its result attached.
	OnToolStart func(call types.ToolCall)
	OnToolEnd   func(call types.ToolCall)
}

// RunResult is the outcome of a run. History is the input history plus
// every turn the run appended.
type RunResult struct {
	ID        string              `json:"id"`
	History   []types.ChatMessage `json:"history"`
	FinalText string              `json:"finalText"`
	Outcome   Outcome             `json:"outcome"`
	Rounds    int                 `json:"rounds"`
}

// Orchestrator drives the bounded model/tool loop.
type Orchestrator struct {
	adapters  Adapters
	tools     mcp.ToolExecutor
	bus       *event.Bus
	maxRounds int
	log       zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxRounds sets the round cap. Non-positive values keep the default.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithEvents publishes tool and completion events on bus.
func WithEvents(bus *event.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// New creates an orchestrator.
func New(adapters Adapters, tools mcp.ToolExecutor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters:  adapters,
		tools:     tools,
		maxRounds: DefaultMaxRounds,
		log:       logging.Component("chat"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaxRounds returns the round cap.
func (o *Orchestrator) MaxRounds() int { return o.maxRounds }

// Run executes one chat run. Model failures end the run with a failed
// outcome and an assistant turn describing the failure; the returned
// error is reserved for an unknown vendor and context cancellation.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	adapter, err := o.adapters.Get(req.Vendor)
	if err != nil {
		return nil, err
	}

	res := &RunResult{
		ID:      ulid.Make().String(),
		History: types.CloneHistory(req.History),
	}
	log := o.log.With().Str("run", res.ID).Str("vendor", string(adapter.Vendor())).Logger()

	tools := req.Tools
	if tools == nil && o.tools != nil {
		tools, err = o.tools.ListAllTools(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("failed to list tools, continuing without")
			tools = nil
		}
	}
	snapshot := newCatalog(tools)
	system := SystemPrompt(req.Locale)

	defer func() {
		o.publish(event.ChatCompleted, event.ChatCompletedData{
			RunID:   res.ID,
			Vendor:  string(adapter.Vendor()),
			Outcome: string(res.Outcome),
			Rounds:  res.Rounds,
		})
	}()

	for res.Rounds < o.maxRounds {
		res.Rounds++
		log.Debug().Int("round", res.Rounds).Int("messages", len(res.History)).Msg("calling model")

		resp, err := adapter.Send(ctx, provider.Request{
			System:    system,
			History:   res.History,
			Tools:     snapshot.tools,
			Model:     req.Model,
			MaxTokens: req.MaxTokens,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.Outcome = OutcomeFailed
				return res, ctxErr
			}
			log.Warn().Err(err).Int("round", res.Rounds).Msg("model call failed")
			o.finish(res, OutcomeFailed, failureText(err))
			return res, nil
		}
		if resp == nil {
			o.finish(res, OutcomeFailed, MsgNoResponse)
			return res, nil
		}

		if len(resp.ToolCalls) == 0 {
			o.finish(res, OutcomeCompleted, resp.Content)
			return res, nil
		}

		calls := make([]types.ToolCall, len(resp.ToolCalls))
		copy(calls, resp.ToolCalls)
		res.History = append(res.History, types.NewAssistantMessage(resp.Content, calls))
		for i, call := range resp.ToolCalls {
			serverID, result := o.execute(ctx, log, res.ID, snapshot, call, req)
			calls[i] = call.Resolved(serverID, result)
			res.History = append(res.History, types.NewToolMessage(call, result))
		}
	}

	log.Info().Int("rounds", res.Rounds).Msg("round cap reached")
	o.finish(res, OutcomeExhausted, MsgRoundsExhausted)
	return res, nil
}

// execute runs one call and returns the serving server and the result.
// Failures become error-shaped results. Unknown tools have no server.
func (o *Orchestrator) execute(ctx context.Context, log zerolog.Logger, runID string, snapshot *catalog, call types.ToolCall, req RunRequest) (string, types.ToolResult) {
	tool, ok := snapshot.resolve(call.Name)
	if !ok {
		log.Warn().Str("tool", call.Name).Msg("model requested unknown tool")
		return "", snapshot.unknownToolResult(call.Name)
	}

	if req.OnToolStart != nil {
		req.OnToolStart(call)
	}
	o.publish(event.ToolStarted, event.ToolStartedData{
		RunID:    runID,
		CallID:   call.ID,
		Name:     call.Name,
		ServerID: tool.ServerID,
	})

	start := time.Now()
	var result types.ToolResult
	if o.tools == nil {
		result = errorResult(errors.New("no tool executor configured"))
	} else if out, err := o.tools.CallTool(ctx, tool.ServerID, tool.Name, call.ArgumentsOrEmpty()); err != nil {
		log.Warn().Err(err).Str("server", tool.ServerID).Str("tool", tool.Name).Msg("tool call failed")
		result = errorResult(err)
	} else {
		result = outputResult(out)
	}
	elapsed := time.Since(start)

	log.Debug().Str("server", tool.ServerID).Str("tool", tool.Name).Bool("error", result.IsError).Dur("elapsed", elapsed).Msg("tool call finished")
	o.publish(event.ToolFinished, event.ToolFinishedData{
		RunID:    runID,
		CallID:   call.ID,
		Name:     call.Name,
		IsError:  result.IsError,
		Duration: elapsed.Milliseconds(),
	})
	if req.OnToolEnd != nil {
		req.OnToolEnd(call.Resolved(tool.ServerID, result))
	}
	return tool.ServerID, result
}

func (o *Orchestrator) finish(res *RunResult, outcome Outcome, text string) {
	res.Outcome = outcome
	res.FinalText = text
	res.History = append(res.History, types.NewAssistantMessage(text, nil))
}

func (o *Orchestrator) publish(t event.EventType, data any) {
	if o.bus == nil {
		return
	}
	o.bus.PublishSync(event.Event{Type: t, Data: data})
}

// failureText is the assistant reply for a failed model call.
func failureText(err error) string {
	if errors.Is(err, provider.ErrMissingAPIKey) {
		return provider.ErrMissingAPIKey.Error()
	}
	return msgRequestFailed + err.Error()
}
