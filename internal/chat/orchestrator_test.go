package chat_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/pkg/types"
)

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		adapter  *scriptedAdapter
		executor *fakeExecutor
		bus      *event.Bus
		events   []event.EventType
		history  []types.ChatMessage
	)

	newOrchestrator := func(opts ...chat.Option) *chat.Orchestrator {
		opts = append([]chat.Option{chat.WithEvents(bus)}, opts...)
		return chat.New(adapters{adapter: adapter}, executor, opts...)
	}

	BeforeEach(func() {
		ctx = context.Background()
		executor = &fakeExecutor{
			tools: []types.ToolDescriptor{
				{ServerID: "wrike", ServerName: "Wrike", Name: "get_tasks", Description: "List tasks"},
				{ServerID: "wrike", ServerName: "Wrike", Name: "get_folders"},
				{ServerID: "notion", ServerName: "Notion", Name: "search"},
			},
			handlers: map[string]func(json.RawMessage) (*types.ToolOutput, error){
				"get_tasks": func(json.RawMessage) (*types.ToolOutput, error) {
					return &types.ToolOutput{
						Content:           []types.ContentItem{},
						StructuredContent: map[string]any{"tasks": []any{}},
					}, nil
				},
				"search": func(args json.RawMessage) (*types.ToolOutput, error) {
					return textOutput("found " + string(args)), nil
				},
			},
		}
		bus = event.NewBus()
		events = nil
		bus.SubscribeAll(func(e event.Event) { events = append(events, e.Type) })
		history = []types.ChatMessage{types.NewUserMessage("what are my tasks?")}
		DeferCleanup(bus.Close)
	})

	Context("when the model answers directly", func() {
		BeforeEach(func() {
			adapter = newScriptedAdapter(text("You have no tasks."))
		})

		It("returns after exactly one model call", func() {
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())

			Expect(adapter.Requests()).To(HaveLen(1))
			Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
			Expect(res.FinalText).To(Equal("You have no tasks."))
			Expect(res.Rounds).To(Equal(1))
			Expect(res.History).To(HaveLen(len(history) + 1))
			Expect(res.History[1].Role).To(Equal(types.RoleAssistant))
			Expect(res.ID).NotTo(BeEmpty())
		})

		It("does not modify the caller's history", func() {
			_, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(history).To(HaveLen(1))
		})

		It("sends the catalog and a locale-aware system prompt", func() {
			_, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history, Locale: "ja", Model: "m-1"})
			Expect(err).NotTo(HaveOccurred())

			req := adapter.Requests()[0]
			Expect(req.System).To(ContainSubstring("Always respond in Japanese."))
			Expect(req.Model).To(Equal("m-1"))
			Expect(req.Tools).To(HaveLen(3))
		})

		It("publishes a completion event", func() {
			_, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(events).To(Equal([]event.EventType{event.ChatCompleted}))
		})
	})

	Context("when the model requests a tool", func() {
		BeforeEach(func() {
			adapter = newScriptedAdapter(
				calls(call("c1", "Wrike__get_tasks", `{}`)),
				text("No open tasks."),
			)
		})

		It("appends the call and its JSON result before asking again", func() {
			var started, ended []types.ToolCall
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{
				History:     history,
				OnToolStart: func(c types.ToolCall) { started = append(started, c) },
				OnToolEnd:   func(c types.ToolCall) { ended = append(ended, c) },
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
			Expect(res.FinalText).To(Equal("No open tasks."))
			Expect(res.Rounds).To(Equal(2))

			Expect(res.History).To(HaveLen(4))
			Expect(res.History[1].HasToolCalls()).To(BeTrue())
			Expect(res.History[1].ToolCalls[0].Name).To(Equal("Wrike__get_tasks"))
			Expect(res.History[1].ToolCalls[0].ServerID).To(Equal("wrike"))
			Expect(res.History[1].ToolCalls[0].Result).NotTo(BeNil())
			Expect(res.History[1].ToolCalls[0].Result.Content).To(Equal(res.History[2].Content))
			Expect(res.History[2].Role).To(Equal(types.RoleTool))
			Expect(res.History[2].ToolCallID).To(Equal("c1"))
			Expect(res.History[2].Content).To(MatchJSON(`{"content":[],"structuredContent":{"tasks":[]}}`))

			second := adapter.Requests()[1]
			Expect(second.History).To(HaveLen(3))
			Expect(second.History[2].Role).To(Equal(types.RoleTool))

			Expect(executor.Calls()).To(Equal([]string{"wrike/get_tasks"}))
			Expect(started).To(HaveLen(1))
			Expect(ended).To(HaveLen(1))
			Expect(ended[0].Result).NotTo(BeNil())
			Expect(ended[0].ServerID).To(Equal("wrike"))

			Expect(events).To(Equal([]event.EventType{event.ToolStarted, event.ToolFinished, event.ChatCompleted}))
		})
	})

	Context("when one round requests several tools", func() {
		BeforeEach(func() {
			adapter = newScriptedAdapter(
				calls(
					call("c1", "Notion__search", `{"q":"a"}`),
					call("c2", "Wrike__get_folders", `{}`),
					call("c3", "Notion__search", `{"q":"b"}`),
				),
				text("done"),
			)
		})

		It("runs them in order and keeps going past a failing call", func() {
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))

			Expect(executor.Calls()).To(Equal([]string{"notion/search", "wrike/get_folders", "notion/search"}))
			Expect(res.History).To(HaveLen(6))
			Expect(res.History[2].ToolCallID).To(Equal("c1"))
			Expect(res.History[3].ToolCallID).To(Equal("c2"))
			Expect(res.History[3].IsError).To(BeTrue())
			Expect(res.History[3].Content).To(MatchJSON(`{"error":"no handler for get_folders"}`))
			Expect(res.History[4].ToolCallID).To(Equal("c3"))
			Expect(res.History[4].Content).To(ContainSubstring(`found {\"q\":\"b\"}`))

			resolved := res.History[1].ToolCalls
			Expect(resolved).To(HaveLen(3))
			for i, c := range resolved {
				Expect(c.Result).NotTo(BeNil(), "call %s", c.ID)
				Expect(c.Result.Content).To(Equal(res.History[2+i].Content))
			}
			Expect(resolved[0].ServerID).To(Equal("notion"))
			Expect(resolved[1].ServerID).To(Equal("wrike"))
			Expect(resolved[1].Result.IsError).To(BeTrue())
		})
	})

	Context("when the model names a tool outside the catalog", func() {
		BeforeEach(func() {
			adapter = newScriptedAdapter(
				calls(call("c1", "Wrike__get_task", `{}`)),
				text("Sorry."),
			)
		})

		It("feeds back an error result and continues", func() {
			started := 0
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{
				History:     history,
				OnToolStart: func(types.ToolCall) { started++ },
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
			Expect(started).To(BeZero())
			Expect(executor.Calls()).To(BeEmpty())

			var payload struct {
				Error       string   `json:"error"`
				Suggestions []string `json:"suggestions"`
			}
			Expect(json.Unmarshal([]byte(res.History[2].Content), &payload)).To(Succeed())
			Expect(payload.Error).To(Equal("Unknown tool: Wrike__get_task"))
			Expect(payload.Suggestions).To(ContainElement("Wrike__get_tasks"))
			Expect(res.History[2].IsError).To(BeTrue())

			unknown := res.History[1].ToolCalls[0]
			Expect(unknown.ServerID).To(BeEmpty())
			Expect(unknown.Result).NotTo(BeNil())
			Expect(unknown.Result.IsError).To(BeTrue())
			Expect(unknown.Result.Content).To(Equal(res.History[2].Content))
		})
	})

	Context("when the model keeps requesting tools", func() {
		BeforeEach(func() {
			var script []scripted
			for i := 0; i < 10; i++ {
				script = append(script, calls(call("c", "Wrike__get_tasks", `{}`)))
			}
			adapter = newScriptedAdapter(script...)
		})

		It("stops at the default round cap", func() {
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(adapter.Requests()).To(HaveLen(chat.DefaultMaxRounds))
			Expect(res.Outcome).To(Equal(chat.OutcomeExhausted))
			Expect(res.FinalText).To(Equal(chat.MsgRoundsExhausted))
			last := res.History[len(res.History)-1]
			Expect(last.Role).To(Equal(types.RoleAssistant))
			Expect(last.Content).To(Equal(chat.MsgRoundsExhausted))
		})

		It("honours a configured cap", func() {
			o := newOrchestrator(chat.WithMaxRounds(2))
			Expect(o.MaxRounds()).To(Equal(2))
			res, err := o.Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Rounds).To(Equal(2))
			Expect(adapter.Requests()).To(HaveLen(2))
		})
	})

	Context("when the model call fails", func() {
		It("reports the failure as the final turn without retrying", func() {
			adapter = newScriptedAdapter(failure(&provider.VendorError{Vendor: provider.VendorOpenAI, StatusCode: 500, Message: "upstream down"}))
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(adapter.Requests()).To(HaveLen(1))
			Expect(res.Outcome).To(Equal(chat.OutcomeFailed))
			Expect(res.FinalText).To(Equal("AI request failed: upstream down"))
			Expect(res.History).To(HaveLen(2))
		})

		It("shows a missing key as is", func() {
			adapter = newScriptedAdapter(failure(provider.ErrMissingAPIKey))
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.FinalText).To(Equal("API key is not set."))
		})

		It("reports an empty response", func() {
			adapter = newScriptedAdapter(scripted{})
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chat.OutcomeFailed))
			Expect(res.FinalText).To(Equal(chat.MsgNoResponse))
		})

		It("returns the context error when cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			adapter = newScriptedAdapter(failure(context.Canceled))
			res, err := newOrchestrator().Run(cctx, chat.RunRequest{History: history})
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(res.Outcome).To(Equal(chat.OutcomeFailed))
		})
	})

	Context("tool snapshot", func() {
		It("uses the given snapshot instead of listing tools", func() {
			adapter = newScriptedAdapter(
				calls(call("c1", "Notion__search", `{}`)),
				text("ok"),
			)
			only := []types.ToolDescriptor{{ServerID: "wrike", ServerName: "Wrike", Name: "get_tasks"}}
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history, Tools: only})
			Expect(err).NotTo(HaveOccurred())
			Expect(adapter.Requests()[0].Tools).To(Equal(only))
			Expect(res.History[2].Content).To(ContainSubstring("Unknown tool: Notion__search"))
		})

		It("runs without tools when listing fails", func() {
			adapter = newScriptedAdapter(text("hi"))
			executor.listErr = errors.New("boom")
			executor.tools = nil
			res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
			Expect(adapter.Requests()[0].Tools).To(BeEmpty())
		})
	})

	It("rejects an unknown vendor", func() {
		adapter = newScriptedAdapter()
		_, err := newOrchestrator().Run(ctx, chat.RunRequest{Vendor: provider.VendorGemini, History: history})
		Expect(err).To(MatchError(provider.ErrUnknownVendor))
	})

	It("surfaces a slow tool as an error result", func() {
		adapter = newScriptedAdapter(calls(call("c1", "Notion__search", `{}`)), text("ok"))
		executor.handlers["search"] = func(json.RawMessage) (*types.ToolOutput, error) {
			time.Sleep(10 * time.Millisecond)
			return nil, context.DeadlineExceeded
		}
		res, err := newOrchestrator().Run(ctx, chat.RunRequest{History: history})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.History[2].Content).To(MatchJSON(`{"error":"context deadline exceeded"}`))
		Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
	})
})

var _ = Describe("SystemPrompt", func() {
	DescribeTable("reply language",
		func(locale, want string) {
			Expect(chat.Language(locale)).To(Equal(want))
			Expect(chat.SystemPrompt(locale)).To(ContainSubstring("Always respond in " + want + "."))
		},
		Entry("english", "en", "English"),
		Entry("japanese", "ja", "Japanese"),
		Entry("region tag", "ja-JP", "Japanese"),
		Entry("underscore tag", "ja_JP", "Japanese"),
		Entry("unknown", "fr", "English"),
		Entry("empty", "", "English"),
	)
})
