package e2e_test

import (
	"fmt"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prism-ai/prism/internal/chat"
	"github.com/prism-ai/prism/internal/provider/providertest"
	"github.com/prism-ai/prism/internal/server"
	"github.com/prism-ai/prism/pkg/mcpserver/taskboard"
	"github.com/prism-ai/prism/pkg/types"
)

var _ = Describe("Chat With Tools", func() {
	BeforeEach(func() {
		_, err := client.ConnectServer(ctx, testServer.BoardConfig("board"))
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(client.DisconnectServer(ctx, "board")).To(Succeed())
	})

	DescribeTable("runs a tool round for every vendor",
		func(vendor string) {
			title := fmt.Sprintf("via %s", vendor)
			testServer.LLM.Script(
				providertest.ToolCalls(providertest.Call{
					Name:      "board__add_task",
					Arguments: fmt.Sprintf(`{"title":%q,"priority":"high"}`, title),
				}),
				providertest.Text("Added it."),
			)
			before := len(testServer.LLM.Requests())

			res, err := client.Ask(ctx, vendor, "add a task")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
			Expect(res.FinalText).To(Equal("Added it."))
			Expect(res.Rounds).To(Equal(2))

			Expect(res.History).To(HaveLen(4))
			Expect(res.History[1].ToolCalls).To(HaveLen(1))
			Expect(res.History[1].ToolCalls[0].Name).To(Equal("board__add_task"))
			Expect(res.History[1].ToolCalls[0].ServerID).To(Equal("board"))
			Expect(res.History[1].ToolCalls[0].Result).NotTo(BeNil())
			Expect(res.History[2].Role).To(Equal(types.RoleTool))
			Expect(res.History[2].Content).To(ContainSubstring(title))

			reqs := testServer.LLM.Requests()[before:]
			Expect(reqs).To(HaveLen(2))
			for _, r := range reqs {
				Expect(r.Vendor).To(Equal(vendor))
				Expect(r.APIKey).To(Equal("test-key"))
			}

			var titles []string
			for _, t := range testServer.Board.List(false) {
				titles = append(titles, t.Title)
			}
			Expect(titles).To(ContainElement(title))
		},
		Entry("OpenAI", "openai"),
		Entry("Anthropic", "anthropic"),
		Entry("Gemini", "gemini"),
	)

	It("uses the default vendor when none is named", func() {
		testServer.LLM.Script(providertest.Text("hello"))
		before := len(testServer.LLM.Requests())

		res, err := client.Ask(ctx, "", "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.FinalText).To(Equal("hello"))
		Expect(testServer.LLM.Requests()[before].Vendor).To(Equal("openai"))
	})

	It("answers unknown tools with an error result and keeps going", func() {
		testServer.LLM.Script(
			providertest.ToolCalls(providertest.Call{Name: "board__add_tsk", Arguments: `{}`}),
			providertest.Text("Sorry."),
		)

		res, err := client.Ask(ctx, "openai", "add a task")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(chat.OutcomeCompleted))
		Expect(res.History[2].Role).To(Equal(types.RoleTool))
		Expect(res.History[2].Content).To(ContainSubstring("board__add_task"))
	})

	It("stops at the round cap", func() {
		call := providertest.Call{Name: "board__list_tasks", Arguments: `{}`}
		testServer.LLM.Script(
			providertest.ToolCalls(call),
			providertest.ToolCalls(call),
			providertest.ToolCalls(call),
		)

		res, err := client.Ask(ctx, "anthropic", "loop forever")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(chat.OutcomeExhausted))
		Expect(res.Rounds).To(Equal(3))
		Expect(res.FinalText).To(Equal(chat.MsgRoundsExhausted))
		Expect(res.History).To(HaveLen(8))
	})

	It("turns a vendor failure into an assistant reply", func() {
		testServer.LLM.Script(providertest.Failure(http.StatusInternalServerError, "upstream down"))

		res, err := client.Ask(ctx, "gemini", "hi")
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Outcome).To(Equal(chat.OutcomeFailed))
		Expect(res.FinalText).To(HavePrefix("AI request failed: "))

		last := res.History[len(res.History)-1]
		Expect(last.Role).To(Equal(types.RoleAssistant))
		Expect(last.Content).To(Equal(res.FinalText))
	})

	It("continues a conversation from the returned history", func() {
		testServer.LLM.Script(providertest.Text("first"), providertest.Text("second"))

		first, err := client.Ask(ctx, "openai", "one")
		Expect(err).NotTo(HaveOccurred())

		history := append(first.History, types.NewUserMessage("two"))
		second, err := client.Chat(ctx, server.ChatRequest{Vendor: "openai", History: history})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.FinalText).To(Equal("second"))
		Expect(second.History).To(HaveLen(4))
		Expect(second.History[1].Content).To(Equal("first"))
	})

	It("reads the board resource after a chat", func() {
		testServer.LLM.Script(
			providertest.ToolCalls(providertest.Call{Name: "board__add_task", Arguments: `{"title":"resource check"}`}),
			providertest.Text("done"),
		)
		_, err := client.Ask(ctx, "openai", "add it")
		Expect(err).NotTo(HaveOccurred())

		contents, err := client.ReadResource(ctx, "board", taskboard.TasksURI, false)
		Expect(err).NotTo(HaveOccurred())
		Expect(contents).To(HaveLen(1))
		Expect(contents[0].Text).To(ContainSubstring("resource check"))
	})
})
