package e2e_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prism-ai/prism/citest/testutil"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/provider/providertest"
	"github.com/prism-ai/prism/pkg/types"
)

var _ = Describe("Event Stream", func() {
	var sse *testutil.SSEClient

	BeforeEach(func() {
		sse = testServer.SSEClient()
		Expect(sse.Connect(ctx)).To(Succeed())
	})

	AfterEach(func() {
		sse.Close()
		Expect(client.DisconnectServer(ctx, "events")).To(Succeed())
	})

	It("streams status changes of a connecting server", func() {
		_, err := client.ConnectServer(ctx, testServer.BoardConfig("events"))
		Expect(err).NotTo(HaveOccurred())

		var seen []types.ConnectionStatus
		for len(seen) == 0 || seen[len(seen)-1] != types.StatusConnected {
			evt, err := sse.WaitForEvent(string(event.ServerStatusChanged), 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			var data event.ServerStatusData
			Expect(evt.Decode(&data)).To(Succeed())
			if data.Status.ID == "events" {
				seen = append(seen, data.Status.Status)
			}
		}
		Expect(seen).To(ContainElement(types.StatusConnecting))
	})

	It("streams tool and completion events of a chat", func() {
		_, err := client.ConnectServer(ctx, testServer.BoardConfig("events"))
		Expect(err).NotTo(HaveOccurred())

		testServer.LLM.Script(
			providertest.ToolCalls(providertest.Call{Name: "events__list_tasks", Arguments: `{}`}),
			providertest.Text("nothing to do"),
		)
		res, err := client.Ask(ctx, "openai", "what is open?")
		Expect(err).NotTo(HaveOccurred())

		evt, err := sse.WaitForEvent(string(event.ToolStarted), 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var started event.ToolStartedData
		Expect(evt.Decode(&started)).To(Succeed())
		Expect(started.RunID).To(Equal(res.ID))
		Expect(started.Name).To(Equal("events__list_tasks"))
		Expect(started.ServerID).To(Equal("events"))

		evt, err = sse.WaitForEvent(string(event.ToolFinished), 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var finished event.ToolFinishedData
		Expect(evt.Decode(&finished)).To(Succeed())
		Expect(finished.IsError).To(BeFalse())

		evt, err = sse.WaitForEvent(string(event.ChatCompleted), 5*time.Second)
		Expect(err).NotTo(HaveOccurred())
		var completed event.ChatCompletedData
		Expect(evt.Decode(&completed)).To(Succeed())
		Expect(completed.RunID).To(Equal(res.ID))
		Expect(completed.Outcome).To(Equal("completed"))
		Expect(completed.Rounds).To(Equal(2))
	})
})
