package e2e_test

import (
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/prism-ai/prism/internal/server"
	"github.com/prism-ai/prism/pkg/mcpserver/taskboard"
	"github.com/prism-ai/prism/pkg/types"
)

var _ = Describe("Tool Servers", func() {
	AfterEach(func() {
		Expect(client.DisconnectServer(ctx, "tasks")).To(Succeed())
		Expect(client.DisconnectServer(ctx, "tasks-2")).To(Succeed())
	})

	It("connects, lists and disconnects a server", func() {
		res, err := client.ConnectServer(ctx, testServer.BoardConfig("tasks"))
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Status.Status).To(Equal(types.StatusConnected))
		Expect(res.Status.ServerInfo).NotTo(BeNil())

		tools, err := client.ListTools(ctx)
		Expect(err).NotTo(HaveOccurred())
		names := make([]string, 0, len(tools))
		for _, t := range tools {
			names = append(names, t.QualifiedName())
		}
		Expect(names).To(ConsistOf("tasks__add_task", "tasks__list_tasks", "tasks__complete_task"))

		statuses, err := client.ListServers(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].ToolCount).To(Equal(3))

		Expect(client.DisconnectServer(ctx, "tasks")).To(Succeed())
		tools, err = client.ListTools(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(tools).To(BeEmpty())
	})

	It("aggregates the tools of several servers", func() {
		_, err := client.ConnectServer(ctx, testServer.BoardConfig("tasks"))
		Expect(err).NotTo(HaveOccurred())
		_, err = client.ConnectServer(ctx, testServer.BoardConfig("tasks-2"))
		Expect(err).NotTo(HaveOccurred())

		tools, err := client.ListTools(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(tools).To(HaveLen(6))

		servers := map[string]int{}
		for _, t := range tools {
			servers[t.ServerID]++
		}
		Expect(servers).To(Equal(map[string]int{"tasks": 3, "tasks-2": 3}))
	})

	It("calls a tool directly", func() {
		_, err := client.ConnectServer(ctx, testServer.BoardConfig("tasks"))
		Expect(err).NotTo(HaveOccurred())

		out, err := client.CallTool(ctx, "tasks", "add_task", map[string]string{"title": "direct call"})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsError).To(BeFalse())
		Expect(out.Text()).To(ContainSubstring("direct call"))

		out, err = client.CallTool(ctx, "tasks", "add_task", map[string]string{})
		Expect(err).NotTo(HaveOccurred())
		Expect(out.IsError).To(BeTrue())
	})

	It("converts HTML resources to Markdown on request", func() {
		_, err := client.ConnectServer(ctx, testServer.BoardConfig("tasks"))
		Expect(err).NotTo(HaveOccurred())

		contents, err := client.ReadResource(ctx, "tasks", taskboard.GuideURI, true)
		Expect(err).NotTo(HaveOccurred())
		Expect(contents).To(HaveLen(1))
		Expect(contents[0].MIMEType).To(Equal("text/markdown"))
		Expect(contents[0].Text).To(ContainSubstring("# Taskboard"))
		Expect(contents[0].Text).To(ContainSubstring("`add_task`"))
	})

	It("rejects invalid configs without connecting", func() {
		resp, err := client.Post(ctx, "/servers", types.ServerConfig{ID: "tasks", Type: types.TransportHTTP})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		Expect(resp.ErrorCode()).To(Equal(server.ErrCodeInvalidConfig))
	})

	It("drops a server that cannot be reached", func() {
		resp, err := client.Post(ctx, "/servers", types.ServerConfig{
			ID:   "tasks",
			Type: types.TransportHTTP,
			URL:  "http://127.0.0.1:1/mcp",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeFalse())
		Expect(resp.ErrorCode()).NotTo(BeEmpty())

		statusResp, err := client.Get(ctx, "/servers/tasks/status")
		Expect(err).NotTo(HaveOccurred())
		var st types.ServerStatus
		Expect(statusResp.JSON(&st)).To(Succeed())
		Expect(st.Status).To(Equal(types.StatusDisconnected))

		resp, err = client.Get(ctx, "/servers/tasks/tools")
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("imports an mcpServers document", func() {
		doc := `{
			// copied from another client
			"mcpServers": {
				"tasks": {"url": "` + testServer.BoardURL + `"}
			}
		}`
		resp, err := client.Post(ctx, "/servers/import", server.ImportRequest{Document: doc, Connect: true})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.IsSuccess()).To(BeTrue(), resp.String())

		var out server.ImportResponse
		Expect(resp.JSON(&out)).To(Succeed())
		Expect(out.Servers).To(HaveLen(1))
		Expect(out.Failed).To(BeEmpty())

		statuses, err := client.ListServers(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(statuses).To(ContainElement(HaveField("ID", "tasks")))
	})
})
