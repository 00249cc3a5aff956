// Command taskboard-mcp runs the taskboard MCP server over stdio, or over
// streamable HTTP when -addr is set.
package main

import (
	"flag"
	"log"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prism-ai/prism/pkg/mcpserver/taskboard"
)

func main() {
	addr := flag.String("addr", "", "serve streamable HTTP on this address instead of stdio")
	flag.Parse()

	s := taskboard.NewServer(taskboard.NewBoard())
	if *addr != "" {
		if err := server.NewStreamableHTTPServer(s).Start(*addr); err != nil {
			log.Fatal(err)
		}
		return
	}
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
