package mcp

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/server"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/pkg/mcpserver/taskboard"
	"github.com/prism-ai/prism/pkg/types"
	"github.com/stretchr/testify/require"
)

const heartbeat = `{"type":"heartbeat"}` + "\n"

// pipeServer serves the taskboard over pipes. Each transport gets its own
// MCPServer over a shared board, since mark3labs registers one stdio
// session per server.
type pipeServer struct {
	t     *testing.T
	board *taskboard.Board
	noise bool

	mu     sync.Mutex
	links  []*pipeLink
	closes atomic.Int32
}

// pipeLink is one client/server pipe pair.
type pipeLink struct {
	toClient   *io.PipeWriter
	fromClient *io.PipeReader
	cancel     context.CancelFunc
}

func newPipeServer(t *testing.T, noise bool) *pipeServer {
	return &pipeServer{t: t, board: taskboard.NewBoard(), noise: noise}
}

func (p *pipeServer) factory(cfg types.ServerConfig, env []string, _ *http.Client) (sdkmcp.Transport, error) {
	serverIn, clientOut := io.Pipe()
	rawOut, serverOut := io.Pipe()
	clientIn, toClient := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	p.t.Cleanup(cancel)

	go func() {
		_ = server.NewStdioServer(taskboard.NewServer(p.board)).Listen(ctx, serverIn, serverOut)
	}()
	go p.relay(rawOut, toClient)

	p.mu.Lock()
	p.links = append(p.links, &pipeLink{toClient: toClient, fromClient: serverIn, cancel: cancel})
	p.mu.Unlock()

	return &sdkmcp.IOTransport{
		Reader: clientIn,
		Writer: &countingCloser{WriteCloser: clientOut, n: &p.closes},
	}, nil
}

// relay copies server output to the client, preceding every line with a
// heartbeat when noise is enabled.
func (p *pipeServer) relay(from io.Reader, to *io.PipeWriter) {
	scanner := bufio.NewScanner(from)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		if p.noise {
			if _, err := io.WriteString(to, heartbeat); err != nil {
				return
			}
		}
		if _, err := to.Write(append(scanner.Bytes(), '\n')); err != nil {
			return
		}
	}
}

// last returns the most recent link.
func (p *pipeServer) last() *pipeLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(p.t, p.links)
	return p.links[len(p.links)-1]
}

// closeRemote ends the stream from the server side.
func (p *pipeServer) closeRemote() {
	link := p.last()
	_ = link.toClient.Close()
}

// breakInbound makes every client write fail.
func (p *pipeServer) breakInbound() {
	link := p.last()
	_ = link.fromClient.Close()
}

// corrupt writes bytes that are not JSON to the client.
func (p *pipeServer) corrupt() {
	link := p.last()
	_, _ = io.WriteString(link.toClient, "{not json at all\n")
}

type countingCloser struct {
	io.WriteCloser
	n *atomic.Int32
}

func (c *countingCloser) Close() error {
	c.n.Add(1)
	return c.WriteCloser.Close()
}

func stdioConfig(id string) types.ServerConfig {
	return types.ServerConfig{ID: id, Name: id, Type: types.TransportStdio, Command: "taskboard-mcp"}
}

// statusRecorder collects server.status events.
type statusRecorder struct {
	mu     sync.Mutex
	events []types.ServerStatus
}

func recordStatuses(t *testing.T, bus *event.Bus) *statusRecorder {
	rec := &statusRecorder{}
	unsub := bus.Subscribe(event.ServerStatusChanged, func(e event.Event) {
		data := e.Data.(event.ServerStatusData)
		rec.mu.Lock()
		rec.events = append(rec.events, data.Status)
		rec.mu.Unlock()
	})
	t.Cleanup(unsub)
	return rec
}

func (r *statusRecorder) sequence(id string) []types.ConnectionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.ConnectionStatus
	for _, st := range r.events {
		if st.ID == id {
			out = append(out, st.Status)
		}
	}
	return out
}

func waitForStatus(t *testing.T, reg *Registry, id string, want types.ConnectionStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return reg.GetStatus(id) == want
	}, 5*time.Second, 10*time.Millisecond, "server %s never reached %s", id, want)
}
