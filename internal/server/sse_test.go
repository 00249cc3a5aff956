package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prism-ai/prism/internal/event"
)

// mockResponseWriter implements http.Flusher for testing
type mockResponseWriter struct {
	*httptest.ResponseRecorder
	flushed int
}

func (m *mockResponseWriter) Flush() {
	m.flushed++
}

func newMockResponseWriter() *mockResponseWriter {
	return &mockResponseWriter{
		ResponseRecorder: httptest.NewRecorder(),
	}
}

func TestNewSSEWriter_NoFlusher(t *testing.T) {
	w := &noFlushWriter{}
	_, err := newSSEWriter(w)
	if err == nil {
		t.Error("Expected error for writer without Flusher")
	}
}

type noFlushWriter struct{}

func (n *noFlushWriter) Header() http.Header       { return http.Header{} }
func (n *noFlushWriter) Write([]byte) (int, error) { return 0, nil }
func (n *noFlushWriter) WriteHeader(int)           {}

func TestSSEWriter_WriteEvent(t *testing.T) {
	w := newMockResponseWriter()
	sse, err := newSSEWriter(w)
	if err != nil {
		t.Fatalf("newSSEWriter failed: %v", err)
	}

	if err := sse.writeEvent("message", SDKEvent{Type: event.ToolStarted, Properties: map[string]string{"name": "x"}}); err != nil {
		t.Fatalf("writeEvent failed: %v", err)
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: message\ndata: ") {
		t.Errorf("Unexpected framing: %q", body)
	}
	if !strings.HasSuffix(body, "\n\n") {
		t.Error("Expected blank line after event")
	}
	if !strings.Contains(body, `{"type":"tool.started","properties":{"name":"x"}}`) {
		t.Errorf("Unexpected data line: %s", body)
	}
	if w.flushed == 0 {
		t.Error("Expected Flush to be called")
	}
}

func TestSSEWriter_WriteHeartbeat(t *testing.T) {
	w := newMockResponseWriter()
	sse, _ := newSSEWriter(w)

	sse.writeHeartbeat()

	if body := w.Body.String(); body != ": heartbeat\n\n" {
		t.Errorf("Expected heartbeat comment, got: %q", body)
	}
	if w.flushed == 0 {
		t.Error("Expected Flush to be called")
	}
}

// readEvents collects the data lines of an SSE stream.
func readEvents(resp *http.Response) <-chan SDKEvent {
	out := make(chan SDKEvent, 16)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var evt SDKEvent
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err == nil {
				out <- evt
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, events <-chan SDKEvent) SDKEvent {
	t.Helper()
	select {
	case evt, ok := <-events:
		if !ok {
			t.Fatal("event stream closed")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return SDKEvent{}
}

func TestAllEvents_StreamsBus(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	srv := New(nil, Deps{Bus: bus})
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/event", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	for header, want := range map[string]string{
		"Content-Type":      "text/event-stream",
		"Cache-Control":     "no-cache",
		"X-Accel-Buffering": "no",
	} {
		if got := resp.Header.Get(header); got != want {
			t.Errorf("Expected %s: %s, got %q", header, want, got)
		}
	}

	events := readEvents(resp)
	if first := nextEvent(t, events); first.Type != EventServerConnected {
		t.Fatalf("Expected server.connected first, got %s", first.Type)
	}

	bus.PublishSync(event.Event{
		Type: event.ServerToolsChanged,
		Data: event.ServerToolsData{ServerID: "board", Count: 3},
	})

	evt := nextEvent(t, events)
	if evt.Type != event.ServerToolsChanged {
		t.Fatalf("Expected server.tools, got %s", evt.Type)
	}
	props, ok := evt.Properties.(map[string]any)
	if !ok {
		t.Fatalf("Expected object properties, got %T", evt.Properties)
	}
	if props["serverID"] != "board" || props["count"] != float64(3) {
		t.Errorf("Unexpected properties: %v", props)
	}
}

func TestAllEvents_EndsWithClient(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()

	srv := New(nil, Deps{Bus: bus})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/event", nil).WithContext(ctx)
	w := newMockResponseWriter()

	done := make(chan struct{})
	go func() {
		srv.allEvents(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the client went away")
	}
}
