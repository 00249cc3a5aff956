package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prism-ai/prism/internal/oauth"
	"github.com/prism-ai/prism/pkg/types"
	"golang.org/x/oauth2"
)

// TransportFactory builds the SDK transport for an already substituted
// server config. httpClient is non-nil for http servers and carries the
// connection's credential state.
type TransportFactory func(cfg types.ServerConfig, env []string, httpClient *http.Client) (sdkmcp.Transport, error)

// DefaultTransportFactory spawns a subprocess for stdio servers and uses
// the streamable HTTP client transport for http servers.
func DefaultTransportFactory(cfg types.ServerConfig, env []string, httpClient *http.Client) (sdkmcp.Transport, error) {
	switch cfg.Kind() {
	case types.TransportStdio:
		cmd := exec.Command(cfg.Command, cfg.Args...)
		cmd.Env = env
		return &sdkmcp.CommandTransport{
			Command:           cmd,
			TerminateDuration: 2 * time.Second,
		}, nil
	case types.TransportHTTP:
		return &sdkmcp.StreamableClientTransport{
			Endpoint:   cfg.URL,
			HTTPClient: httpClient,
			MaxRetries: 2,
		}, nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// mergeEnv overlays the server's env on the process environment and
// returns both the lookup map and the KEY=VALUE list for a subprocess.
func mergeEnv(serverEnv map[string]string) (map[string]string, []string) {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range serverEnv {
		merged[k] = v
	}
	list := make([]string, 0, len(merged))
	for k, v := range merged {
		list = append(list, k+"="+v)
	}
	return merged, list
}

// substitute replaces ${NAME} with env[NAME]; missing names become "".
func substitute(s string, env map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(m string) string {
		return env[varPattern.FindStringSubmatch(m)[1]]
	})
}

// resolveConfig returns a copy of cfg with ${VAR} references in args and
// header values expanded, and the environment for a subprocess.
func resolveConfig(cfg types.ServerConfig) (types.ServerConfig, []string) {
	env, list := mergeEnv(cfg.Env)

	out := cfg
	if len(cfg.Args) > 0 {
		out.Args = make([]string, len(cfg.Args))
		for i, a := range cfg.Args {
			out.Args[i] = substitute(a, env)
		}
	}
	if len(cfg.Headers) > 0 {
		out.Headers = make(map[string]string, len(cfg.Headers))
		for k, v := range cfg.Headers {
			out.Headers[k] = substitute(v, env)
		}
	}
	out.URL = substitute(cfg.URL, env)
	return out, list
}

// credentials is the auth state of one managed http connection. It
// survives the transport rebuild after an authorization.
type credentials struct {
	mu        sync.Mutex
	headers   map[string]string
	token     *oauth2.Token
	challenge *oauth.Challenge
}

func (c *credentials) setToken(tok *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
	c.challenge = nil
}

// takeChallenge returns and clears the last recorded auth challenge.
func (c *credentials) takeChallenge() (oauth.Challenge, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.challenge == nil {
		return oauth.Challenge{}, false
	}
	ch := *c.challenge
	c.challenge = nil
	return ch, true
}

// credentialTransport injects configured headers and the bearer token, and
// records 401 challenges. Event stream bodies are filtered for protocol
// noise before the SDK decodes them.
type credentialTransport struct {
	creds *credentials
	noise *noiseReporter
	next  http.RoundTripper
}

func (t *credentialTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())

	t.creds.mu.Lock()
	for k, v := range t.creds.headers {
		cloned.Header.Set(k, v)
	}
	if t.creds.token != nil && t.creds.token.AccessToken != "" {
		cloned.Header.Set("Authorization", t.creds.token.Type()+" "+t.creds.token.AccessToken)
	}
	t.creds.mu.Unlock()

	resp, err := t.next.RoundTrip(cloned)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		ch := oauth.ParseChallenge(resp.Header.Get("WWW-Authenticate"))
		ch.Endpoint = req.URL.String()
		t.creds.mu.Lock()
		t.creds.challenge = &ch
		t.creds.mu.Unlock()
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		resp.Body = newSSENoiseFilter(resp.Body, t.noise)
	}
	return resp, nil
}

func (c *credentials) httpClient(base http.RoundTripper, noise *noiseReporter) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{Transport: &credentialTransport{creds: c, noise: noise, next: base}}
}

// noiseReporter counts protocol noise of one connection. fn is told
// whether an occurrence is the first.
type noiseReporter struct {
	mu   sync.Mutex
	seen bool
	fn   func(err error, first bool)
}

func (n *noiseReporter) report(err error) {
	if n == nil {
		return
	}
	n.mu.Lock()
	first := !n.seen
	n.seen = true
	n.mu.Unlock()
	if n.fn != nil {
		n.fn(err, first)
	}
}

// sseNoiseFilter passes an event stream through unchanged except for
// events whose data is well-formed JSON but not a JSON-RPC message.
type sseNoiseFilter struct {
	body  io.ReadCloser
	src   *bufio.Reader
	noise *noiseReporter

	pending []byte   // raw lines of the current event
	data    [][]byte // its data field values
	out     []byte
	err     error
}

func newSSENoiseFilter(body io.ReadCloser, noise *noiseReporter) *sseNoiseFilter {
	return &sseNoiseFilter{body: body, src: bufio.NewReader(body), noise: noise}
}

func (f *sseNoiseFilter) Read(p []byte) (int, error) {
	for len(f.out) == 0 {
		if f.err != nil {
			return 0, f.err
		}
		line, err := f.src.ReadBytes('\n')
		if len(line) > 0 {
			f.line(line)
		}
		if err != nil {
			// An unterminated event is left for the decoder to judge.
			f.out = append(f.out, f.pending...)
			f.pending, f.data = nil, nil
			f.err = err
		}
	}
	n := copy(p, f.out)
	f.out = f.out[n:]
	return n, nil
}

func (f *sseNoiseFilter) line(line []byte) {
	f.pending = append(f.pending, line...)
	if trimmed := bytes.TrimRight(line, "\r\n"); len(trimmed) > 0 {
		if key, value, ok := bytes.Cut(trimmed, []byte{':'}); ok && string(key) == "data" {
			f.data = append(f.data, bytes.TrimSpace(value))
		}
		return
	}
	if len(f.data) > 0 {
		if _, err := jsonrpc.DecodeMessage(bytes.Join(f.data, []byte{'\n'})); IsProtocolNoise(err) {
			f.noise.report(err)
			f.pending, f.data = f.pending[:0], nil
			return
		}
	}
	f.out = append(f.out, f.pending...)
	f.pending, f.data = f.pending[:0], nil
}

func (f *sseNoiseFilter) Close() error {
	return f.body.Close()
}

// Decode errors of the JSON-RPC layer for JSON that is not a message.
var (
	noisePrefixes = []string{
		"invalid message version tag",
		"unmarshaling jsonrpc message",
		"parse error: invalid ID type",
	}
	noiseMessages = []string{
		"empty batch",
		"invalid request",
	}
)

// IsProtocolNoise reports whether err is a well-formed JSON message that
// failed JSON-RPC validation, such as a server heartbeat. Such errors do not
// affect the connection. Malformed JSON corrupts the stream and is a fault.
// Only the unwrapped decode errors qualify.
func IsProtocolNoise(err error) bool {
	if err == nil {
		return false
	}
	var syntaxErr *json.SyntaxError
	if isClosed(err) || errors.As(err, &syntaxErr) {
		return false
	}
	msg := err.Error()
	for _, prefix := range noisePrefixes {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	for _, m := range noiseMessages {
		if msg == m {
			return true
		}
	}
	return false
}

// isClosed reports whether err signals an orderly end of the connection.
func isClosed(err error) bool {
	return err == nil ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, sdkmcp.ErrConnectionClosed) ||
		errors.Is(err, context.Canceled)
}

// managedTransport connects the wrapped transport with a connection-owned
// lifetime context so the handshake deadline does not bound the stream.
// Stdio connections are additionally filtered for protocol noise.
type managedTransport struct {
	inner    sdkmcp.Transport
	lifetime context.Context
	filter   bool
	noise    *noiseReporter
}

func (t *managedTransport) Connect(context.Context) (sdkmcp.Connection, error) {
	conn, err := t.inner.Connect(t.lifetime)
	if err != nil {
		return nil, err
	}
	if !t.filter {
		return conn, nil
	}
	return &noiseFilterConn{Connection: conn, noise: t.noise}, nil
}

// noiseFilterConn drops reads that fail with protocol noise.
type noiseFilterConn struct {
	sdkmcp.Connection
	noise *noiseReporter
}

func (c *noiseFilterConn) Read(ctx context.Context) (jsonrpc.Message, error) {
	for {
		msg, err := c.Connection.Read(ctx)
		if err == nil || !IsProtocolNoise(err) {
			return msg, err
		}
		c.noise.report(err)
	}
}
