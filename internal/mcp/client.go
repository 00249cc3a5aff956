package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/oauth"
	"github.com/prism-ai/prism/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// authRetryBudget is how many times Connect re-handshakes after running
// the authenticator. A server that keeps challenging fails after that.
const authRetryBudget = 1

const defaultConnectTimeout = 30 * time.Second

// Authenticator obtains credentials for http servers. It is implemented
// by the OAuth bootstrap.
type Authenticator interface {
	// CachedToken returns a stored token for the server, or nil.
	CachedToken(ctx context.Context, cfg types.ServerConfig) (*oauth2.Token, error)
	// Authorize runs an interactive authorization for the challenge.
	Authorize(ctx context.Context, cfg types.ServerConfig, ch oauth.Challenge) (*oauth2.Token, error)
}

// managedServer is one tool server under management.
type managedServer struct {
	cfg          types.ServerConfig
	status       types.ConnectionStatus
	err          string
	session      *sdkmcp.ClientSession
	cancel       context.CancelFunc
	capabilities types.Capabilities
	serverInfo   *types.ServerInfo
	instructions string
	toolCount    int
}

// Registry manages tool server connections. The zero value is not usable;
// build one with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]*managedServer

	client  *sdkmcp.Client
	factory TransportFactory
	auth    Authenticator
	bus     *event.Bus
	baseRT  http.RoundTripper
	timeout time.Duration
	log     zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithTransportFactory overrides how transports are built.
func WithTransportFactory(f TransportFactory) Option {
	return func(r *Registry) { r.factory = f }
}

// WithAuthenticator sets the authenticator used on auth challenges.
func WithAuthenticator(a Authenticator) Option {
	return func(r *Registry) { r.auth = a }
}

// WithEventBus publishes status changes on bus.
func WithEventBus(bus *event.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithHTTPTransport sets the base round tripper for http servers.
func WithHTTPTransport(rt http.RoundTripper) Option {
	return func(r *Registry) { r.baseRT = rt }
}

// WithConnectTimeout sets the default handshake timeout. A server's own
// Timeout takes precedence.
func WithConnectTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithClientInfo sets the implementation name reported to servers.
func WithClientInfo(name, version string) Option {
	return func(r *Registry) {
		r.client = sdkmcp.NewClient(&sdkmcp.Implementation{Name: name, Version: version}, nil)
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		servers: make(map[string]*managedServer),
		factory: DefaultTransportFactory,
		timeout: defaultConnectTimeout,
		log:     logging.Component("mcp"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.client == nil {
		r.client = sdkmcp.NewClient(&sdkmcp.Implementation{Name: "prism-mcp-client", Version: "1.0.0"}, nil)
	}
	return r
}

// Connect connects to a server. An existing connection with the same id is
// torn down first. For http servers that answer the handshake with 401 the
// authenticator runs inline and the handshake is retried once.
func (r *Registry) Connect(ctx context.Context, cfg types.ServerConfig) (*ConnectResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Type = cfg.Kind()
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	entry := &managedServer{cfg: cfg, status: types.StatusDisconnected}
	r.mu.Lock()
	prev := r.servers[cfg.ID]
	r.servers[cfg.ID] = entry
	r.mu.Unlock()
	if prev != nil {
		r.teardown(prev)
	}
	r.setStatus(entry, types.StatusConnecting, "")

	log := r.log.With().Str("server", cfg.ID).Str("type", string(cfg.Type)).Logger()
	resolved, env := resolveConfig(cfg)

	var creds *credentials
	if cfg.Type == types.TransportHTTP {
		creds = &credentials{headers: resolved.Headers}
		if r.auth != nil {
			tok, err := r.auth.CachedToken(ctx, cfg)
			if err != nil {
				log.Debug().Err(err).Msg("no usable cached token")
			} else if tok != nil {
				creds.setToken(tok)
			}
		}
	}

	session, err := r.handshake(ctx, entry, resolved, env, creds)
	for attempt := 0; err != nil && creds != nil && attempt < authRetryBudget; attempt++ {
		ch, challenged := creds.takeChallenge()
		if !challenged {
			break
		}
		if r.auth == nil {
			err = fmt.Errorf("%w: %v", ErrAuthRequired, err)
			break
		}
		log.Info().Str("resource_metadata", ch.ResourceMetadata).Msg("server requires authorization")
		tok, authErr := r.auth.Authorize(ctx, cfg, ch)
		if authErr != nil {
			err = fmt.Errorf("authorize: %w", authErr)
			break
		}
		creds.setToken(tok)
		session, err = r.handshake(ctx, entry, resolved, env, creds)
	}
	if err != nil && creds != nil {
		if _, challenged := creds.takeChallenge(); challenged && !errors.Is(err, ErrAuthRequired) {
			err = fmt.Errorf("%w: %v", ErrAuthRequired, err)
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("connect failed")
		r.fail(entry, err)
		return nil, err
	}

	init := session.InitializeResult()
	r.mu.Lock()
	if r.servers[cfg.ID] != entry {
		cancel := entry.cancel
		r.mu.Unlock()
		_ = session.Close()
		if cancel != nil {
			cancel()
		}
		return nil, fmt.Errorf("connection to %s was replaced", cfg.ID)
	}
	entry.session = session
	entry.capabilities = capabilitiesFromSDK(init)
	entry.serverInfo = serverInfoFromSDK(init)
	if init != nil {
		entry.instructions = init.Instructions
	}
	r.mu.Unlock()

	r.setStatus(entry, types.StatusConnected, "")
	go r.watch(entry, session)

	log.Info().Interface("capabilities", entry.capabilities).Msg("server connected")
	return &ConnectResult{
		Capabilities: entry.capabilities,
		ServerInfo:   entry.serverInfo,
		Instructions: entry.instructions,
	}, nil
}

// handshake builds a fresh transport and client session for entry.
func (r *Registry) handshake(ctx context.Context, entry *managedServer, cfg types.ServerConfig, env []string, creds *credentials) (*sdkmcp.ClientSession, error) {
	noise := &noiseReporter{fn: func(err error, first bool) {
		if first {
			r.log.Debug().Err(err).Str("server", cfg.ID).Msg("ignoring malformed message from server")
		}
	}}
	var httpClient *http.Client
	if creds != nil {
		httpClient = creds.httpClient(r.baseRT, noise)
	}
	inner, err := r.factory(cfg, env, httpClient)
	if err != nil {
		return nil, err
	}

	lifetime, cancel := context.WithCancel(context.WithoutCancel(ctx))
	transport := &managedTransport{
		inner:    inner,
		lifetime: lifetime,
		filter:   cfg.Kind() == types.TransportStdio,
		noise:    noise,
	}

	timeout := r.timeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Millisecond
	}
	hctx, hcancel := context.WithTimeout(ctx, timeout)
	defer hcancel()

	session, err := r.client.Connect(hctx, transport, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	r.mu.Lock()
	entry.cancel = cancel
	r.mu.Unlock()
	return session, nil
}

// watch waits for the session to end and reports it through onClosed or
// onFault. It is a no-op once the entry has been replaced or removed.
func (r *Registry) watch(entry *managedServer, session *sdkmcp.ClientSession) {
	err := session.Wait()
	if isClosed(err) {
		r.onClosed(entry, session)
		return
	}
	r.onFault(entry, session, err)
}

func (r *Registry) current(entry *managedServer, session *sdkmcp.ClientSession) bool {
	return r.servers[entry.cfg.ID] == entry && entry.session == session
}

// onClosed handles a remote close of a connected server.
func (r *Registry) onClosed(entry *managedServer, session *sdkmcp.ClientSession) {
	r.mu.Lock()
	if !r.current(entry, session) {
		r.mu.Unlock()
		return
	}
	delete(r.servers, entry.cfg.ID)
	cancel := entry.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.log.Info().Str("server", entry.cfg.ID).Msg("server closed the connection")
	r.setStatus(entry, types.StatusDisconnected, "")
}

// onFault handles a transport fault on a connected server. The entry
// stays in the registry in the error state.
func (r *Registry) onFault(entry *managedServer, session *sdkmcp.ClientSession, err error) {
	r.mu.Lock()
	if !r.current(entry, session) {
		r.mu.Unlock()
		return
	}
	entry.session = nil
	cancel := entry.cancel
	entry.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = session.Close()
	r.log.Error().Err(err).Str("server", entry.cfg.ID).Msg("transport fault")
	r.setStatus(entry, types.StatusError, err.Error())
}

// fail records a failed connect and removes the entry.
func (r *Registry) fail(entry *managedServer, err error) {
	r.setStatus(entry, types.StatusError, err.Error())
	r.mu.Lock()
	if r.servers[entry.cfg.ID] == entry {
		delete(r.servers, entry.cfg.ID)
	}
	r.mu.Unlock()
}

func (r *Registry) setStatus(entry *managedServer, status types.ConnectionStatus, errMsg string) {
	r.mu.Lock()
	entry.status = status
	entry.err = errMsg
	st := entry.snapshot()
	r.mu.Unlock()

	if r.bus != nil {
		r.bus.PublishSync(event.Event{Type: event.ServerStatusChanged, Data: event.ServerStatusData{Status: st}})
	}
}

// snapshot must be called with the registry lock held.
func (s *managedServer) snapshot() types.ServerStatus {
	st := types.ServerStatus{
		ID:         s.cfg.ID,
		Name:       s.cfg.DisplayName(),
		Type:       s.cfg.Kind(),
		Status:     s.status,
		Error:      s.err,
		ServerInfo: s.serverInfo,
		ToolCount:  s.toolCount,
	}
	if s.status == types.StatusConnected {
		caps := s.capabilities
		st.Capabilities = &caps
	}
	return st
}

// Disconnect closes the server's session and removes it. Close errors are
// logged, never returned.
func (r *Registry) Disconnect(ctx context.Context, id string) error {
	r.mu.Lock()
	entry, ok := r.servers[id]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.servers, id)
	r.mu.Unlock()

	r.teardown(entry)
	return nil
}

// teardown closes an entry that is no longer in the map.
func (r *Registry) teardown(entry *managedServer) {
	r.mu.Lock()
	session := entry.session
	cancel := entry.cancel
	entry.session = nil
	entry.cancel = nil
	r.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			r.log.Debug().Err(err).Str("server", entry.cfg.ID).Msg("error closing session")
		}
	}
	if cancel != nil {
		cancel()
	}
	r.setStatus(entry, types.StatusDisconnected, "")
}

// DisconnectAll disconnects every server concurrently.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.servers))
	for id := range r.servers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			defer func() {
				if p := recover(); p != nil {
					r.log.Error().Interface("panic", p).Str("server", id).Msg("disconnect panicked")
				}
			}()
			return r.Disconnect(ctx, id)
		})
	}
	_ = g.Wait()
}

// GetStatus returns the status of a server, disconnected for unknown ids.
func (r *Registry) GetStatus(id string) types.ConnectionStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if entry, ok := r.servers[id]; ok {
		return entry.status
	}
	return types.StatusDisconnected
}

// Status returns the full status of one server.
func (r *Registry) Status(id string) (types.ServerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[id]
	if !ok {
		return types.ServerStatus{ID: id, Status: types.StatusDisconnected}, false
	}
	return entry.snapshot(), true
}

// Statuses returns the status of every managed server sorted by id.
func (r *Registry) Statuses() []types.ServerStatus {
	r.mu.RLock()
	out := make([]types.ServerStatus, 0, len(r.servers))
	for _, entry := range r.servers {
		out = append(out, entry.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// connected returns the live session for id.
func (r *Registry) connected(id string) (*managedServer, *sdkmcp.ClientSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.servers[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrServerNotFound, id)
	}
	if entry.status != types.StatusConnected || entry.session == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotConnected, id)
	}
	return entry, entry.session, nil
}
