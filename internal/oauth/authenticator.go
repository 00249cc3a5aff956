package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultFlowTimeout bounds a whole handshake-driven authorization,
// including discovery and registration.
const DefaultFlowTimeout = 5 * time.Minute

// Authenticator runs the OAuth bootstrap for tool servers and persists the
// resulting tokens in the secret store under the server id.
type Authenticator struct {
	flow        *Flow
	store       secrets.Store
	bus         *event.Bus
	flowTimeout time.Duration
	clientName  string
	log         zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// AuthenticatorOption configures an Authenticator.
type AuthenticatorOption func(*Authenticator)

// WithEvents publishes auth.required and auth.completed on bus.
func WithEvents(bus *event.Bus) AuthenticatorOption {
	return func(a *Authenticator) { a.bus = bus }
}

// WithFlowTimeout bounds one Authorize call.
func WithFlowTimeout(d time.Duration) AuthenticatorOption {
	return func(a *Authenticator) { a.flowTimeout = d }
}

// WithClientName sets the name used for dynamic client registration.
func WithClientName(name string) AuthenticatorOption {
	return func(a *Authenticator) { a.clientName = name }
}

// NewAuthenticator creates an authenticator. store may be nil, in which
// case tokens live only as long as the connection.
func NewAuthenticator(flow *Flow, store secrets.Store, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		flow:        flow,
		store:       store,
		flowTimeout: DefaultFlowTimeout,
		clientName:  "Prism",
		log:         logging.Component("oauth"),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CachedToken returns the stored token for the server. An expired token
// with a refresh token is refreshed and stored again.
func (a *Authenticator) CachedToken(ctx context.Context, cfg types.ServerConfig) (*oauth2.Token, error) {
	if a.store == nil {
		return nil, nil
	}
	s, err := a.store.Get(ctx, cfg.ID)
	if errors.Is(err, secrets.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tok := TokenFromSecrets(s)
	if tok == nil {
		return nil, nil
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" || s[secrets.KeyTokenURL] == "" {
		return nil, nil
	}

	req := Request{
		ClientID:     s[secrets.KeyClientID],
		ClientSecret: s[secrets.KeyClientSecret],
		TokenURL:     s[secrets.KeyTokenURL],
	}
	if cfg.OAuth != nil {
		req.Style = ParseExchangeStyle(cfg.OAuth.ExchangeStyle)
	}
	fresh, err := Refresh(ctx, a.flow.HTTPClient(), req.Config(a.flow.RedirectURL()), tok)
	if err != nil {
		a.log.Warn().Err(err).Str("server", cfg.ID).Msg("stored token could not be refreshed")
		return nil, nil
	}
	a.save(ctx, cfg.ID, fresh, req)
	return fresh, nil
}

// Authorize resolves endpoints and client credentials for the challenge,
// runs the browser flow and stores the token.
func (a *Authenticator) Authorize(ctx context.Context, cfg types.ServerConfig, ch Challenge) (tok *oauth2.Token, err error) {
	ctx, cancel := context.WithTimeout(ctx, a.flowTimeout)
	defer cancel()

	defer func() {
		data := event.AuthCompletedData{ServerID: cfg.ID}
		if err != nil {
			data.Error = err.Error()
		}
		a.publish(event.AuthCompleted, data)
	}()

	req, err := a.request(ctx, cfg, ch)
	if err != nil {
		return nil, err
	}
	req.OnAuthURL = func(u string) {
		a.publish(event.AuthRequired, event.AuthRequiredData{ServerID: cfg.ID, URL: u})
	}

	a.Forget(cfg.ID)
	sess, err := a.flow.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("authorize %s: %w", cfg.ID, err)
	}
	a.mu.Lock()
	a.sessions[cfg.ID] = sess
	a.mu.Unlock()

	a.save(ctx, cfg.ID, sess.Token, req)
	a.log.Info().Str("server", cfg.ID).Msg("authorization completed")
	return sess.Token, nil
}

// Session returns the last completed attempt for a server.
func (a *Authenticator) Session(id string) (*Session, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[id]
	return s, ok
}

// Forget discards the attempt state for a server. Stored tokens are kept.
func (a *Authenticator) Forget(id string) {
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}

// request builds the flow request from static config, filling anything
// missing through discovery and dynamic registration.
func (a *Authenticator) request(ctx context.Context, cfg types.ServerConfig, ch Challenge) (Request, error) {
	req := Request{Resource: ch.Endpoint}
	if oc := cfg.OAuth; oc != nil {
		req.ClientID = oc.ClientID
		req.ClientSecret = oc.ClientSecret
		req.AuthURL = oc.AuthURL
		req.TokenURL = oc.TokenURL
		req.Scopes = oc.Scopes
		req.ExtraParams = oc.ExtraParams
		req.Style = ParseExchangeStyle(oc.ExchangeStyle)
	}

	if req.AuthURL == "" || req.TokenURL == "" || req.ClientID == "" {
		d, err := Discover(ctx, a.flow.HTTPClient(), ch)
		if err != nil {
			return req, err
		}
		if req.AuthURL == "" {
			req.AuthURL = d.AuthServer.AuthorizationEndpoint
		}
		if req.TokenURL == "" {
			req.TokenURL = d.AuthServer.TokenEndpoint
		}
		if len(req.Scopes) == 0 {
			req.Scopes = d.Scopes(ch)
		}
		if req.ClientID == "" {
			if err := a.clientFor(ctx, cfg.ID, d, &req); err != nil {
				return req, err
			}
		}
	}
	return req, nil
}

// clientFor reuses a stored registration or registers a new client.
func (a *Authenticator) clientFor(ctx context.Context, id string, d *Discovery, req *Request) error {
	if a.store != nil {
		if s, err := a.store.Get(ctx, id); err == nil && s[secrets.KeyClientID] != "" {
			req.ClientID = s[secrets.KeyClientID]
			req.ClientSecret = s[secrets.KeyClientSecret]
			return nil
		}
	}
	if d.AuthServer.RegistrationEndpoint == "" {
		return fmt.Errorf("server %s needs a client id: no oauth.clientId configured and dynamic registration is unavailable", id)
	}
	reg, err := Register(ctx, a.flow.HTTPClient(), d.AuthServer.RegistrationEndpoint, a.clientName, a.flow.RedirectURL())
	if err != nil {
		return err
	}
	req.ClientID = reg.ClientID
	req.ClientSecret = reg.ClientSecret
	a.log.Info().Str("server", id).Msg("registered oauth client")
	return nil
}

func (a *Authenticator) save(ctx context.Context, id string, tok *oauth2.Token, req Request) {
	if a.store == nil {
		return
	}
	values := TokenSecrets(tok)
	values[secrets.KeyTokenURL] = req.TokenURL
	values[secrets.KeyClientID] = req.ClientID
	values[secrets.KeyClientSecret] = req.ClientSecret
	if err := secrets.Merge(ctx, a.store, id, values); err != nil {
		a.log.Warn().Err(err).Str("server", id).Msg("failed to store token")
	}
}

func (a *Authenticator) publish(t event.EventType, data any) {
	if a.bus != nil {
		a.bus.PublishSync(event.Event{Type: t, Data: data})
	}
}

// TokenSecrets converts a token to secret store values.
func TokenSecrets(tok *oauth2.Token) secrets.Secrets {
	s := secrets.Secrets{
		secrets.KeyAccessToken:  tok.AccessToken,
		secrets.KeyRefreshToken: tok.RefreshToken,
		secrets.KeyTokenType:    tok.TokenType,
		secrets.KeyExpiry:       "",
	}
	if !tok.Expiry.IsZero() {
		s[secrets.KeyExpiry] = tok.Expiry.UTC().Format(time.RFC3339)
	}
	return s
}

// TokenFromSecrets rebuilds a token, or returns nil when none is stored.
func TokenFromSecrets(s secrets.Secrets) *oauth2.Token {
	if s[secrets.KeyAccessToken] == "" && s[secrets.KeyRefreshToken] == "" {
		return nil
	}
	tok := &oauth2.Token{
		AccessToken:  s[secrets.KeyAccessToken],
		RefreshToken: s[secrets.KeyRefreshToken],
		TokenType:    s[secrets.KeyTokenType],
	}
	if exp := s[secrets.KeyExpiry]; exp != "" {
		if t, err := time.Parse(time.RFC3339, exp); err == nil {
			tok.Expiry = t
		}
	}
	return tok
}
