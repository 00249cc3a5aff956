package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prism-ai/prism/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// DefaultCallbackTimeout bounds the wait for the browser redirect.
const DefaultCallbackTimeout = 2 * time.Minute

// ErrStateMismatch is returned when the redirect carries a foreign state.
var ErrStateMismatch = errors.New("oauth state mismatch")

// Request describes one authorization-code flow.
type Request struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	Scopes       []string
	// ExtraParams is a raw query string appended to the authorization
	// URL, such as "prompt=select_account".
	ExtraParams string
	// Resource is sent as the RFC 8707 resource indicator when set.
	Resource string
	Style    ExchangeStyle
	// OnAuthURL, if set, is called with the URL before the browser opens.
	OnAuthURL func(authURL string)
}

// Config returns the oauth2 config for the request.
func (r Request) Config(redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     r.ClientID,
		ClientSecret: r.ClientSecret,
		RedirectURL:  redirectURL,
		Scopes:       r.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   r.AuthURL,
			TokenURL:  r.TokenURL,
			AuthStyle: r.Style.authStyle(),
		},
	}
}

// Flow runs interactive authorization-code flows with PKCE.
type Flow struct {
	browser         Browser
	callback        *CallbackServer
	httpClient      *http.Client
	callbackTimeout time.Duration
	log             zerolog.Logger
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithBrowser sets how authorization URLs are opened.
func WithBrowser(b Browser) FlowOption {
	return func(f *Flow) { f.browser = b }
}

// WithCallbackServer sets the redirect listener.
func WithCallbackServer(s *CallbackServer) FlowOption {
	return func(f *Flow) { f.callback = s }
}

// WithHTTPClient sets the client used for token requests.
func WithHTTPClient(c *http.Client) FlowOption {
	return func(f *Flow) { f.httpClient = c }
}

// WithCallbackTimeout bounds the wait for the redirect.
func WithCallbackTimeout(d time.Duration) FlowOption {
	return func(f *Flow) { f.callbackTimeout = d }
}

// NewFlow creates a flow that uses the system browser and the default
// callback port unless overridden.
func NewFlow(opts ...FlowOption) *Flow {
	f := &Flow{
		browser:         SystemBrowser{},
		callbackTimeout: DefaultCallbackTimeout,
		log:             logging.Component("oauth"),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.callback == nil {
		f.callback = NewCallbackServer(0, 0)
	}
	return f
}

// RedirectURL is the redirect URI this flow listens on.
func (f *Flow) RedirectURL() string { return f.callback.RedirectURL() }

// HTTPClient returns the client used for token requests, or nil.
func (f *Flow) HTTPClient() *http.Client { return f.httpClient }

// Session is the state of one authorization attempt.
type Session struct {
	Client   *ClientRegistration
	Verifier string
	State    string
	AuthURL  string
	Token    *oauth2.Token
	Started  time.Time
}

// Authorize opens the browser at the authorization URL, waits for the
// redirect, and exchanges the code.
func (f *Flow) Authorize(ctx context.Context, req Request) (*oauth2.Token, error) {
	sess, err := f.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	return sess.Token, nil
}

// Run is Authorize returning the whole attempt state.
func (f *Flow) Run(ctx context.Context, req Request) (*Session, error) {
	if req.AuthURL == "" || req.TokenURL == "" {
		return nil, fmt.Errorf("oauth: authorization and token endpoints are required")
	}

	pending, err := f.callback.Listen(ctx)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		Client:   &ClientRegistration{ClientID: req.ClientID, ClientSecret: req.ClientSecret},
		Verifier: oauth2.GenerateVerifier(),
		State:    uuid.NewString(),
		Started:  time.Now(),
	}
	conf := req.Config(pending.RedirectURL())

	opts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(sess.Verifier)}
	if req.Resource != "" {
		opts = append(opts, oauth2.SetAuthURLParam("resource", req.Resource))
	}
	authURL := appendParams(conf.AuthCodeURL(sess.State, opts...), req.ExtraParams)
	sess.AuthURL = authURL

	if req.OnAuthURL != nil {
		req.OnAuthURL(authURL)
	}
	f.log.Info().Str("auth_url", conf.Endpoint.AuthURL).Msg("opening browser for authorization")
	if err := f.browser.Open(authURL); err != nil {
		f.log.Warn().Err(err).Str("url", authURL).Msg("could not open browser, open the URL manually")
	}

	wctx, cancel := context.WithTimeout(ctx, f.callbackTimeout)
	defer cancel()
	res, err := pending.Wait(wctx)
	if err != nil {
		return nil, err
	}
	if res.State != sess.State {
		return nil, ErrStateMismatch
	}

	sess.Token, err = exchange(ctx, f.httpClient, conf, req.Style, res.Code, sess.Verifier)
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// appendParams adds a raw query string to u.
func appendParams(u, extra string) string {
	extra = strings.TrimLeft(strings.TrimSpace(extra), "?&")
	if extra == "" {
		return u
	}
	if _, err := url.ParseQuery(extra); err != nil {
		return u
	}
	if strings.Contains(u, "?") {
		return u + "&" + extra
	}
	return u + "?" + extra
}
