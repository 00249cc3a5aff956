package oauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prism-ai/prism/internal/event"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func recordEvents(t *testing.T, bus *event.Bus) *eventLog {
	l := &eventLog{}
	unsub := bus.SubscribeAll(func(e event.Event) {
		l.mu.Lock()
		l.events = append(l.events, e)
		l.mu.Unlock()
	})
	t.Cleanup(unsub)
	return l
}

func (l *eventLog) types() []event.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]event.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func remoteConfig(as *authServer) types.ServerConfig {
	return types.ServerConfig{ID: "remote", Type: types.TransportHTTP, URL: as.URL + "/mcp"}
}

func TestAuthenticator_DiscoversRegistersAndStores(t *testing.T) {
	as := newAuthServer(t)
	store := secrets.NewFileStore(t.TempDir())
	bus := event.NewBus()
	defer bus.Close()
	log := recordEvents(t, bus)

	a := NewAuthenticator(newTestFlow(t, redirectingBrowser(nil)), store, WithEvents(bus))
	cfg := remoteConfig(as)
	ch := Challenge{Scheme: "Bearer", ResourceMetadata: as.URL + "/.well-known/oauth-protected-resource", Endpoint: cfg.URL}

	tok, err := a.Authorize(context.Background(), cfg, ch)
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.EqualValues(t, 1, as.registrations.Load())
	assert.Equal(t, "dyn-client", as.form().Get("client_id"))

	assert.Equal(t, []event.EventType{event.AuthRequired, event.AuthCompleted}, log.types())
	required := log.events[0].Data.(event.AuthRequiredData)
	assert.Equal(t, "remote", required.ServerID)
	assert.Contains(t, required.URL, as.URL+"/authorize?")
	completed := log.events[1].Data.(event.AuthCompletedData)
	assert.Empty(t, completed.Error)

	stored, err := store.Get(context.Background(), "remote")
	require.NoError(t, err)
	assert.Equal(t, "access-1", stored[secrets.KeyAccessToken])
	assert.Equal(t, "refresh-1", stored[secrets.KeyRefreshToken])
	assert.Equal(t, "dyn-client", stored[secrets.KeyClientID])
	assert.Equal(t, as.URL+"/token", stored[secrets.KeyTokenURL])
	assert.NotEmpty(t, stored[secrets.KeyExpiry])

	sess, ok := a.Session("remote")
	require.True(t, ok)
	assert.Equal(t, "dyn-client", sess.Client.ClientID)

	// A second authorization reuses the stored registration.
	_, err = a.Authorize(context.Background(), cfg, ch)
	require.NoError(t, err)
	assert.EqualValues(t, 1, as.registrations.Load())
}

func TestAuthenticator_StaticClientSkipsRegistration(t *testing.T) {
	as := newAuthServer(t)
	a := NewAuthenticator(newTestFlow(t, redirectingBrowser(nil)), nil)

	cfg := remoteConfig(as)
	cfg.OAuth = &types.OAuthClientConfig{
		ClientID: "configured",
		AuthURL:  as.URL + "/authorize",
		TokenURL: as.URL + "/token",
		Scopes:   []string{"read"},
	}
	tok, err := a.Authorize(context.Background(), cfg, Challenge{Endpoint: cfg.URL})
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Zero(t, as.registrations.Load())
	assert.Equal(t, "configured", as.form().Get("client_id"))
}

func TestAuthenticator_NoRegistrationEndpoint(t *testing.T) {
	as := newAuthServer(t)
	as.noRegistration = true
	bus := event.NewBus()
	defer bus.Close()
	log := recordEvents(t, bus)

	a := NewAuthenticator(newTestFlow(t, redirectingBrowser(nil)), nil, WithEvents(bus))
	_, err := a.Authorize(context.Background(), remoteConfig(as), Challenge{Endpoint: as.URL + "/mcp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dynamic registration is unavailable")

	require.Equal(t, []event.EventType{event.AuthCompleted}, log.types())
	assert.NotEmpty(t, log.events[0].Data.(event.AuthCompletedData).Error)
}

func TestAuthenticator_FlowTimeout(t *testing.T) {
	as := newAuthServer(t)
	flow := NewFlow(
		WithBrowser(BrowserFunc(func(string) error { return nil })),
		WithCallbackServer(newTestCallbackServer(t, 10*time.Millisecond)),
	)
	a := NewAuthenticator(flow, nil, WithFlowTimeout(50*time.Millisecond))

	_, err := a.Authorize(context.Background(), remoteConfig(as), Challenge{Endpoint: as.URL + "/mcp"})
	assert.ErrorIs(t, err, ErrCallbackTimeout)
}

func TestAuthenticator_CachedToken(t *testing.T) {
	as := newAuthServer(t)
	store := secrets.NewFileStore(t.TempDir())
	a := NewAuthenticator(newTestFlow(t, redirectingBrowser(nil)), store)
	cfg := remoteConfig(as)
	ctx := context.Background()

	tok, err := a.CachedToken(ctx, cfg)
	require.NoError(t, err)
	assert.Nil(t, tok, "nothing stored")

	valid := &oauth2.Token{AccessToken: "still-good", TokenType: "Bearer", Expiry: time.Now().Add(time.Hour)}
	require.NoError(t, store.Set(ctx, cfg.ID, TokenSecrets(valid)))
	tok, err = a.CachedToken(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "still-good", tok.AccessToken)
	assert.Zero(t, as.refreshes.Load())
}

func TestAuthenticator_CachedTokenRefreshes(t *testing.T) {
	as := newAuthServer(t)
	store := secrets.NewFileStore(t.TempDir())
	a := NewAuthenticator(newTestFlow(t, redirectingBrowser(nil)), store)
	cfg := remoteConfig(as)
	ctx := context.Background()

	expired := TokenSecrets(&oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(-time.Hour),
	})
	expired[secrets.KeyTokenURL] = as.URL + "/token"
	expired[secrets.KeyClientID] = "dyn-client"
	require.NoError(t, store.Set(ctx, cfg.ID, expired))

	tok, err := a.CachedToken(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, tok)
	assert.Equal(t, "access-refreshed", tok.AccessToken)
	assert.EqualValues(t, 1, as.refreshes.Load())

	stored, err := store.Get(ctx, cfg.ID)
	require.NoError(t, err)
	assert.Equal(t, "access-refreshed", stored[secrets.KeyAccessToken])
	assert.Equal(t, "refresh-1", stored[secrets.KeyRefreshToken])
}

func TestAuthenticator_ExpiredWithoutRefresh(t *testing.T) {
	store := secrets.NewFileStore(t.TempDir())
	a := NewAuthenticator(NewFlow(WithCallbackServer(newTestCallbackServer(t, 0))), store)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "remote", TokenSecrets(&oauth2.Token{
		AccessToken: "stale",
		Expiry:      time.Now().Add(-time.Minute),
	})))
	tok, err := a.CachedToken(ctx, types.ServerConfig{ID: "remote"})
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func TestTokenSecretsRoundTrip(t *testing.T) {
	expiry := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &oauth2.Token{AccessToken: "a", RefreshToken: "r", TokenType: "Bearer", Expiry: expiry}

	s := TokenSecrets(in)
	assert.Equal(t, "2026-03-01T12:00:00Z", s[secrets.KeyExpiry])

	out := TokenFromSecrets(s)
	require.NotNil(t, out)
	assert.Equal(t, in.AccessToken, out.AccessToken)
	assert.Equal(t, in.RefreshToken, out.RefreshToken)
	assert.Equal(t, in.TokenType, out.TokenType)
	assert.True(t, expiry.Equal(out.Expiry))

	assert.Nil(t, TokenFromSecrets(secrets.Secrets{secrets.KeyAPIKey: "sk"}))
}
