package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/oauthex"
)

// AuthServerMetadata is the RFC 8414 authorization server metadata subset
// the flow needs.
type AuthServerMetadata struct {
	Issuer                        string   `json:"issuer"`
	AuthorizationEndpoint         string   `json:"authorization_endpoint"`
	TokenEndpoint                 string   `json:"token_endpoint"`
	RegistrationEndpoint          string   `json:"registration_endpoint,omitempty"`
	ScopesSupported               []string `json:"scopes_supported,omitempty"`
	CodeChallengeMethodsSupported []string `json:"code_challenge_methods_supported,omitempty"`
}

// Discovery is the result of resolving a challenge to endpoints.
type Discovery struct {
	Resource   *oauthex.ProtectedResourceMetadata
	AuthServer *AuthServerMetadata
}

// Scopes returns the scopes to request: the challenge scope when present,
// otherwise those the resource advertises.
func (d *Discovery) Scopes(ch Challenge) []string {
	if ch.Scope != "" {
		return strings.Fields(ch.Scope)
	}
	if d.Resource != nil {
		return d.Resource.ScopesSupported
	}
	return nil
}

var wellKnownAuthServerPaths = []string{
	"/.well-known/oauth-authorization-server",
	"/.well-known/openid-configuration",
}

// Discover resolves the authorization server for a protected MCP endpoint.
// The resource metadata URL comes from the challenge, falling back to the
// well-known location at the endpoint's origin. When the resource has no
// metadata the endpoint's origin is tried as the issuer.
func Discover(ctx context.Context, client *http.Client, ch Challenge) (*Discovery, error) {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Discovery{}

	metaURL := ch.ResourceMetadata
	if metaURL == "" && ch.Endpoint != "" {
		origin, err := originOf(ch.Endpoint)
		if err != nil {
			return nil, err
		}
		metaURL = origin + "/.well-known/oauth-protected-resource"
	}

	var issuers []string
	if metaURL != "" {
		prm, err := getJSON[oauthex.ProtectedResourceMetadata](ctx, client, metaURL)
		if err == nil {
			d.Resource = prm
			issuers = prm.AuthorizationServers
		} else if ch.ResourceMetadata != "" {
			return nil, fmt.Errorf("fetch resource metadata: %w", err)
		}
	}
	if len(issuers) == 0 && ch.Endpoint != "" {
		origin, err := originOf(ch.Endpoint)
		if err != nil {
			return nil, err
		}
		issuers = []string{origin}
	}
	if len(issuers) == 0 {
		return nil, errors.New("no authorization server advertised")
	}

	var errs []error
	for _, issuer := range issuers {
		asm, err := fetchAuthServerMetadata(ctx, client, issuer)
		if err == nil {
			d.AuthServer = asm
			return d, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("discover authorization server: %w", errors.Join(errs...))
}

func fetchAuthServerMetadata(ctx context.Context, client *http.Client, issuer string) (*AuthServerMetadata, error) {
	u, err := url.Parse(issuer)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, p := range wellKnownAuthServerPaths {
		wk := *u
		wk.Path = p + strings.TrimSuffix(u.Path, "/")
		asm, err := getJSON[AuthServerMetadata](ctx, client, wk.String())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if asm.AuthorizationEndpoint == "" || asm.TokenEndpoint == "" {
			errs = append(errs, fmt.Errorf("%s: metadata lacks endpoints", wk.String()))
			continue
		}
		return asm, nil
	}
	return nil, errors.Join(errs...)
}

// ClientRegistration is the RFC 7591 registration response subset.
type ClientRegistration struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret,omitempty"`
}

// Register registers a public client with PKCE and the given redirect URI.
func Register(ctx context.Context, client *http.Client, endpoint, clientName, redirectURI string) (*ClientRegistration, error) {
	if client == nil {
		client = http.DefaultClient
	}
	body, err := json.Marshal(map[string]any{
		"client_name":                clientName,
		"redirect_uris":              []string{redirectURI},
		"grant_types":                []string{"authorization_code", "refresh_token"},
		"response_types":             []string{"code"},
		"token_endpoint_auth_method": "none",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("register client: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var reg ClientRegistration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("register client: %w", err)
	}
	if reg.ClientID == "" {
		return nil, errors.New("register client: response has no client_id")
	}
	return &reg, nil
}

func getJSON[T any](ctx context.Context, client *http.Client, u string) (*T, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	var v T
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&v); err != nil {
		return nil, fmt.Errorf("GET %s: %w", u, err)
	}
	return &v, nil
}

func originOf(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("not an absolute URL: %q", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}
