package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// ExchangeStyle selects how the authorization code is exchanged.
type ExchangeStyle string

const (
	// ExchangeForm posts a form body carrying the client id and secret.
	ExchangeForm ExchangeStyle = "form"
	// ExchangeBasicForm posts a form body with HTTP Basic client credentials.
	ExchangeBasicForm ExchangeStyle = "basic"
	// ExchangeBasicJSON posts a JSON body with HTTP Basic client
	// credentials. Notion's token endpoint requires this.
	ExchangeBasicJSON ExchangeStyle = "basic_json"
)

// ParseExchangeStyle maps a config value to a style, defaulting to form.
func ParseExchangeStyle(s string) ExchangeStyle {
	switch ExchangeStyle(strings.ToLower(strings.TrimSpace(s))) {
	case ExchangeBasicForm:
		return ExchangeBasicForm
	case ExchangeBasicJSON:
		return ExchangeBasicJSON
	default:
		return ExchangeForm
	}
}

func (s ExchangeStyle) authStyle() oauth2.AuthStyle {
	if s == ExchangeBasicForm {
		return oauth2.AuthStyleInHeader
	}
	return oauth2.AuthStyleInParams
}

// exchange trades code for a token using the config's endpoint.
func exchange(ctx context.Context, client *http.Client, conf *oauth2.Config, style ExchangeStyle, code, verifier string) (*oauth2.Token, error) {
	if style == ExchangeBasicJSON {
		return exchangeBasicJSON(ctx, client, conf, code, verifier)
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}
	tok, err := conf.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	return tok, nil
}

// tokenResponse is the RFC 6749 token endpoint response.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	ExpiresIn        int64  `json:"expires_in"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (r tokenResponse) token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  r.AccessToken,
		TokenType:    r.TokenType,
		RefreshToken: r.RefreshToken,
	}
	if r.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]any{"scope": r.Scope})
}

func exchangeBasicJSON(ctx context.Context, client *http.Client, conf *oauth2.Config, code, verifier string) (*oauth2.Token, error) {
	body := map[string]string{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": conf.RedirectURL,
	}
	if verifier != "" {
		body["code_verifier"] = verifier
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, conf.Endpoint.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(conf.ClientID, conf.ClientSecret)

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	var tr tokenResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to exchange token: status %d: %w", resp.StatusCode, err)
	}
	if tr.Error != "" {
		if tr.ErrorDescription != "" {
			return nil, fmt.Errorf("failed to exchange token: %s", tr.ErrorDescription)
		}
		return nil, fmt.Errorf("failed to exchange token: %s", tr.Error)
	}
	if resp.StatusCode >= 300 || tr.AccessToken == "" {
		return nil, fmt.Errorf("failed to exchange token: status %d", resp.StatusCode)
	}
	return tr.token(), nil
}

// Refresh exchanges the token's refresh token for a new token. The
// refresh token is kept when the provider does not rotate it.
func Refresh(ctx context.Context, client *http.Client, conf *oauth2.Config, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		return nil, fmt.Errorf("failed to refresh token: no refresh token")
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, TokenType: tok.TokenType}
	fresh, err := conf.TokenSource(ctx, stale).Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	return fresh, nil
}
