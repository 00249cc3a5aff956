package provider_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prism-ai/prism/internal/provider"
	"github.com/prism-ai/prism/internal/provider/providertest"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
)

func newServer(t *testing.T, h http.Handler) string {
	t.Helper()
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := provider.NewRegistry()
	r.Register(provider.NewGeminiAdapter(provider.GeminiConfig{}))
	r.Register(provider.NewOpenAIAdapter(provider.OpenAIConfig{}))

	a, err := r.Get(provider.VendorGemini)
	require.NoError(t, err)
	assert.Equal(t, provider.VendorGemini, a.Vendor())

	a, err = r.Get("")
	require.NoError(t, err)
	assert.Equal(t, provider.VendorOpenAI, a.Vendor(), "empty vendor selects the default")

	_, err = r.Get(provider.VendorAnthropic)
	assert.ErrorIs(t, err, provider.ErrUnknownVendor)

	assert.Equal(t, []provider.Vendor{provider.VendorOpenAI, provider.VendorGemini}, r.List())
}

func TestFromConfig_AllVendors(t *testing.T) {
	r, err := provider.FromConfig(context.Background(), &types.Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, provider.Vendors, r.List())
	assert.Equal(t, provider.VendorOpenAI, r.Default())
}

func TestFromConfig_DefaultAndDisabled(t *testing.T) {
	cfg := &types.Config{
		DefaultVendor: "claude",
		Provider: map[string]types.ProviderConfig{
			"gemini": {Disable: true},
		},
	}
	r, err := provider.FromConfig(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, provider.VendorAnthropic, r.Default())
	assert.Equal(t, []provider.Vendor{provider.VendorOpenAI, provider.VendorAnthropic}, r.List())

	_, err = provider.FromConfig(context.Background(), &types.Config{DefaultVendor: "ark"}, nil)
	assert.Error(t, err)
}

func TestFromConfig_KeyFromSecretStore(t *testing.T) {
	m := providertest.NewMockLLMServer(providertest.Text("from store"), providertest.Text("from config"))
	defer m.Close()

	ctx := context.Background()
	store := secrets.NewFileStore(t.TempDir())
	require.NoError(t, store.Set(ctx, provider.SecretID(provider.VendorGemini), secrets.Secrets{secrets.KeyAPIKey: "stored-key"}))
	require.NoError(t, store.Set(ctx, provider.SecretID(provider.VendorAnthropic), secrets.Secrets{secrets.KeyAPIKey: "stored-anthropic"}))

	timeout := 5000
	cfg := &types.Config{
		Provider: map[string]types.ProviderConfig{
			"gemini":    {BaseURL: m.URL() + "/v1beta", Timeout: &timeout},
			"anthropic": {BaseURL: m.URL(), APIKey: "config-key"},
		},
	}
	r, err := provider.FromConfig(ctx, cfg, store)
	require.NoError(t, err)

	req := provider.Request{History: []types.ChatMessage{types.NewUserMessage("hi")}}

	gemini, err := r.Get(provider.VendorGemini)
	require.NoError(t, err)
	resp, err := gemini.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "from store", resp.Content)

	anthropic, err := r.Get(provider.VendorAnthropic)
	require.NoError(t, err)
	resp, err = anthropic.Send(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "from config", resp.Content)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "stored-key", reqs[0].APIKey)
	assert.Equal(t, "config-key", reqs[1].APIKey, "config key wins over the store")

	openai, err := r.Get(provider.VendorOpenAI)
	require.NoError(t, err)
	_, err = openai.Send(ctx, req)
	assert.ErrorIs(t, err, provider.ErrMissingAPIKey)
}
