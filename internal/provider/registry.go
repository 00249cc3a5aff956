package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prism-ai/prism/internal/logging"
	"github.com/prism-ai/prism/internal/secrets"
	"github.com/prism-ai/prism/pkg/types"
)

// ErrUnknownVendor is returned by Get for a vendor with no adapter.
var ErrUnknownVendor = errors.New("vendor not available")

// Registry maps vendors to adapters.
type Registry struct {
	mu            sync.RWMutex
	adapters      map[Vendor]Adapter
	defaultVendor Vendor
}

// NewRegistry creates an empty registry defaulting to OpenAI.
func NewRegistry() *Registry {
	return &Registry{
		adapters:      make(map[Vendor]Adapter),
		defaultVendor: VendorOpenAI,
	}
}

// Register adds or replaces the adapter for its vendor.
func (r *Registry) Register(adapter Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Vendor()] = adapter
}

// Get returns the adapter for a vendor. An empty vendor selects the
// default.
func (r *Registry) Get(vendor Vendor) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if vendor == "" {
		vendor = r.defaultVendor
	}
	adapter, ok := r.adapters[vendor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVendor, vendor)
	}
	return adapter, nil
}

// List returns the registered vendors in display order.
func (r *Registry) List() []Vendor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Vendor, 0, len(r.adapters))
	for _, v := range Vendors {
		if _, ok := r.adapters[v]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Default returns the vendor used when a request names none.
func (r *Registry) Default() Vendor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultVendor
}

// SetDefault changes the default vendor.
func (r *Registry) SetDefault(vendor Vendor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultVendor = vendor
}

// SecretID is the secret store id holding a vendor's API key.
func SecretID(vendor Vendor) string {
	return "vendor:" + string(vendor)
}

// FromConfig builds a registry with an adapter for every vendor that is
// not disabled. Keys come from the config first and the secret store
// second. Adapters without a key are still registered so a chat run can
// report the missing key as its reply.
func FromConfig(ctx context.Context, cfg *types.Config, store secrets.Store) (*Registry, error) {
	log := logging.Component("provider")
	r := NewRegistry()

	if cfg.DefaultVendor != "" {
		v, err := ParseVendor(cfg.DefaultVendor)
		if err != nil {
			return nil, fmt.Errorf("invalid default vendor: %w", err)
		}
		r.SetDefault(v)
	}

	for _, v := range Vendors {
		pc := cfg.Provider[string(v)]
		if pc.Disable {
			log.Debug().Str("vendor", string(v)).Msg("vendor disabled")
			continue
		}
		if pc.APIKey == "" && store != nil {
			s, err := store.Get(ctx, SecretID(v))
			switch {
			case err == nil:
				pc.APIKey = s[secrets.KeyAPIKey]
			case !errors.Is(err, secrets.ErrNotFound):
				log.Warn().Err(err).Str("vendor", string(v)).Msg("failed to read api key")
			}
		}

		var adapter Adapter
		switch v {
		case VendorOpenAI:
			adapter = NewOpenAIAdapter(OpenAIConfig{
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				MaxTokens: pc.MaxTokens,
			})
		case VendorAnthropic:
			adapter = NewAnthropicAdapter(AnthropicConfig{
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				MaxTokens: pc.MaxTokens,
			})
		case VendorGemini:
			adapter = NewGeminiAdapter(GeminiConfig{
				APIKey:    pc.APIKey,
				BaseURL:   pc.BaseURL,
				Model:     pc.Model,
				MaxTokens: pc.MaxTokens,
			})
		}
		if pc.Timeout != nil && *pc.Timeout > 0 {
			adapter = WithTimeout(adapter, time.Duration(*pc.Timeout)*time.Millisecond)
		}
		r.Register(adapter)
		log.Debug().Str("vendor", string(v)).Bool("key", pc.APIKey != "").Msg("vendor registered")
	}
	return r, nil
}

// WithTimeout bounds every Send of an adapter.
func WithTimeout(adapter Adapter, d time.Duration) Adapter {
	return &timeoutAdapter{Adapter: adapter, timeout: d}
}

type timeoutAdapter struct {
	Adapter
	timeout time.Duration
}

func (a *timeoutAdapter) Send(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return a.Adapter.Send(ctx, req)
}
