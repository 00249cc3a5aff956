// Package secrets stores per-connection secrets (API keys, OAuth tokens)
// outside of the configuration files.
//
// Stores are opaque key-value capabilities: the core neither encrypts nor
// interprets what it saves. Two backends are provided:
//   - KeyringStore: the OS keyring (macOS Keychain, Windows Credential
//     Manager, Linux Secret Service)
//   - FileStore: JSON files with 0600 permissions, for headless machines
//
// FallbackStore combines them the way credential helpers usually do: write
// to the keyring, fall back to files when the keyring is unavailable.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when no secrets exist for an id.
var ErrNotFound = errors.New("secrets not found")

// Well-known secret keys.
const (
	KeyAPIKey       = "apiKey"
	KeyAccessToken  = "accessToken"
	KeyRefreshToken = "refreshToken"
	KeyTokenType    = "tokenType"
	KeyExpiry       = "expiry"
	KeyClientID     = "clientId"
	KeyClientSecret = "clientSecret"
	KeyTokenURL     = "tokenUrl"
)

// Secrets is the set of values stored for one connection id.
type Secrets map[string]string

// Store is a secure secret store.
type Store interface {
	Get(ctx context.Context, id string) (Secrets, error)
	Set(ctx context.Context, id string, s Secrets) error
	Delete(ctx context.Context, id string) error
}

// Backend names accepted by Open.
const (
	BackendKeyring = "keyring"
	BackendFile    = "file"
	BackendAuto    = ""
)

// Open returns the store for a backend name. The empty backend uses the
// keyring with a file fallback rooted at dir.
func Open(backend, service, dir string) (Store, error) {
	switch backend {
	case BackendKeyring:
		return NewKeyringStore(service), nil
	case BackendFile:
		return NewFileStore(dir), nil
	case BackendAuto, "auto":
		return NewFallbackStore(NewKeyringStore(service), NewFileStore(dir)), nil
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
}

// Merge updates the stored secrets for id with the given values, creating
// the entry if needed. Empty values delete the key.
func Merge(ctx context.Context, store Store, id string, values Secrets) error {
	current, err := store.Get(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if current == nil {
		current = Secrets{}
	}
	for k, v := range values {
		if v == "" {
			delete(current, k)
			continue
		}
		current[k] = v
	}
	return store.Set(ctx, id, current)
}

// FallbackStore writes to the primary store and falls back to the
// secondary when the primary fails.
type FallbackStore struct {
	primary   Store
	secondary Store
}

// NewFallbackStore creates a FallbackStore.
func NewFallbackStore(primary, secondary Store) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

// Get reads from the primary store, then the secondary.
func (f *FallbackStore) Get(ctx context.Context, id string) (Secrets, error) {
	s, err := f.primary.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	return f.secondary.Get(ctx, id)
}

// Set writes to the primary store, or the secondary if the primary fails.
func (f *FallbackStore) Set(ctx context.Context, id string, s Secrets) error {
	if err := f.primary.Set(ctx, id, s); err == nil {
		return nil
	}
	return f.secondary.Set(ctx, id, s)
}

// Delete removes the id from both stores. It fails only if neither store
// had anything to remove.
func (f *FallbackStore) Delete(ctx context.Context, id string) error {
	primaryErr := f.primary.Delete(ctx, id)
	secondaryErr := f.secondary.Delete(ctx, id)
	if primaryErr != nil && secondaryErr != nil {
		return ErrNotFound
	}
	return nil
}
