package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultService is the keyring service name.
const DefaultService = "prism"

// KeyringStore keeps one JSON document per id in the OS keyring.
type KeyringStore struct {
	service string
}

// NewKeyringStore creates a KeyringStore for a service name.
func NewKeyringStore(service string) *KeyringStore {
	if service == "" {
		service = DefaultService
	}
	return &KeyringStore{service: service}
}

func (k *KeyringStore) Get(ctx context.Context, id string) (Secrets, error) {
	raw, err := keyring.Get(k.service, id)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keyring get: %w", err)
	}
	var s Secrets
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("keyring decode: %w", err)
	}
	return s, nil
}

func (k *KeyringStore) Set(ctx context.Context, id string, s Secrets) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("keyring encode: %w", err)
	}
	if err := keyring.Set(k.service, id, string(data)); err != nil {
		return fmt.Errorf("keyring set: %w", err)
	}
	return nil
}

func (k *KeyringStore) Delete(ctx context.Context, id string) error {
	if err := keyring.Delete(k.service, id); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("keyring delete: %w", err)
	}
	return nil
}
