// Package keyring keeps the push token in the OS credential store
// (Keychain, Secret Service, Windows Credential Manager) for desktop hosts.
package keyring

import (
	"context"
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const serviceName = "com.klaviyo.flutter.bridge"

type TokenStore struct {
	user string
}

// NewTokenStore scopes the entry to installationID.
func NewTokenStore(installationID string) *TokenStore {
	return &TokenStore{user: "push_token:" + installationID}
}

func (s *TokenStore) Load(_ context.Context) (string, error) {
	token, err := keyring.Get(serviceName, s.user)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read push token from keyring: %w", err)
	}
	return token, nil
}

func (s *TokenStore) Save(_ context.Context, token string) error {
	if err := keyring.Set(serviceName, s.user, token); err != nil {
		return fmt.Errorf("failed to write push token to keyring: %w", err)
	}
	return nil
}
