package config

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// Keyring coordinates of the gateway token.
const (
	KeyringService = "a11ylens"
	KeyringUser    = "gateway-token"
)

// StoreToken saves the gateway token in the OS keyring.
func StoreToken(token string) error {
	if err := keyring.Set(KeyringService, KeyringUser, token); err != nil {
		return fmt.Errorf("config: store token: %w", err)
	}
	return nil
}

// KeyringToken returns the stored gateway token, or "" when none is stored.
func KeyringToken() (string, error) {
	tok, err := keyring.Get(KeyringService, KeyringUser)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("config: read token: %w", err)
	}
	return tok, nil
}

// ResolveToken fills Gateway.Token from the keyring when neither the file nor
// the environment set it. Keyring failures leave the token empty.
func (c *Config) ResolveToken() string {
	if c.Gateway.Token != "" {
		return c.Gateway.Token
	}
	tok, err := KeyringToken()
	if err != nil {
		return ""
	}
	c.Gateway.Token = tok
	return tok
}
