// SPDX-License-Identifier: MIT

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// Credentials is the file-backed identity of this gateway: the control-plane
// API key, the gateway id used in cloud subjects, and the last known
// externally reachable base URL (maintained by the tunnel subsystem).
type Credentials struct {
	APIKey    string `json:"api_key"`
	GatewayID string `json:"gateway_id,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`
}

// ErrNoAPIKey marks a credentials document without a usable API key.
var ErrNoAPIKey = errors.New("credentials: api_key is missing or empty")

// Validate checks the one hard requirement: a non-empty API key.
func (c Credentials) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	return nil
}

// EffectiveGatewayID returns the configured gateway id, or derives a stable
// one from the API key when the document does not carry one.
func (c Credentials) EffectiveGatewayID() string {
	if c.GatewayID != "" {
		return c.GatewayID
	}
	// uuid.NewSHA1 is deterministic: the same API key always yields the
	// same id, so the cloud subject survives restarts.
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("farmgw:"+c.APIKey)).String()
}

// LoadCredentials reads and validates the credentials document.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator config
	if err != nil {
		return Credentials{}, fmt.Errorf("read credentials: %w", err)
	}
	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return Credentials{}, fmt.Errorf("parse credentials: %w", err)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// SaveCredentials writes the document atomically so a concurrent reader (or
// the file watcher) never observes a half-written file.
func SaveCredentials(path string, creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	if err := renameio.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// MaskKey renders an API key for logs: first four characters, then ellipsis.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "***"
	}
	return key[:4] + "..."
}
