package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// KeyStore resolves encryption key material by key id. The active key encrypts
// new credentials; older keys stay resolvable for decryption until rotated out.
type KeyStore interface {
	GetKey(ctx context.Context, keyID string) ([]byte, error)
	ActiveKeyID() string
}

// EnvKeyStore reads keys from configuration entries of the form
// "<key_id>:<base64 32-byte key>".
type EnvKeyStore struct {
	keys     map[string][]byte
	activeID string
}

func NewEnvKeyStore(entries []string, activeKeyID string) (*EnvKeyStore, error) {
	keys := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		id, encoded, found := strings.Cut(entry, ":")
		if !found || id == "" {
			return nil, fmt.Errorf("malformed encryption key entry %q", entry)
		}

		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("encryption key %q is not valid base64: %w", id, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("encryption key %q must be 32 bytes, got %d", id, len(key))
		}

		keys[id] = key
	}

	if activeKeyID == "" && len(entries) > 0 {
		// The first configured entry is the active encryption key
		activeKeyID, _, _ = strings.Cut(entries[0], ":")
	}

	if activeKeyID != "" {
		if _, ok := keys[activeKeyID]; !ok {
			return nil, fmt.Errorf("active key id %q has no key material", activeKeyID)
		}
	}

	return &EnvKeyStore{keys: keys, activeID: activeKeyID}, nil
}

func (s *EnvKeyStore) GetKey(ctx context.Context, keyID string) ([]byte, error) {
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
	}
	return key, nil
}

func (s *EnvKeyStore) ActiveKeyID() string {
	return s.activeID
}
