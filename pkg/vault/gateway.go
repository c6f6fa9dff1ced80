// Package vault encrypts provider credentials at rest with AES-256-GCM.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/MeadeCPA-Ocrolus/banklink/pkg/tracing"
)

var (
	// ErrKeyNotFound means the key id has no key material (missing or rotated out).
	ErrKeyNotFound = errors.New("encryption key not found")
	// ErrNoActiveKey means the gateway cannot encrypt because no active key is configured.
	ErrNoActiveKey = errors.New("no active encryption key configured")
	// ErrCiphertextInvalid means decryption failed: the ciphertext was tampered
	// with, truncated, or sealed under a different key.
	ErrCiphertextInvalid = errors.New("ciphertext authentication failed")
)

// Gateway seals and opens credentials. Ciphertext layout is nonce || sealed,
// base64 encoded; the key id is stored alongside the ciphertext so rotation
// never strands old rows.
type Gateway struct {
	store  KeyStore
	cache  *KeyCache
	logger ectologger.Logger
}

func NewGateway(store KeyStore, cache *KeyCache, logger ectologger.Logger) *Gateway {
	return &Gateway{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// Encrypt seals plaintext under the active key and returns the ciphertext and
// the key id it was sealed with.
func (g *Gateway) Encrypt(ctx context.Context, plaintext []byte) (string, string, error) {
	ctx, span := tracing.StartSpan(ctx, "vault.Gateway.Encrypt")
	defer span.End()

	keyID := g.store.ActiveKeyID()
	if keyID == "" {
		return "", "", ErrNoActiveKey
	}

	aesgcm, err := g.cipherFor(ctx, keyID)
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aesgcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), keyID, nil
}

// Decrypt opens ciphertext sealed under keyID. Tampering with any byte of the
// ciphertext or its authentication tag fails with ErrCiphertextInvalid.
func (g *Gateway) Decrypt(ctx context.Context, ciphertext, keyID string) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "vault.Gateway.Decrypt")
	defer span.End()

	aesgcm, err := g.cipherFor(ctx, keyID)
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}

	nonceSize := aesgcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext shorter than nonce", ErrCiphertextInvalid)
	}

	nonce, sealed := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := aesgcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		g.logger.WithContext(ctx).WithError(err).WithField("key_id", keyID).Error("Failed to authenticate ciphertext")
		return nil, fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}

	return plaintext, nil
}

// InvalidateKey evicts a cached key after rotation.
func (g *Gateway) InvalidateKey(keyID string) {
	g.cache.Invalidate(keyID)
}

func (g *Gateway) cipherFor(ctx context.Context, keyID string) (cipher.AEAD, error) {
	key, ok := g.cache.Get(keyID)
	if !ok {
		var err error
		key, err = g.store.GetKey(ctx, keyID)
		if err != nil {
			return nil, err
		}
		g.cache.Set(keyID, key)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to build cipher for key %s: %w", keyID, err)
	}

	return cipher.NewGCM(block)
}
