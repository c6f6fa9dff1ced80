package vault

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
}

func keyEntry(id string) string {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	return fmt.Sprintf("%s:%s", id, base64.StdEncoding.EncodeToString(key))
}

func newTestGateway(t *testing.T, entries ...string) *Gateway {
	t.Helper()
	store, err := NewEnvKeyStore(entries, "")
	require.NoError(t, err)
	return NewGateway(store, NewKeyCache(), testLogger())
}

func TestGateway_RoundTrip(t *testing.T) {
	g := newTestGateway(t, keyEntry("k1"))
	ctx := context.Background()

	ciphertext, keyID, err := g.Encrypt(ctx, []byte("access-token-123"))
	require.NoError(t, err)
	assert.Equal(t, "k1", keyID)
	assert.NotContains(t, ciphertext, "access-token-123")

	plaintext, err := g.Decrypt(ctx, ciphertext, keyID)
	require.NoError(t, err)
	assert.Equal(t, "access-token-123", string(plaintext))
}

func TestGateway_RoundTripPayloadSizes(t *testing.T) {
	g := newTestGateway(t, keyEntry("k1"))
	ctx := context.Background()

	large := make([]byte, 1<<20)
	_, _ = rand.Read(large)

	for _, payload := range [][]byte{{}, large} {
		ciphertext, keyID, err := g.Encrypt(ctx, payload)
		require.NoError(t, err)

		plaintext, err := g.Decrypt(ctx, ciphertext, keyID)
		require.NoError(t, err)
		assert.Equal(t, payload, plaintext)
	}
}

func TestGateway_EachEncryptionUnique(t *testing.T) {
	g := newTestGateway(t, keyEntry("k1"))
	ctx := context.Background()

	a, _, err := g.Encrypt(ctx, []byte("same-secret"))
	require.NoError(t, err)
	b, _, err := g.Encrypt(ctx, []byte("same-secret"))
	require.NoError(t, err)

	// Fresh nonce per call
	assert.NotEqual(t, a, b)
}

func TestGateway_TamperedCiphertextRejected(t *testing.T) {
	g := newTestGateway(t, keyEntry("k1"))
	ctx := context.Background()

	ciphertext, keyID, err := g.Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = g.Decrypt(ctx, tampered, keyID)
	assert.ErrorIs(t, err, ErrCiphertextInvalid)
}

func TestGateway_GarbageCiphertextRejected(t *testing.T) {
	g := newTestGateway(t, keyEntry("k1"))
	ctx := context.Background()

	_, err := g.Decrypt(ctx, "not base64!!", "k1")
	assert.ErrorIs(t, err, ErrCiphertextInvalid)

	_, err = g.Decrypt(ctx, base64.StdEncoding.EncodeToString([]byte("short")), "k1")
	assert.ErrorIs(t, err, ErrCiphertextInvalid)
}

func TestGateway_UnknownKeyRejected(t *testing.T) {
	g := newTestGateway(t, keyEntry("k1"))
	ctx := context.Background()

	ciphertext, _, err := g.Encrypt(ctx, []byte("secret"))
	require.NoError(t, err)

	_, err = g.Decrypt(ctx, ciphertext, "missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestGateway_DecryptWithRetiredKey(t *testing.T) {
	old := keyEntry("old")
	store, err := NewEnvKeyStore([]string{old}, "")
	require.NoError(t, err)
	g := NewGateway(store, NewKeyCache(), testLogger())
	ctx := context.Background()

	ciphertext, keyID, err := g.Encrypt(ctx, []byte("legacy-secret"))
	require.NoError(t, err)

	// Rotate: new active key, old entry kept decrypt-only.
	rotated, err := NewEnvKeyStore([]string{keyEntry("new"), old}, "new")
	require.NoError(t, err)
	g2 := NewGateway(rotated, NewKeyCache(), testLogger())

	_, activeID, err := g2.Encrypt(ctx, []byte("fresh"))
	require.NoError(t, err)
	assert.Equal(t, "new", activeID)

	plaintext, err := g2.Decrypt(ctx, ciphertext, keyID)
	require.NoError(t, err)
	assert.Equal(t, "legacy-secret", string(plaintext))
}

func TestGateway_KeyCacheWarmsOnUse(t *testing.T) {
	store, err := NewEnvKeyStore([]string{keyEntry("k1")}, "")
	require.NoError(t, err)
	cache := NewKeyCache()
	g := NewGateway(store, cache, testLogger())

	assert.Equal(t, 0, cache.Len())

	_, _, err = g.Encrypt(context.Background(), []byte("secret"))
	require.NoError(t, err)
	assert.Equal(t, 1, cache.Len())

	g.InvalidateKey("k1")
	assert.Equal(t, 0, cache.Len())
}

func TestNewEnvKeyStore_RejectsBadEntries(t *testing.T) {
	_, err := NewEnvKeyStore([]string{"no-separator"}, "")
	assert.Error(t, err)

	_, err = NewEnvKeyStore([]string{"k1:!!!"}, "")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("tooshort"))
	_, err = NewEnvKeyStore([]string{"k1:" + short}, "")
	assert.Error(t, err)
}
