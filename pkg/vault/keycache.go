package vault

import "sync"

// KeyCache holds decrypted data keys for the life of the process. It is injected
// into the Gateway rather than living as a package-level singleton so tests and
// key-rotation paths can reset it deterministically.
type KeyCache struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewKeyCache() *KeyCache {
	return &KeyCache{
		keys: make(map[string][]byte),
	}
}

func (c *KeyCache) Get(keyID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[keyID]
	return key, ok
}

func (c *KeyCache) Set(keyID string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[keyID] = key
}

// Invalidate evicts a single key, used on key rotation.
func (c *KeyCache) Invalidate(keyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, keyID)
}

// Reset evicts everything.
func (c *KeyCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys = make(map[string][]byte)
}

func (c *KeyCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.keys)
}
