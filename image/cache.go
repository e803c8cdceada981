package image

import (
	"encoding/base64"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/crypto/blake2b"
)

// HeaderCache memoizes parsed headers by image content so reloading
// the same image after a process restart skips the TLV walk. Headers
// are read-only after parse, sharing them is safe.
type HeaderCache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewHeaderCache() *HeaderCache {
	cache, err := lru.NewARC(64)
	if err != nil {
		panic(err)
	}

	return &HeaderCache{cache: cache}
}

func cacheKey(img []byte) string {
	sum := blake2b.Sum256(img)
	return base64.URLEncoding.EncodeToString(sum[:])
}

func (c *HeaderCache) Lookup(key string) (*Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*Header), true
}

func (c *HeaderCache) Set(key string, h *Header) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, h)
}
