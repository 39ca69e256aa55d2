// ABOUTME: Short-TTL credential resolution cache backed by ristretto
// ABOUTME: Keyed by key digest; bounds staleness after deactivation

package auth

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// cacheTTL bounds how long a resolved identity is served without hitting
// the resolver again. Deactivated keys stop authenticating within this
// window even without an explicit Invalidate.
const cacheTTL = 30 * time.Second

// credentialCache maps key digests to resolved identities. Plaintext keys
// are never stored, only their digests.
type credentialCache struct {
	cache *ristretto.Cache
}

func newCredentialCache() (*credentialCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &credentialCache{cache: cache}, nil
}

func (c *credentialCache) get(digest string) (*Identity, bool) {
	val, ok := c.cache.Get(digest)
	if !ok {
		return nil, false
	}
	identity, ok := val.(*Identity)
	return identity, ok
}

func (c *credentialCache) set(digest string, identity *Identity) {
	c.cache.SetWithTTL(digest, identity, 1, cacheTTL)
}

func (c *credentialCache) invalidate(digest string) {
	c.cache.Del(digest)
}
