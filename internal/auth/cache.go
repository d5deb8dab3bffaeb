package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const maxCachedTokens = 10000

// cachingVerifier remembers accepted tokens for a while. Rejections are never
// cached, so a newly issued key works on its first request.
type cachingVerifier struct {
	next  Verifier
	ttl   time.Duration
	now   func() time.Time
	mu    sync.RWMutex
	items map[string]time.Time
}

// NewCachingVerifier wraps next with a TTL cache. A non-positive ttl disables caching.
func NewCachingVerifier(next Verifier, ttl time.Duration) Verifier {
	if ttl <= 0 {
		return next
	}
	return &cachingVerifier{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]time.Time),
	}
}

func (c *cachingVerifier) Verify(ctx context.Context, token string) (bool, error) {
	key := digest(token)

	c.mu.RLock()
	expiresAt, exists := c.items[key]
	c.mu.RUnlock()

	if exists && c.now().Before(expiresAt) {
		return true, nil
	}

	ok, err := c.next.Verify(ctx, token)
	if err != nil || !ok {
		return ok, err
	}

	c.set(key)
	return true, nil
}

func (c *cachingVerifier) set(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if len(c.items) >= maxCachedTokens {
		for k, exp := range c.items {
			if now.After(exp) {
				delete(c.items, k)
			}
		}
	}
	if len(c.items) >= maxCachedTokens {
		return
	}
	c.items[key] = now.Add(c.ttl)
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
