package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// tokenCache memoizes authenticated clients keyed by their raw bearer
// token. Expired entries keep serving stale reads while one caller
// refreshes against the database, so a slow lookup never stalls request
// authentication for everyone else.
type tokenCache struct {
	ttl     time.Duration
	entries sync.Map // token -> *tokenEntry
}

type tokenEntry struct {
	client     *ClientContext
	freshUntil time.Time
	refreshing atomic.Bool
}

func newTokenCache(ttl time.Duration) *tokenCache {
	return &tokenCache{ttl: ttl}
}

// lookup returns the cached client for token. stale reports that the
// entry outlived its TTL and this caller won the refresh duty through
// the CAS; losers keep the stale client until the winner calls put.
func (c *tokenCache) lookup(token string) (client *ClientContext, ok, stale bool) {
	v, found := c.entries.Load(token)
	if !found {
		return nil, false, false
	}
	e := v.(*tokenEntry)
	if time.Now().Before(e.freshUntil) {
		return e.client, true, false
	}
	return e.client, true, e.refreshing.CompareAndSwap(false, true)
}

// put replaces the entry for token and restarts its TTL.
func (c *tokenCache) put(token string, client *ClientContext) {
	c.entries.Store(token, &tokenEntry{
		client:     client,
		freshUntil: time.Now().Add(c.ttl),
	})
}

// drop evicts token, forcing the next lookup back to the database.
// Used when a client is deleted or its key is rotated.
func (c *tokenCache) drop(token string) {
	c.entries.Delete(token)
}
