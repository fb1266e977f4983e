package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// CachedStore wraps a Store with a TTL cache over the listing queries the
// router hits on every request. Reads are lock-free; expired entries are
// served stale while one goroutine refreshes in the background.
type CachedStore struct {
	Store
	listings sync.Map // Layer -> *listingEntry
	ttl      time.Duration
	logger   *zap.Logger
}

type listingEntry struct {
	regs       []*ServiceRegistration
	expiresAt  time.Time
	refreshing atomic.Bool
}

// NewCachedStore wraps store with the given listing TTL.
func NewCachedStore(store Store, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl == 0 {
		ttl = 15 * time.Second
	}
	return &CachedStore{Store: store, ttl: ttl, logger: logger}
}

// ListActive returns the cached active listing for layer, refreshing in the
// background when stale.
func (c *CachedStore) ListActive(ctx context.Context, layer Layer) ([]*ServiceRegistration, error) {
	if val, ok := c.listings.Load(layer); ok {
		entry := val.(*listingEntry)
		if time.Now().Before(entry.expiresAt) {
			return entry.regs, nil
		}
		if entry.refreshing.CompareAndSwap(false, true) {
			go c.refresh(layer)
		}
		return entry.regs, nil
	}

	regs, err := c.Store.ListActive(ctx, layer)
	if err != nil {
		return nil, err
	}
	c.listings.Store(layer, &listingEntry{regs: regs, expiresAt: time.Now().Add(c.ttl)})
	return regs, nil
}

// Upsert writes through and drops cached listings so the next read sees the
// new registration.
func (c *CachedStore) Upsert(ctx context.Context, reg *ServiceRegistration) error {
	if err := c.Store.Upsert(ctx, reg); err != nil {
		return err
	}
	c.Invalidate()
	return nil
}

// Delete writes through and drops cached listings.
func (c *CachedStore) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := c.Store.Delete(ctx, name)
	if err == nil {
		c.Invalidate()
	}
	return ok, err
}

// Invalidate drops every cached listing.
func (c *CachedStore) Invalidate() {
	c.listings.Range(func(key, _ any) bool {
		c.listings.Delete(key)
		return true
	})
}

func (c *CachedStore) refresh(layer Layer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	regs, err := c.Store.ListActive(ctx, layer)
	if err != nil {
		c.logger.Warn("background service listing refresh failed",
			zap.String("layer", string(layer)),
			zap.Error(err),
		)
		return
	}
	c.listings.Store(layer, &listingEntry{regs: regs, expiresAt: time.Now().Add(c.ttl)})
}
