// Package cache holds recently read profiles for a short TTL.
package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"healthvault/internal/profile/models"
)

const (
	DefaultTTL        = 30 * time.Second
	DefaultMaxEntries = 64
)

// Cache maps userID to the last profile read or written. Entries are shared
// pointers; callers must not mutate what Get returns.
type Cache struct {
	items      *gocache.Cache
	maxEntries int

	// mu makes the bound check, eviction and insert in Set one step.
	mu sync.Mutex
}

// New builds a cache without a janitor goroutine; expired entries are
// dropped lazily on access and when the cache is full.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		items:      gocache.New(ttl, 0),
		maxEntries: maxEntries,
	}
}

func (c *Cache) Get(userID string) (*models.HealthProfile, bool) {
	v, ok := c.items.Get(userID)
	if !ok {
		return nil, false
	}
	p, ok := v.(*models.HealthProfile)
	return p, ok
}

// Set stores p for userID, evicting first when the cache is full.
func (c *Cache) Set(userID string, p *models.HealthProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items.Get(userID); !exists && c.items.ItemCount() >= c.maxEntries {
		c.evict()
	}
	c.items.SetDefault(userID, p)
}

// Invalidate drops the entry for userID.
func (c *Cache) Invalidate(userID string) {
	c.items.Delete(userID)
}

func (c *Cache) Len() int {
	return c.items.ItemCount()
}

// evict removes expired entries, then the entry closest to expiry if the
// cache is still full.
func (c *Cache) evict() {
	c.items.DeleteExpired()
	if c.items.ItemCount() < c.maxEntries {
		return
	}
	var (
		oldestKey string
		oldestExp int64
	)
	for k, item := range c.items.Items() {
		if oldestKey == "" || item.Expiration < oldestExp {
			oldestKey, oldestExp = k, item.Expiration
		}
	}
	c.items.Delete(oldestKey)
}
