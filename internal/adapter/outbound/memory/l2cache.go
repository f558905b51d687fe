package memory

import (
	"context"
	"sync"
	"time"

	"github.com/velro/authz-core/internal/domain/cache"
)

// L2Cache is an in-memory stand-in for the shared L2 store, implementing
// cache.L2Store. It exists for tests and for degraded-mode fallback
// when no real L2 (redisstore) is configured; production deployments
// wire internal/adapter/outbound/redisstore instead.
type L2Cache struct {
	mu      sync.RWMutex
	entries map[string]*cache.Entry
	expiry  map[string]time.Time
	tags    map[cache.Tag]map[string]struct{}
}

// NewL2Cache creates an empty in-memory L2Cache.
func NewL2Cache() *L2Cache {
	return &L2Cache{
		entries: make(map[string]*cache.Entry),
		expiry:  make(map[string]time.Time),
		tags:    make(map[cache.Tag]map[string]struct{}),
	}
}

func (c *L2Cache) Get(_ context.Context, key string) (*cache.Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if exp, ok := c.expiry[key]; ok && time.Now().After(exp) {
		return nil, false, nil
	}
	return e, true, nil
}

func (c *L2Cache) Set(_ context.Context, entry *cache.Entry, ttl int64) error {
	key := entry.Key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry
	if ttl > 0 {
		c.expiry[key] = time.Now().Add(time.Duration(ttl) * time.Second)
	} else {
		delete(c.expiry, key)
	}
	return nil
}

func (c *L2Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	delete(c.expiry, key)
	return nil
}

func (c *L2Cache) TagAdd(_ context.Context, tag cache.Tag, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.tags[tag]
	if !ok {
		set = make(map[string]struct{})
		c.tags[tag] = set
	}
	set[key] = struct{}{}
	return nil
}

func (c *L2Cache) TagMembers(_ context.Context, tag cache.Tag) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	set := c.tags[tag]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out, nil
}

func (c *L2Cache) TagRemove(_ context.Context, tag cache.Tag, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if set, ok := c.tags[tag]; ok {
		delete(set, key)
	}
	return nil
}

var _ cache.L2Store = (*L2Cache)(nil)
