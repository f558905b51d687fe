package memory

import (
	"context"
	"sync"

	"github.com/velro/authz-core/internal/service/gate"
)

// AllowListChecker is an in-process principal allow-list for the
// fast-lane, for callers with no Redis available; neither start nor
// selfcheck constructs it. Production deployments should prefer
// redisstore.AllowListChecker so the list is shared across replicas.
type AllowListChecker struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
}

// NewAllowListChecker constructs a checker seeded with the given
// principal IDs.
func NewAllowListChecker(principalIDs ...string) *AllowListChecker {
	c := &AllowListChecker{allowed: make(map[string]struct{}, len(principalIDs))}
	for _, id := range principalIDs {
		c.allowed[id] = struct{}{}
	}
	return c
}

var _ gate.AllowListChecker = (*AllowListChecker)(nil)

// Allowed implements gate.AllowListChecker.
func (c *AllowListChecker) Allowed(_ context.Context, principalID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.allowed[principalID]
	return ok, nil
}

// Add adds a principal to the allow-list.
func (c *AllowListChecker) Add(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed[principalID] = struct{}{}
}

// Remove removes a principal from the allow-list.
func (c *AllowListChecker) Remove(principalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.allowed, principalID)
}
