package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/velro/authz-core/internal/service/gate"
)

const allowListKey = "fastlane:allowlist"

// AllowListChecker backs the fast-lane's gate.AllowListChecker with a
// single Redis set, shared across replicas, checked with SISMEMBER
// (the membership primitive spec §6 allows against the shared store).
type AllowListChecker struct {
	client *redis.Client
}

// NewAllowListChecker constructs a checker over an already-configured client.
func NewAllowListChecker(client *redis.Client) *AllowListChecker {
	return &AllowListChecker{client: client}
}

var _ gate.AllowListChecker = (*AllowListChecker)(nil)

// Allowed implements gate.AllowListChecker.
func (c *AllowListChecker) Allowed(ctx context.Context, principalID string) (bool, error) {
	return c.client.SIsMember(ctx, allowListKey, principalID).Result()
}

// Add grants a principal fast-lane access.
func (c *AllowListChecker) Add(ctx context.Context, principalID string) error {
	return c.client.SAdd(ctx, allowListKey, principalID).Err()
}

// Remove revokes a principal's fast-lane access.
func (c *AllowListChecker) Remove(ctx context.Context, principalID string) error {
	return c.client.SRem(ctx, allowListKey, principalID).Err()
}
