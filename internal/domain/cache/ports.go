package cache

import "context"

// L1Store is the in-process tier: a bounded, memory-budgeted LRU. O(1)
// get/put/evict, thread-safe, values already decoded.
type L1Store interface {
	Get(key string) (*Entry, bool)
	Set(entry *Entry) error
	Delete(key string)
	// DeleteByTag removes every entry carrying tag t, returning the keys
	// removed.
	DeleteByTag(tag Tag) []string
	// DeleteByPattern removes every entry whose key matches a glob
	// pattern (* in any colon-delimited component).
	DeleteByPattern(pattern string) []string
	Len() int
	MemoryBytes() int64
}

// HotKeyStore is the small in-process sub-structure (≤ ~1000 entries)
// consulted before L1 main, populated by high-priority writes (spec
// §4.3 step 2).
type HotKeyStore interface {
	Get(key string) (*Entry, bool)
	Set(entry *Entry) error
	Delete(key string)
	Len() int
}

// L2Store is the shared remote tier: a key/value store with tag-set
// support, reached over the network (spec §6). Every method takes a
// context so callers may enforce layer soft/hard deadlines.
type L2Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, entry *Entry, ttl int64) error
	Delete(ctx context.Context, key string) error

	// Tag index primitives (SADD/SMEMBERS/SREM).
	TagAdd(ctx context.Context, tag Tag, key string) error
	TagMembers(ctx context.Context, tag Tag) ([]string, error)
	TagRemove(ctx context.Context, tag Tag, key string) error
}

// GenerationStore tracks each principal's monotonically increasing
// cache generation counter, used for O(1) logical invalidation.
type GenerationStore interface {
	Current(ctx context.Context, principalID string) (uint64, error)
	// Bump atomically increments the principal's generation counter and
	// returns the new value.
	Bump(ctx context.Context, principalID string) (uint64, error)
}

// FallbackFunc produces a fresh value on a total cache miss. Invoked
// exactly once per miss regardless of concurrent callers (coalesced by
// the engine via singleflight).
type FallbackFunc func(ctx context.Context) (*Entry, error)
