// Package redisstore adapts github.com/redis/go-redis/v9 to the
// shared L2 cache tier, the per-principal generation counter, the
// fixed-window rate limiter, and the SIEM/correlation audit sinks spec
// §6 names as the system's one external key/value and stream store.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velro/authz-core/internal/domain/cache"
)

// Store is the shared L2 cache tier (cache.L2Store): plain GET/SET/DEL
// for entries, SADD/SMEMBERS/SREM for the tag index, exactly the
// primitive set spec §6 allows against the shared store.
type Store struct {
	client *redis.Client
}

// New constructs a Store over an already-configured client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

var _ cache.L2Store = (*Store)(nil)

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry cache.Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

// Set writes entry under its own key, per entry.Key.String(); ttl is
// seconds, matching cache.L2Store's contract.
func (s *Store) Set(ctx context.Context, entry *cache.Entry, ttl int64) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	d := time.Duration(ttl) * time.Second
	return s.client.Set(ctx, entry.Key.String(), raw, d).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func tagSetKey(tag cache.Tag) string {
	return "tag:" + string(tag)
}

func (s *Store) TagAdd(ctx context.Context, tag cache.Tag, key string) error {
	return s.client.SAdd(ctx, tagSetKey(tag), key).Err()
}

func (s *Store) TagMembers(ctx context.Context, tag cache.Tag) ([]string, error) {
	return s.client.SMembers(ctx, tagSetKey(tag)).Result()
}

func (s *Store) TagRemove(ctx context.Context, tag cache.Tag, key string) error {
	return s.client.SRem(ctx, tagSetKey(tag), key).Err()
}

// GenerationStore is the per-principal generation counter
// (cache.GenerationStore), backed by a single INCR-able key per
// principal so a bump is atomic even under concurrent callers.
type GenerationStore struct {
	client *redis.Client
}

func NewGenerationStore(client *redis.Client) *GenerationStore {
	return &GenerationStore{client: client}
}

var _ cache.GenerationStore = (*GenerationStore)(nil)

func generationKey(principalID string) string {
	return "gen:" + principalID
}

func (g *GenerationStore) Current(ctx context.Context, principalID string) (uint64, error) {
	v, err := g.client.Get(ctx, generationKey(principalID)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (g *GenerationStore) Bump(ctx context.Context, principalID string) (uint64, error) {
	v, err := g.client.Incr(ctx, generationKey(principalID)).Result()
	if err != nil {
		return 0, err
	}
	return uint64(v), nil
}
