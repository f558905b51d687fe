package memory

import (
	"context"
	"sync"

	"github.com/velro/authz-core/internal/domain/cache"
)

// GenerationStore is an in-memory implementation of cache.GenerationStore.
// Production deployments back this with the same Redis instance as the
// L2 store (an INCR on a per-principal key), since the generation
// counter must be visible across processes for invalidation to work
// cluster-wide; this implementation is for single-process tests.
type GenerationStore struct {
	mu  sync.Mutex
	gen map[string]uint64
}

// NewGenerationStore creates an empty in-memory GenerationStore.
func NewGenerationStore() *GenerationStore {
	return &GenerationStore{gen: make(map[string]uint64)}
}

func (s *GenerationStore) Current(_ context.Context, principalID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen[principalID], nil
}

func (s *GenerationStore) Bump(_ context.Context, principalID string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen[principalID]++
	return s.gen[principalID], nil
}

var _ cache.GenerationStore = (*GenerationStore)(nil)
