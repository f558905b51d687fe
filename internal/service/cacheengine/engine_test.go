package cacheengine

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/velro/authz-core/internal/adapter/outbound/memory"
	"github.com/velro/authz-core/internal/domain/cache"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestEngine() *Engine {
	return New(
		memory.NewHotKeyStore(100),
		memory.NewL1Cache(1<<20),
		memory.NewL2Cache(),
		memory.NewGenerationStore(),
		nil,
		nil,
		nil,
		nil,
	)
}

func TestEngine_MissInvokesFallbackOnce(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	key := cache.BuildKey("u1", 0, cache.KindProfile, "u1", "read")

	calls := 0
	fn := func(ctx context.Context) (*cache.Entry, error) {
		calls++
		return &cache.Entry{Key: key, Value: []byte("v"), PrincipalID: "u1"}, nil
	}

	entry, hit, err := e.Get(context.Background(), key, "u1", fn)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if hit {
		t.Error("first Get() should not report a hit")
	}
	if string(entry.Value) != "v" {
		t.Errorf("Value = %q, want %q", entry.Value, "v")
	}
	if calls != 1 {
		t.Fatalf("fallback invoked %d times, want 1", calls)
	}

	entry2, hit2, err := e.Get(context.Background(), key, "u1", fn)
	if err != nil {
		t.Fatalf("second Get() error: %v", err)
	}
	if !hit2 {
		t.Error("second Get() should be a hit")
	}
	if string(entry2.Value) != "v" {
		t.Errorf("Value = %q, want %q", entry2.Value, "v")
	}
	if calls != 1 {
		t.Fatalf("fallback invoked %d times after cache hit, want 1", calls)
	}
}

func TestEngine_GenerationBumpInvalidates(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	ctx := context.Background()
	key := cache.BuildKey("u1", 0, cache.KindGeneration, "g1", "read")

	calls := 0
	fn := func(ctx context.Context) (*cache.Entry, error) {
		calls++
		return &cache.Entry{Key: key, Value: []byte("v")}, nil
	}

	if _, _, err := e.Get(ctx, key, "u1", fn); err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	if _, err := e.BumpGeneration(ctx, "u1"); err != nil {
		t.Fatalf("BumpGeneration() error: %v", err)
	}

	if _, _, err := e.Get(ctx, key, "u1", fn); err != nil {
		t.Fatalf("Get() after bump error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("fallback invoked %d times, want 2 after generation bump", calls)
	}
}

func TestEngine_InvalidateTagRemovesEntry(t *testing.T) {
	t.Parallel()

	e := newTestEngine()
	ctx := context.Background()
	key := cache.BuildKey("u1", 0, cache.KindGeneration, "g1", "read")

	entry := &cache.Entry{
		Key:       key,
		Value:     []byte("v"),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
		Tags:      []cache.Tag{cache.ResourceTag("g1")},
	}
	if err := e.Set(ctx, entry); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	if err := e.InvalidateTag(ctx, cache.ResourceTag("g1")); err != nil {
		t.Fatalf("InvalidateTag() error: %v", err)
	}

	calls := 0
	fn := func(ctx context.Context) (*cache.Entry, error) {
		calls++
		return entry, nil
	}
	if _, hit, _ := e.Get(ctx, key, "u1", fn); hit {
		t.Error("expected miss after tag invalidation")
	}
	if calls != 1 {
		t.Errorf("fallback invoked %d times, want 1", calls)
	}
}
