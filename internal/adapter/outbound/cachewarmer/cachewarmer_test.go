package cachewarmer

import (
	"context"
	"errors"
	"testing"

	"github.com/velro/authz-core/internal/adapter/outbound/memory"
	"github.com/velro/authz-core/internal/domain/cache"
	"github.com/velro/authz-core/internal/domain/resource"
	"github.com/velro/authz-core/internal/domain/warmplan"
	"github.com/velro/authz-core/internal/service/cacheengine"
)

type fakeResources struct {
	res *resource.Resource
	err error
}

func (f *fakeResources) GetResource(_ context.Context, resourceID string) (*resource.Resource, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

func newTestEngine() *cacheengine.Engine {
	return cacheengine.New(
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

func TestWarmer_ResourceKindPopulatesEngine(t *testing.T) {
	engine := newTestEngine()
	resources := &fakeResources{res: &resource.Resource{ID: "r1", Type: resource.TypeGeneration, OwnerID: "u1"}}
	w := New(engine, resources, nil, nil, nil)

	key := cache.BuildKey("u1", 0, cache.KindResource, "r1", "read")
	if err := w.Warm(context.Background(), warmplan.Request{Key: key.String(), PrincipalID: "u1"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}

	entry, hit, err := engine.Get(context.Background(), key, "u1", func(context.Context) (*cache.Entry, error) {
		t.Fatal("fallback should not run after a successful warm")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Get after warm: %v", err)
	}
	if !hit {
		t.Fatal("expected a cache hit after warming")
	}
	if entry.ResourceID != "r1" {
		t.Fatalf("ResourceID = %q, want r1", entry.ResourceID)
	}
}

func TestWarmer_PropagatesLookupError(t *testing.T) {
	engine := newTestEngine()
	resources := &fakeResources{err: errors.New("db unavailable")}
	w := New(engine, resources, nil, nil, nil)

	key := cache.BuildKey("u1", 0, cache.KindResource, "r1", "read")
	if err := w.Warm(context.Background(), warmplan.Request{Key: key.String(), PrincipalID: "u1"}); err == nil {
		t.Fatal("expected the lookup error to propagate")
	}
}

func TestWarmer_UnsupportedKindIsANoop(t *testing.T) {
	engine := newTestEngine()
	w := New(engine, nil, nil, nil, nil)

	key := cache.BuildKey("u1", 0, cache.KindSession, "s1", "read")
	if err := w.Warm(context.Background(), warmplan.Request{Key: key.String(), PrincipalID: "u1"}); err != nil {
		t.Fatalf("Warm: %v", err)
	}
}

func TestWarmer_MalformedKeyReturnsError(t *testing.T) {
	engine := newTestEngine()
	w := New(engine, nil, nil, nil, nil)

	if err := w.Warm(context.Background(), warmplan.Request{Key: "not-a-key", PrincipalID: "u1"}); err == nil {
		t.Fatal("expected an error for a malformed key")
	}
}
