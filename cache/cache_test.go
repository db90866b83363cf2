package cache

import (
	"context"
	"testing"

	"github.com/rushteam/recore/core"
	"github.com/rushteam/recore/store"
)

func sampleItems() []*core.Item {
	a := core.NewItem("i1")
	a.Score = 0.9
	a.Contributions["collaborative"] = 0.6
	a.Contributions["popularity"] = 0.3
	b := core.NewItem("i2")
	b.Score = 0.4
	return []*core.Item{a, b}
}

func TestResultCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defer kv.Close()
	c := NewResultCache(kv, 0)

	key := Key{UserID: "u1", Count: 10, SnapshotVersion: 3, Variant: "control"}

	if _, hit, err := c.Get(ctx, key); err != nil || hit {
		t.Fatalf("empty cache must miss, hit=%v err=%v", hit, err)
	}

	if err := c.Put(ctx, key, sampleItems()); err != nil {
		t.Fatal(err)
	}

	items, hit, err := c.Get(ctx, key)
	if err != nil || !hit {
		t.Fatalf("expected hit, got hit=%v err=%v", hit, err)
	}
	if len(items) != 2 || items[0].ID != "i1" || items[0].Score != 0.9 {
		t.Fatalf("got %+v", items)
	}
	if items[0].Contributions["collaborative"] != 0.6 {
		t.Fatalf("contributions lost: %v", items[0].Contributions)
	}
}

func TestResultCacheKeyDimensions(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defer kv.Close()
	c := NewResultCache(kv, 0)

	base := Key{UserID: "u1", Count: 10, SnapshotVersion: 3, Variant: "control"}
	if err := c.Put(ctx, base, sampleItems()); err != nil {
		t.Fatal(err)
	}

	// 任何维度变化都不命中同一条目
	variants := []Key{
		{UserID: "u2", Count: 10, SnapshotVersion: 3, Variant: "control"},
		{UserID: "u1", Count: 20, SnapshotVersion: 3, Variant: "control"},
		{UserID: "u1", Count: 10, SnapshotVersion: 4, Variant: "control"},
		{UserID: "u1", Count: 10, SnapshotVersion: 3, Variant: "treatment"},
		{UserID: "u1", Count: 10, SnapshotVersion: 3, Variant: "control", Generation: 1},
	}
	for _, k := range variants {
		if _, hit, _ := c.Get(ctx, k); hit {
			t.Fatalf("key %v must not hit base entry", k)
		}
	}
}

func TestResultCacheInvalidateUser(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defer kv.Close()
	c := NewResultCache(kv, 0)

	k1 := Key{UserID: "u1", Count: 10, SnapshotVersion: 3, Variant: "control"}
	k2 := Key{UserID: "u1", Count: 20, SnapshotVersion: 3, Variant: "control"}
	other := Key{UserID: "u2", Count: 10, SnapshotVersion: 3, Variant: "control"}
	for _, k := range []Key{k1, k2, other} {
		if err := c.Put(ctx, k, sampleItems()); err != nil {
			t.Fatal(err)
		}
	}

	if err := c.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}

	for _, k := range []Key{k1, k2} {
		if _, hit, _ := c.Get(ctx, k); hit {
			t.Fatalf("key %v must be invalidated", k)
		}
	}
	// 其他用户不受影响
	if _, hit, _ := c.Get(ctx, other); !hit {
		t.Fatal("other user's cache must survive")
	}
}

func TestResultCacheGenerationFencesLateWrites(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defer kv.Close()
	c := NewResultCache(kv, 0)

	gen, err := c.Generation(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if gen != 0 {
		t.Fatalf("fresh user generation got %d, want 0", gen)
	}
	stale := Key{UserID: "u1", Count: 10, SnapshotVersion: 3, Variant: "control", Generation: gen}

	// 请求读出代次后、写回前，用户产生新交互触发失效
	if err := c.InvalidateUser(ctx, "u1"); err != nil {
		t.Fatal(err)
	}
	// 迟到的写回仍带旧代次
	if err := c.Put(ctx, stale, sampleItems()); err != nil {
		t.Fatal(err)
	}

	// 之后的请求读到新代次，迟到写入命中不到
	gen2, err := c.Generation(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if gen2 != gen+1 {
		t.Fatalf("generation after invalidation got %d, want %d", gen2, gen+1)
	}
	fresh := stale
	fresh.Generation = gen2
	if _, hit, _ := c.Get(ctx, fresh); hit {
		t.Fatal("late write with stale generation must not be served")
	}
}

func TestResultCacheCorruptEntryMisses(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryStore()
	defer kv.Close()
	c := NewResultCache(kv, 0)

	key := Key{UserID: "u1", Count: 10, SnapshotVersion: 1, Variant: "control"}
	if err := kv.Set(ctx, key.String(), []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if _, hit, err := c.Get(ctx, key); err != nil || hit {
		t.Fatalf("corrupt entry must miss silently, hit=%v err=%v", hit, err)
	}
}
