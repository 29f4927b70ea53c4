package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	type quote struct {
		Price float64 `json:"price"`
	}
	if err := mc.Set(ctx, "price:X", quote{Price: 101.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got quote
	if err := mc.Get(ctx, "price:X", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Price != 101.5 {
		t.Fatalf("price = %v", got.Price)
	}

	if err := mc.Get(ctx, "missing", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}

func TestMemoryCacheTryLockExpires(t *testing.T) {
	mc := NewMemoryCache(WithMemoryCleanup(0))
	defer mc.Close()
	now := time.Unix(1000, 0)
	mc.now = func() time.Time { return now }
	ctx := context.Background()

	ok, _ := mc.TryLock(ctx, "evt-1", time.Second)
	if !ok {
		t.Fatal("first lock must succeed")
	}
	ok, _ = mc.TryLock(ctx, "evt-1", time.Second)
	if ok {
		t.Fatal("second lock must fail inside ttl")
	}
	now = now.Add(2 * time.Second)
	ok, _ = mc.TryLock(ctx, "evt-1", time.Second)
	if !ok {
		t.Fatal("lock must succeed after ttl")
	}
}

func TestMemoryCacheEvictsWhenFull(t *testing.T) {
	mc := NewMemoryCache(WithMemoryMaxSize(2), WithMemoryCleanup(0))
	defer mc.Close()
	ctx := context.Background()

	_ = mc.Set(ctx, "a", 1, 0)
	_ = mc.Set(ctx, "b", 2, 0)
	_ = mc.Set(ctx, "c", 3, 0)
	if mc.Len() != 2 {
		t.Fatalf("len = %d", mc.Len())
	}
}
