package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedisTokenStore(t *testing.T) (*miniredis.Miniredis, *RedisTokenStore) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisTokenStore(client, "test:confirm:")

	t.Cleanup(func() {
		_ = store.Close()
	})
	return mr, store
}

func TestRedisTokenStore_Consume(t *testing.T) {
	_, store := setupRedisTokenStore(t)
	ctx := context.Background()

	first, err := store.Consume(ctx, "tok-1", time.Minute)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !first {
		t.Fatal("first consume must return true")
	}

	second, err := store.Consume(ctx, "tok-1", time.Minute)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if second {
		t.Fatal("second consume must return false")
	}
}

func TestRedisTokenStore_EntryExpires(t *testing.T) {
	mr, store := setupRedisTokenStore(t)
	ctx := context.Background()

	if _, err := store.Consume(ctx, "tok-ttl", time.Minute); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// After the retention elapses the entry is gone; the token itself is
	// expired by then, so re-verification is still refused by the gate.
	mr.FastForward(2 * time.Minute)

	if mr.Exists("test:confirm:tok-ttl") {
		t.Error("entry should have expired")
	}
}
