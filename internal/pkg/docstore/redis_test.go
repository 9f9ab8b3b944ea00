package docstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// JSON 文档命令依赖 RedisJSON 模块，miniredis 不支持，
// 这里只覆盖字符串键与通用键操作。

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() {
		if err := rdb.Close(); err != nil {
			t.Fatalf("close redis: %v", err)
		}
	})

	store, err := NewRedis(rdb)
	if err != nil {
		t.Fatalf("new redis store: %v", err)
	}
	return store, s
}

func TestRedis_StringRoundTrip(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	val, err := store.Get(ctx, "register:code:email:a@b.c")
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if val != "" {
		t.Fatalf("expected empty for absent key, got %q", val)
	}

	if err := store.Set(ctx, "register:code:email:a@b.c", "123456", 300*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, err = store.Get(ctx, "register:code:email:a@b.c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if val != "123456" {
		t.Fatalf("expected 123456, got %q", val)
	}
}

func TestRedis_TTLCountsDown(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "register:code:phone:123", "654321", 300*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	ttl, err := store.TTL(ctx, "register:code:phone:123")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl != 300*time.Second {
		t.Fatalf("expected 300s, got %v", ttl)
	}

	mr.FastForward(100 * time.Second)
	ttl, err = store.TTL(ctx, "register:code:phone:123")
	if err != nil {
		t.Fatalf("ttl after forward: %v", err)
	}
	if ttl != 200*time.Second {
		t.Fatalf("expected 200s, got %v", ttl)
	}

	mr.FastForward(201 * time.Second)
	ttl, err = store.TTL(ctx, "register:code:phone:123")
	if err != nil {
		t.Fatalf("ttl expired: %v", err)
	}
	if ttl >= 0 {
		t.Fatalf("expected negative ttl for expired key, got %v", ttl)
	}
}

func TestRedis_ExistsAndDelete(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "register:code:email:x")
	if err != nil {
		t.Fatalf("exists absent: %v", err)
	}
	if ok {
		t.Fatalf("expected absent")
	}

	if err := store.Set(ctx, "register:code:email:x", "111111", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	ok, err = store.Exists(ctx, "register:code:email:x")
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}

	removed, err := store.Delete(ctx, "register:code:email:x")
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	removed, err = store.Delete(ctx, "register:code:email:x")
	if err != nil {
		t.Fatalf("delete again: %v", err)
	}
	if removed {
		t.Fatalf("expected second delete to be a no-op")
	}
}
