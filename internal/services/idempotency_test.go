package services

import (
	"context"
	"testing"

	"tarot-system/internal/config"
	"tarot-system/internal/redis"

	miniredis "github.com/alicebob/miniredis/v2"
)

func TestIdempotencyGuard_ReserveOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	defer mr.Close()
	rdb, err := redis.Connect(&config.RedisConfig{Host: "127.0.0.1", Port: mr.Port(), DB: 0}, newTestLogger())
	if err != nil {
		t.Fatalf("failed to connect to miniredis: %v", err)
	}

	guard := NewIdempotencyGuard(rdb, newTestLogger(), &config.IdempotencyConfig{Enabled: true, TTLMinutes: 10})
	ctx := context.Background()

	ok, err := guard.Reserve(ctx, "user-1", "abc:123")
	if err != nil || !ok {
		t.Fatalf("first reservation should succeed, got ok=%v err=%v", ok, err)
	}

	if !mr.Exists("idem:user-1:abc_123") {
		t.Fatalf("expected idempotency key to be stored")
	}
	if ttl := mr.TTL("idem:user-1:abc_123"); ttl <= 0 {
		t.Fatalf("expected positive ttl, got %v", ttl)
	}

	ok, err = guard.Reserve(ctx, "user-1", "abc:123")
	if err != nil || ok {
		t.Fatalf("replay should be rejected, got ok=%v err=%v", ok, err)
	}

	ok, err = guard.Reserve(ctx, "user-2", "abc:123")
	if err != nil || !ok {
		t.Fatalf("other owner should not collide, got ok=%v err=%v", ok, err)
	}

	guard.Release(ctx, "user-1", "abc:123")
	ok, err = guard.Reserve(ctx, "user-1", "abc:123")
	if err != nil || !ok {
		t.Fatalf("released key should be reusable, got ok=%v err=%v", ok, err)
	}
}

func TestIdempotencyGuard_Disabled(t *testing.T) {
	guard := NewIdempotencyGuard(nil, nil, &config.IdempotencyConfig{Enabled: true})
	if guard.Enabled() {
		t.Fatalf("expected guard disabled without redis")
	}

	ok, err := guard.Reserve(context.Background(), "user", "key")
	if err != nil || !ok {
		t.Fatalf("disabled guard must allow everything")
	}
	guard.Release(context.Background(), "user", "key")
}
