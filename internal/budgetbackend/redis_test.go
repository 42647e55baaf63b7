package budgetbackend

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupTestRedisBackend(t *testing.T) (*miniredis.Miniredis, *RedisBackend) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, &RedisBackend{
		client: client,
		key:    "veronica:budget:test-chain",
		ttl:    time.Hour,
	}
}

func TestRedisBackendAddAccumulatesAndAppliesTTL(t *testing.T) {
	mr, b := setupTestRedisBackend(t)

	total, err := b.Add(1.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1.25 {
		t.Fatalf("expected 1.25, got %v", total)
	}

	total, err = b.Add(0.75)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2.0 {
		t.Fatalf("expected 2.0, got %v", total)
	}

	ttl := mr.TTL(b.key)
	if ttl <= 0 {
		t.Fatalf("expected a TTL to be set on the budget key, got %v", ttl)
	}
	if b.InFallbackMode() {
		t.Fatal("expected backend to not be in fallback mode after successful adds")
	}
}

func TestRedisBackendRejectsNegativeAmount(t *testing.T) {
	_, b := setupTestRedisBackend(t)
	if _, err := b.Add(-5); err == nil {
		t.Fatal("expected InvalidArgument for a negative amount")
	}
}

func TestRedisBackendFallsBackOnConnectionFailure(t *testing.T) {
	mr, b := setupTestRedisBackend(t)
	mr.Close()

	total, err := b.Add(3)
	if err != nil {
		t.Fatalf("expected fallback rather than an error, got %v", err)
	}
	if total != 3 {
		t.Fatalf("expected fallback local total 3, got %v", total)
	}
	if !b.InFallbackMode() {
		t.Fatal("expected backend to report fallback mode after a connection failure")
	}
}

func TestRedisBackendGetReturnsZeroWhenKeyAbsent(t *testing.T) {
	_, b := setupTestRedisBackend(t)
	total, err := b.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 for an unset key, got %v", total)
	}
}

func TestRedisBackendResetClearsKey(t *testing.T) {
	_, b := setupTestRedisBackend(t)
	b.Add(10)
	if err := b.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	total, err := b.Get()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected 0 after reset, got %v", total)
	}
}
