package budgetbackend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures the shared-store backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL is refreshed on every successful add, so a chain's counter expires
	// only after a sustained period of no activity.
	TTL time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{DB: 0, TTL: 1 * time.Hour}
}

// RedisBackend keys one counter per chain id in a shared Redis instance so
// multiple worker processes can enforce one cap together. On any Redis
// error it falls back to a local in-process counter and flags itself as
// degraded rather than returning an error up to the caller — a transient
// Redis outage should degrade the cap's accuracy, not halt every chain.
type RedisBackend struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu       sync.Mutex
	fallback bool
	local    float64
}

func NewRedisBackend(chainID string, cfg RedisConfig) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &RedisBackend{
		client: client,
		key:    fmt.Sprintf("veronica:budget:%s", chainID),
		ttl:    ttl,
	}
}

// InFallbackMode reports whether the last operation had to use the local
// counter because the Redis round trip failed.
func (b *RedisBackend) InFallbackMode() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fallback
}

func (b *RedisBackend) Add(amount float64) (float64, error) {
	if err := checkAmount(amount); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	total, err := b.client.IncrByFloat(ctx, b.key, amount).Result()
	if err != nil {
		return b.addFallback(amount), nil
	}
	if err := b.client.Expire(ctx, b.key, b.ttl).Err(); err != nil {
		return b.addFallback(amount), nil
	}

	b.mu.Lock()
	b.fallback = false
	b.mu.Unlock()
	return total, nil
}

func (b *RedisBackend) addFallback(amount float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallback = true
	b.local += amount
	return b.local
}

func (b *RedisBackend) Get() (float64, error) {
	b.mu.Lock()
	if b.fallback {
		defer b.mu.Unlock()
		return b.local, nil
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	val, err := b.client.Get(ctx, b.key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		b.mu.Lock()
		b.fallback = true
		local := b.local
		b.mu.Unlock()
		return local, nil
	}
	return val, nil
}

func (b *RedisBackend) Reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	b.mu.Lock()
	b.local = 0
	b.fallback = false
	b.mu.Unlock()

	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		b.mu.Lock()
		b.fallback = true
		b.mu.Unlock()
	}
	return nil
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
