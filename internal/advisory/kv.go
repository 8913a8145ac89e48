package advisory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is an expiring key-value store with an atomic set-if-absent.
type KV interface {
	// SetNX stores key for ttl and reports true only when the key was absent
	// or expired.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

type MemoryKV struct {
	mu    sync.Mutex
	items map[string]time.Time
	now   func() time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{items: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryKV) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if exp, ok := m.items[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.items[key] = now.Add(ttl)
	if len(m.items) > 10000 {
		m.compact(now)
	}
	return true, nil
}

func (m *MemoryKV) compact(now time.Time) {
	for k, exp := range m.items {
		if !now.Before(exp) {
			delete(m.items, k)
		}
	}
}

type RedisKV struct {
	client *redis.Client
	prefix string
}

func NewRedisKV(addr, password string, db int, prefix string) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		MaxRetries:   3,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisKV{client: client, prefix: prefix}, nil
}

func (r *RedisKV) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
