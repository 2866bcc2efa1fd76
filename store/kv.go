package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// MemoryKV is an in-process namespaced key/value store. It backs
// persistent memory when no Redis backend is configured; values do not
// survive a restart.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV creates an empty in-process store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

func kvKey(namespace, key string) string {
	return namespace + ":" + key
}

func (m *MemoryKV) Get(_ context.Context, namespace, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[kvKey(namespace, key)]
	return v, ok, nil
}

func (m *MemoryKV) Set(_ context.Context, namespace, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kvKey(namespace, key)] = value
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, kvKey(namespace, key))
	return nil
}

// RedisKV backs persistent memory with Redis. Keys are namespaced with
// a "namespace:key" scheme so workspaces stay isolated.
type RedisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing Redis client.
func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return NewRedisKV(client), nil
}

func (r *RedisKV) Get(ctx context.Context, namespace, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, kvKey(namespace, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisKV) Set(ctx context.Context, namespace, key, value string) error {
	if err := r.client.Set(ctx, kvKey(namespace, key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, namespace, key string) error {
	if err := r.client.Del(ctx, kvKey(namespace, key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (r *RedisKV) Close() error {
	return r.client.Close()
}
