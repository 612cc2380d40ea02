// Package dedup provides the TTL-bound seen-set that keeps ingest from
// republishing the same news item.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store answers "have I seen this key within its TTL?" and records the
// key when the answer is no.
type Store interface {
	// SeenOrAdd returns true when the key was already present and
	// unexpired. Otherwise it records the key with the TTL and returns
	// false.
	SeenOrAdd(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryStore is the process-local Store.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]time.Time)}
}

func (s *MemoryStore) SeenOrAdd(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if expiry, ok := s.items[key]; ok && expiry.After(now) {
		return true, nil
	}
	s.items[key] = now.Add(ttl)
	return false, nil
}

// RedisStore shares the seen-set across processes via SET NX EX.
type RedisStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisStore(redisURL, namespace string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if namespace == "" {
		namespace = "dedup"
	}
	return &RedisStore{client: redis.NewClient(opts), namespace: namespace}, nil
}

func (s *RedisStore) SeenOrAdd(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, s.namespace+":"+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !created, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
