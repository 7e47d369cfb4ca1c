package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis server.
//
// All keys are stored under a configurable prefix so Clear can remove the
// store's namespace without touching unrelated data in the same database.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store.
// The prefix is prepended to every key (e.g. "shopcache:").
func NewRedis(client *redis.Client, prefix string) *Redis {
	if client == nil {
		panic("redis client cannot be nil")
	}
	return &Redis{
		client: client,
		prefix: prefix,
	}
}

func (r *Redis) fullKey(key string) string {
	return r.prefix + key
}

// Save persists value under key without a TTL; lifecycle is owned by the
// cache layer, not by Redis expiry.
func (r *Redis) Save(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return data, nil
}

// Remove deletes the value stored under key.
func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every key under the store's prefix using SCAN to avoid
// blocking the server on large keyspaces.
func (r *Redis) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redis del during clear: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// MultiGet fetches all keys in a single MGET round trip.
func (r *Redis) MultiGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = r.fullKey(key)
	}

	values, err := r.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	result := make(map[string][]byte, len(keys))
	for i, value := range values {
		if value == nil {
			continue
		}
		switch v := value.(type) {
		case string:
			result[keys[i]] = []byte(v)
		case []byte:
			result[keys[i]] = v
		}
	}
	return result, nil
}

// MultiSet writes all pairs through a single pipeline.
func (r *Redis) MultiSet(ctx context.Context, values map[string][]byte) error {
	if len(values) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	for key, value := range values {
		pipe.Set(ctx, r.fullKey(key), value, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline exec: %w", err)
	}
	return nil
}
