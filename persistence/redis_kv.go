package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKVStore is a Redis-based implementation of KVStore.
// Suitable for distributed production deployments.
type RedisKVStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisKVStore creates a new Redis-based key-value store
func NewRedisKVStore(config RedisStoreConfig) (*RedisKVStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "stateflow:"
	}

	return &RedisKVStore{
		client:    client,
		keyPrefix: keyPrefix + "kv:",
	}, nil
}

func (s *RedisKVStore) redisKey(key string) string {
	return s.keyPrefix + key
}

// Get retrieves the value for key
func (s *RedisKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key
func (s *RedisKVStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisKVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix.
// Uses SCAN to avoid blocking the server on large keyspaces.
func (s *RedisKVStore) List(ctx context.Context, prefix string) ([]string, error) {
	pattern := s.redisKey(prefix) + "*"
	keys := make([]string, 0)

	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(s.keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %q: %w", pattern, err)
	}
	return keys, nil
}

// Ping checks if the store is healthy
func (s *RedisKVStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the store
func (s *RedisKVStore) Close() error {
	return s.client.Close()
}
