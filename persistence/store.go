// Package persistence provides the durable storage interfaces StateFlow
// is built on: a key-value store for versioned workflow state and agent
// records, and a cold object store for archived versions and mirrored
// snapshots.
//
// Supported KV backends:
// - Memory: for development and testing (default)
// - File: for single-node production deployments
// - Redis: for distributed production deployments
// - Gorm: for embedded SQL deployments (SQLite and friends)
//
// Backends guarantee atomic single-key put/get; multi-key atomicity is
// composed by the state store on top of this interface.
package persistence

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
	ErrColdDisabled = errors.New("cold storage not configured")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeGorm   StoreType = "gorm"
)

// KVStore is a durable key-value store. Values are opaque byte slices;
// callers own serialization.
type KVStore interface {
	// Get retrieves the value for key. Missing keys return ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores value under key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error

	// Close closes the store and releases resources
	Close() error
}

// Object is one entry in cold storage.
type Object struct {
	Path     string            `json:"path"`
	Data     []byte            `json:"data"`
	Metadata map[string]string `json:"metadata,omitempty"`
	StoredAt time.Time         `json:"storedAt"`
}

// ObjectStore is lower-cost, higher-latency storage for archived versions
// and mirrored snapshots. It is optional: components that use it must
// degrade gracefully when none is configured.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte, metadata map[string]string) error
	Get(ctx context.Context, path string) (*Object, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    StoreTypeMemory,
		BaseDir: "./data/stateflow",
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			DB:        0,
			PoolSize:  10,
			KeyPrefix: "stateflow:",
		},
	}
}
