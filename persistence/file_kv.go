package persistence

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileKVStore is a file-based implementation of KVStore.
// Suitable for single-node production deployments. The whole keyspace is
// held as an in-memory cache and flushed to a single index file with an
// atomic write-then-rename.
type FileKVStore struct {
	baseDir string
	data    map[string][]byte
	mu      sync.RWMutex
	closed  bool
}

// fileEntry is the on-disk representation of one key-value pair.
type fileEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"` // hex-encoded
}

// NewFileKVStore creates a new file-backed key-value store rooted at baseDir
func NewFileKVStore(baseDir string) (*FileKVStore, error) {
	dir := filepath.Join(baseDir, "kv")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create kv store directory: %w", err)
	}

	store := &FileKVStore{
		baseDir: dir,
		data:    make(map[string][]byte),
	}

	if err := store.loadFromDisk(); err != nil {
		return nil, fmt.Errorf("failed to load kv store from disk: %w", err)
	}

	return store, nil
}

func (s *FileKVStore) indexPath() string {
	return filepath.Join(s.baseDir, "index.json")
}

func (s *FileKVStore) loadFromDisk() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil // No existing data
	}
	if err != nil {
		return err
	}

	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	for _, e := range entries {
		value, err := hex.DecodeString(e.Value)
		if err != nil {
			return fmt.Errorf("corrupt entry for key %q: %w", e.Key, err)
		}
		s.data[e.Key] = value
	}
	return nil
}

// saveToDisk flushes the full keyspace. Atomic write: temp file then rename.
func (s *FileKVStore) saveToDisk() error {
	entries := make([]fileEntry, 0, len(s.data))
	for key, value := range s.data {
		entries = append(entries, fileEntry{Key: key, Value: hex.EncodeToString(value)})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	tempPath := s.indexPath() + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, s.indexPath())
}

// Get retrieves the value for key
func (s *FileKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	value, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores value under key and flushes to disk
func (s *FileKVStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return s.saveToDisk()
}

// Delete removes key and flushes to disk
func (s *FileKVStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	delete(s.data, key)
	return s.saveToDisk()
}

// List returns all keys with the given prefix
func (s *FileKVStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	keys := make([]string, 0)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Ping checks if the store is healthy
func (s *FileKVStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close flushes pending data and closes the store
func (s *FileKVStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.saveToDisk()
}
