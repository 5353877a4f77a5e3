package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// MemoryObjectStore is an in-memory ObjectStore for development and tests.
type MemoryObjectStore struct {
	objects map[string]*Object
	mu      sync.RWMutex
}

// NewMemoryObjectStore creates a new in-memory object store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string]*Object)}
}

// Put stores an object
func (s *MemoryObjectStore) Put(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	if path == "" {
		return ErrInvalidInput
	}

	stored := make([]byte, len(data))
	copy(stored, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = &Object{
		Path:     path,
		Data:     stored,
		Metadata: metadata,
		StoredAt: time.Now(),
	}
	return nil
}

// Get retrieves an object
func (s *MemoryObjectStore) Get(ctx context.Context, path string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return obj, nil
}

// List returns all object paths with the given prefix
func (s *MemoryObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	paths := make([]string, 0)
	for path := range s.objects {
		if strings.HasPrefix(path, prefix) {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// Close is a no-op for the in-memory store
func (s *MemoryObjectStore) Close() error {
	return nil
}

// FileObjectStore stores objects as files under a base directory, one
// JSON document per object. Suitable as single-node cold storage.
type FileObjectStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewFileObjectStore creates a file-backed object store rooted at baseDir
func NewFileObjectStore(baseDir string) (*FileObjectStore, error) {
	dir := filepath.Join(baseDir, "cold")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store directory: %w", err)
	}
	return &FileObjectStore{baseDir: dir}, nil
}

// objectPath maps an object path to a file path. Path separators become
// directories.
func (s *FileObjectStore) objectPath(path string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(path)+".json")
}

// Put stores an object. Atomic write: temp file then rename.
func (s *FileObjectStore) Put(ctx context.Context, path string, data []byte, metadata map[string]string) error {
	if path == "" {
		return ErrInvalidInput
	}

	obj := &Object{
		Path:     path,
		Data:     data,
		Metadata: metadata,
		StoredAt: time.Now(),
	}
	encoded, err := json.Marshal(obj)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.objectPath(path)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, encoded, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, target)
}

// Get retrieves an object
func (s *FileObjectStore) Get(ctx context.Context, path string) (*Object, error) {
	data, err := os.ReadFile(s.objectPath(path))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("corrupt object at %q: %w", path, err)
	}
	return &obj, nil
}

// List returns all object paths with the given prefix
func (s *FileObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	paths := make([]string, 0)
	err := filepath.Walk(s.baseDir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(p, ".json") {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return err
		}
		objPath := filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if strings.HasPrefix(objPath, prefix) {
			paths = append(paths, objPath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// Close is a no-op for the file store
func (s *FileObjectStore) Close() error {
	return nil
}
