package persistence

import (
	"context"
	"errors"
	"sort"
	"testing"
)

// kvStoreSuite exercises the KVStore contract against any backend.
func kvStoreSuite(t *testing.T, store KVStore) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		if err := store.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("PutAndGet", func(t *testing.T) {
		if err := store.Put(ctx, "workflow:wf-1:state", []byte(`{"id":"wf-1"}`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		value, err := store.Get(ctx, "workflow:wf-1:state")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(value) != `{"id":"wf-1"}` {
			t.Errorf("value mismatch: got %s", value)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.Get(ctx, "no-such-key")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := store.Put(ctx, "workflow:wf-1:state", []byte("v2")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		value, err := store.Get(ctx, "workflow:wf-1:state")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(value) != "v2" {
			t.Errorf("expected overwritten value, got %s", value)
		}
	})

	t.Run("EmptyKeyRejected", func(t *testing.T) {
		if err := store.Put(ctx, "", []byte("x")); err == nil {
			t.Error("expected error for empty key")
		}
	})

	t.Run("List", func(t *testing.T) {
		if err := store.Put(ctx, "workflow:wf-2:state", []byte("a")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if err := store.Put(ctx, "agent:agent-1", []byte("b")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		keys, err := store.List(ctx, "workflow:")
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "workflow:wf-1:state" || keys[1] != "workflow:wf-2:state" {
			t.Errorf("unexpected keys: %v", keys)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := store.Delete(ctx, "workflow:wf-2:state"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, "workflow:wf-2:state"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}

		// Deleting a missing key is not an error.
		if err := store.Delete(ctx, "workflow:wf-2:state"); err != nil {
			t.Errorf("Delete of missing key failed: %v", err)
		}
	})
}

func TestMemoryKVStore(t *testing.T) {
	store := NewMemoryKVStore()
	defer store.Close()
	kvStoreSuite(t, store)
}

func TestMemoryKVStore_Closed(t *testing.T) {
	store := NewMemoryKVStore()
	store.Close()

	ctx := context.Background()
	if err := store.Put(ctx, "k", []byte("v")); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestFileKVStore(t *testing.T) {
	store, err := NewFileKVStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileKVStore failed: %v", err)
	}
	defer store.Close()
	kvStoreSuite(t, store)
}

func TestFileKVStore_Reload(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileKVStore(dir)
	if err != nil {
		t.Fatalf("NewFileKVStore failed: %v", err)
	}
	if err := store.Put(ctx, "workflow:wf-1:head", []byte("42")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A fresh store over the same directory sees the data.
	reopened, err := NewFileKVStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	value, err := reopened.Get(ctx, "workflow:wf-1:head")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if string(value) != "42" {
		t.Errorf("expected 42, got %s", value)
	}
}

func TestNewKVStoreFactory(t *testing.T) {
	config := DefaultStoreConfig()
	store, err := NewKVStore(config)
	if err != nil {
		t.Fatalf("NewKVStore failed: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*MemoryKVStore); !ok {
		t.Errorf("expected memory store by default, got %T", store)
	}

	config.Type = "bogus"
	if _, err := NewKVStore(config); err == nil {
		t.Error("expected error for unknown store type")
	}
}
