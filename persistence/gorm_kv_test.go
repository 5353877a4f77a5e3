package persistence

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestGorm(t *testing.T) *GormKVStore {
	dbPath := filepath.Join(t.TempDir(), "stateflow.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	store, err := NewGormKVStore(db)
	require.NoError(t, err)
	return store
}

func TestGormKVStore(t *testing.T) {
	store := setupTestGorm(t)
	defer store.Close()

	kvStoreSuite(t, store)
}

func TestGormKVStore_NilDB(t *testing.T) {
	_, err := NewGormKVStore(nil)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestGormKVStore_Upsert(t *testing.T) {
	store := setupTestGorm(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "agent:a1", []byte("v1")))
	require.NoError(t, store.Put(ctx, "agent:a1", []byte("v2")))

	value, err := store.Get(ctx, "agent:a1")
	require.NoError(t, err)
	require.Equal(t, "v2", string(value))

	keys, err := store.List(ctx, "agent:")
	require.NoError(t, err)
	require.Len(t, keys, 1)
}
