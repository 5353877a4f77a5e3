package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// kvRecord is the GORM model backing GormKVStore.
type kvRecord struct {
	Key       string `gorm:"primaryKey;size:512"`
	Value     []byte
	UpdatedAt time.Time
}

// TableName overrides the GORM table name.
func (kvRecord) TableName() string {
	return "stateflow_kv"
}

// GormKVStore is a SQL-backed implementation of KVStore using GORM.
// Suitable for embedded deployments (SQLite) and anything GORM dials.
type GormKVStore struct {
	db *gorm.DB
}

// NewGormKVStore creates a KV store on an existing GORM connection and
// migrates its table.
func NewGormKVStore(db *gorm.DB) (*GormKVStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv table: %w", err)
	}
	return &GormKVStore{db: db}, nil
}

// Get retrieves the value for key
func (s *GormKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	var record kvRecord
	err := s.db.WithContext(ctx).First(&record, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("gorm get %q: %w", key, err)
	}
	return record.Value, nil
}

// Put stores value under key (upsert)
func (s *GormKVStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrInvalidInput
	}
	record := kvRecord{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.WithContext(ctx).Save(&record).Error
	if err != nil {
		return fmt.Errorf("gorm put %q: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *GormKVStore) Delete(ctx context.Context, key string) error {
	err := s.db.WithContext(ctx).Delete(&kvRecord{}, "key = ?", key).Error
	if err != nil {
		return fmt.Errorf("gorm delete %q: %w", key, err)
	}
	return nil
}

// List returns all keys with the given prefix
func (s *GormKVStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.WithContext(ctx).
		Model(&kvRecord{}).
		Where("key LIKE ?", prefix+"%").
		Pluck("key", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("gorm list %q: %w", prefix, err)
	}
	return keys, nil
}

// Ping checks if the store is healthy
func (s *GormKVStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection
func (s *GormKVStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
