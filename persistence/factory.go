package persistence

import "fmt"

// NewKVStore creates a KVStore from configuration.
// The gorm backend needs a live *gorm.DB and is constructed directly via
// NewGormKVStore.
func NewKVStore(config StoreConfig) (KVStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryKVStore(), nil
	case StoreTypeFile:
		return NewFileKVStore(config.BaseDir)
	case StoreTypeRedis:
		return NewRedisKVStore(config.Redis)
	case StoreTypeGorm:
		return nil, fmt.Errorf("gorm stores are created with NewGormKVStore")
	default:
		return nil, fmt.Errorf("unknown store type: %s", config.Type)
	}
}
