package config

import "time"

// DefaultConfig returns a configuration with sane defaults for every
// section.
func DefaultConfig() *Config {
	return &Config{
		Store:       DefaultStoreConfig(),
		Redis:       DefaultRedisConfig(),
		Database:    DefaultDatabaseConfig(),
		Archive:     DefaultArchiveConfig(),
		Coordinator: DefaultCoordinatorConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultStoreConfig returns the default store section.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		BaseDir:   "./data/stateflow",
		KeyPrefix: "stateflow:",
		ColdDir:   "",
	}
}

// DefaultRedisConfig returns the default Redis section.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default database section.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "stateflow",
		Password:        "",
		Name:            "stateflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultArchiveConfig returns the default archive section.
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		MaxVersions:        100,
		RetentionDays:      30,
		ColdStorageEnabled: false,
	}
}

// DefaultCoordinatorConfig returns the default coordinator section.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		MaxAgents:         32,
		HeartbeatInterval: 30 * time.Second,
	}
}

// DefaultLogConfig returns the default log section.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry section.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "stateflow",
		SampleRate:   1.0,
	}
}
