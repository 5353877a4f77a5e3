package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "stateflow:", cfg.Store.KeyPrefix)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)

	assert.Equal(t, 100, cfg.Archive.MaxVersions)
	assert.Equal(t, 30, cfg.Archive.RetentionDays)
	assert.False(t, cfg.Archive.ColdStorageEnabled)

	assert.Equal(t, 32, cfg.Coordinator.MaxAgents)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.HeartbeatInterval)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "stateflow", cfg.Telemetry.ServiceName)

	assert.NoError(t, cfg.Validate())
}

func TestLoaderLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, 32, cfg.Coordinator.MaxAgents)
}

func TestLoaderLoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
store:
  type: "redis"
  key_prefix: "flow:"

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

archive:
  max_versions: 50
  retention_days: 7
  cold_storage_enabled: true

coordinator:
  max_agents: 8
  heartbeat_interval: 10s

log:
  level: "debug"
  format: "console"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, "flow:", cfg.Store.KeyPrefix)
	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)
	assert.Equal(t, 50, cfg.Archive.MaxVersions)
	assert.Equal(t, 7, cfg.Archive.RetentionDays)
	assert.True(t, cfg.Archive.ColdStorageEnabled)
	assert.Equal(t, 8, cfg.Coordinator.MaxAgents)
	assert.Equal(t, 10*time.Second, cfg.Coordinator.HeartbeatInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Sections absent from the file keep their defaults.
	assert.Equal(t, "postgres", cfg.Database.Driver)
}

func TestLoaderMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/nonexistent/config.yaml").
		Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Type)
}

func TestLoaderMalformedYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  type: [unclosed"), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("STATEFLOW_STORE_TYPE", "file")
	t.Setenv("STATEFLOW_STORE_BASE_DIR", "/var/lib/stateflow")
	t.Setenv("STATEFLOW_REDIS_DB", "3")
	t.Setenv("STATEFLOW_ARCHIVE_COLD_STORAGE_ENABLED", "true")
	t.Setenv("STATEFLOW_COORDINATOR_HEARTBEAT_INTERVAL", "45s")
	t.Setenv("STATEFLOW_TELEMETRY_SAMPLE_RATE", "0.25")
	t.Setenv("STATEFLOW_LOG_OUTPUT_PATHS", "stdout, /var/log/stateflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Type)
	assert.Equal(t, "/var/lib/stateflow", cfg.Store.BaseDir)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.True(t, cfg.Archive.ColdStorageEnabled)
	assert.Equal(t, 45*time.Second, cfg.Coordinator.HeartbeatInterval)
	assert.Equal(t, 0.25, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stdout", "/var/log/stateflow.log"}, cfg.Log.OutputPaths)
}

func TestLoaderEnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("store:\n  type: redis\n"), 0644))

	t.Setenv("STATEFLOW_STORE_TYPE", "gorm")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, "gorm", cfg.Store.Type)
}

func TestLoaderValidators(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	require.NoError(t, err)

	t.Setenv("STATEFLOW_STORE_TYPE", "carrier-pigeon")
	_, err = NewLoader().
		WithValidator(func(cfg *Config) error { return cfg.Validate() }).
		Load()
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Coordinator.MaxAgents = 0
	cfg.Archive.RetentionDays = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_agents")
	assert.Contains(t, err.Error(), "retention_days")
}

func TestDatabaseDSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db.internal", Port: 5433,
		User: "flow", Password: "pw", Name: "flowdb", SSLMode: "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=flow password=pw dbname=flowdb sslmode=require",
		pg.DSN(),
	)

	lite := DatabaseConfig{Driver: "sqlite", Name: "flow.db"}
	assert.Equal(t, "flow.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Empty(t, unknown.DSN())
}
