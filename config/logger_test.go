package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  LogConfig
	}{
		{"json defaults", DefaultLogConfig()},
		{"console debug", LogConfig{Level: "debug", Format: "console", OutputPaths: []string{"stderr"}}},
		{"unknown level falls back", LogConfig{Level: "shout", Format: "json"}},
		{"stacktrace enabled", LogConfig{Level: "error", Format: "json", EnableStacktrace: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := BuildLogger(tt.cfg)
			require.NotNil(t, logger)
			logger.Info("logger built")
			_ = logger.Sync()
		})
	}
}
