// Package config loads StateFlow configuration from defaults, an optional
// YAML file, and STATEFLOW_* environment variable overrides, in that
// priority order.
package config
