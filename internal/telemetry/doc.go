// Package telemetry wraps OpenTelemetry SDK initialization: OTLP gRPC
// trace and metric export with a noop fallback when telemetry is
// disabled.
package telemetry
