// Package telemetry wires OpenTelemetry tracing and metrics for the relay.
//
// Setup installs global tracer and meter providers whose exporters write
// JSON to size-rotated files (lumberjack) under the configured directory:
//
//	<dir>/foundry-relay-traces.log
//	<dir>/foundry-relay-metrics.log
//
// Metrics are collected by a periodic reader at the configured interval.
// When telemetry is disabled the global no-op providers stay in place and
// instrumented code pays almost nothing.
//
// RotatingWriter builds the same kind of rotating sink for the log file.
package telemetry
