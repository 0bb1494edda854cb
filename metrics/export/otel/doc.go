// Package otel publishes goSession engine metrics through OpenTelemetry.
//
// [NewOTelExporter] registers an Int64ObservableCounter per engine counter and
// observable gauges per histogram bucket, count and sum. A single callback reads
// [goSession.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
