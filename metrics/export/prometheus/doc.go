// Package prometheus exposes goSession engine metrics as a prometheus.Collector.
//
// [NewPrometheusExporter] accepts a [goSession.Engine]. Counters are named
// gosession_*_total; save, load and sweep latencies are native histograms.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry; callers register the
//     collector or mount Handler.
//   - Mutate engine state.
package prometheus
