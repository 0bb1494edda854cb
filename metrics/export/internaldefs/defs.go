package internaldefs

import (
	goSession "github.com/MrEthical07/goSession"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goSession.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter.
var CounterDefs = []CounterDef{
	{ID: goSession.MetricSessionCreated, Name: "gosession_session_created_total", Help: "Sessions created (first save)."},
	{ID: goSession.MetricSessionLoaded, Name: "gosession_session_loaded_total", Help: "Successful session loads."},
	{ID: goSession.MetricSessionSaved, Name: "gosession_session_saved_total", Help: "Successful session saves."},
	{ID: goSession.MetricSessionDeleted, Name: "gosession_session_deleted_total", Help: "Sessions explicitly deleted."},
	{ID: goSession.MetricSessionExpired, Name: "gosession_session_expired_total", Help: "Sessions expired by sweep, keyspace signal or read."},
	{ID: goSession.MetricSessionNotFound, Name: "gosession_session_not_found_total", Help: "Loads or saves that found no live session."},
	{ID: goSession.MetricSessionCorrupt, Name: "gosession_session_corrupt_total", Help: "Unparseable session records met on load."},
	{ID: goSession.MetricStoreUnavailable, Name: "gosession_store_unavailable_total", Help: "Redis failures surfaced to callers."},
	{ID: goSession.MetricSweepRuns, Name: "gosession_sweep_runs_total", Help: "Completed expiration sweeps."},
	{ID: goSession.MetricSweepFailures, Name: "gosession_sweep_failures_total", Help: "Expiration sweeps that failed."},
	{ID: goSession.MetricSweepReindexed, Name: "gosession_sweep_reindexed_total", Help: "Sessions moved to a later bucket by a sweep."},
	{ID: goSession.MetricSweepBucketsSkipped, Name: "gosession_sweep_buckets_skipped_total", Help: "Buckets skipped because another worker held the lock."},
	{ID: goSession.MetricEventsPublished, Name: "gosession_events_published_total", Help: "Lifecycle events handed to the notifier."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: goSession.MetricSaveLatency, Name: "gosession_save_latency_seconds", Help: "Session save latency."},
	{ID: goSession.MetricLoadLatency, Name: "gosession_load_latency_seconds", Help: "Session load latency."},
	{ID: goSession.MetricSweepLatency, Name: "gosession_sweep_duration_seconds", Help: "Expiration sweep duration."},
}

// EventsDroppedName is the counter of events discarded by the notifier.
const EventsDroppedName = "gosession_events_dropped_total"

// EventsDroppedHelp describes [EventsDroppedName].
const EventsDroppedHelp = "Lifecycle events dropped because the notifier queue was full."

// EventsPendingName is the gauge of events queued but not yet delivered.
const EventsPendingName = "gosession_events_pending"

// EventsPendingHelp describes [EventsPendingName].
const EventsPendingHelp = "Lifecycle events queued in the notifier and not yet delivered."

// HistogramUpperBounds are the finite bucket bounds in seconds, matching the engine's
// bucket layout. The eighth bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket for exporters without native histograms.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
