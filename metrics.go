package goSession

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or latency histogram.
type MetricID uint16

const (
	// MetricSessionCreated counts Created events.
	MetricSessionCreated MetricID = iota
	// MetricSessionLoaded counts successful loads.
	MetricSessionLoaded
	// MetricSessionSaved counts successful saves.
	MetricSessionSaved
	// MetricSessionDeleted counts Deleted events.
	MetricSessionDeleted
	// MetricSessionExpired counts Expired events from any source.
	MetricSessionExpired
	// MetricSessionNotFound counts loads and saves that found no live record.
	MetricSessionNotFound
	// MetricSessionCorrupt counts unparseable records met on load.
	MetricSessionCorrupt
	// MetricStoreUnavailable counts Redis failures surfaced to callers.
	MetricStoreUnavailable
	// MetricSweepRuns counts completed sweeps.
	MetricSweepRuns
	// MetricSweepFailures counts sweeps that ended with an error.
	MetricSweepFailures
	// MetricSweepReindexed counts sessions moved to a later bucket by a sweep.
	MetricSweepReindexed
	// MetricSweepBucketsSkipped counts buckets skipped because another worker held the lock.
	MetricSweepBucketsSkipped
	// MetricEventsPublished counts events handed to the notifier.
	MetricEventsPublished
	// MetricSaveLatency is the Save latency histogram.
	MetricSaveLatency
	// MetricLoadLatency is the Load latency histogram.
	MetricLoadLatency
	// MetricSweepLatency is the sweep duration histogram.
	MetricSweepLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
	sumNs   uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters. A nil or disabled Metrics records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	histograms    [metricIDCount]metricHistogram
}

// MetricsSnapshot is a point-in-time copy of all counters and histograms.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// HistogramSums holds the total observed duration per histogram.
	HistogramSums map[MetricID]time.Duration
}

// NewMetrics creates a metrics set.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// LatencyEnabled reports whether latency histograms are recorded.
func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to a counter.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= metricIDCount || n == 0 {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// Observe records d in a latency histogram. Non-latency ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enabled || !m.enableLatency || !isLatencyMetric(id) {
		return
	}

	if d < 0 {
		d = 0
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
	atomic.AddUint64(&m.histograms[id].sumNs, uint64(d))
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and every histogram when latency is enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:      map[MetricID]uint64{},
			Histograms:    map[MetricID][]uint64{},
			HistogramSums: map[MetricID]time.Duration{},
		}
	}

	s := MetricsSnapshot{
		Counters:      make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:    make(map[MetricID][]uint64, len(latencyMetrics)),
		HistogramSums: make(map[MetricID]time.Duration, len(latencyMetrics)),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if isLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
			s.HistogramSums[id] = time.Duration(atomic.LoadUint64(&m.histograms[id].sumNs))
		}
	}

	return s
}

var latencyMetrics = []MetricID{MetricSaveLatency, MetricLoadLatency, MetricSweepLatency}

func isLatencyMetric(id MetricID) bool {
	return id == MetricSaveLatency || id == MetricLoadLatency || id == MetricSweepLatency
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
