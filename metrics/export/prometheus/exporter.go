package prometheus

import (
	"net/http"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	EventsDropped() uint64
	EventsPending() int
}

// PrometheusExporter is a prometheus.Collector that reads engine snapshots at
// scrape time.
type PrometheusExporter struct {
	source     metricsSource
	counters   map[goSession.MetricID]*prometheus.Desc
	histograms map[goSession.MetricID]*prometheus.Desc
	dropped    *prometheus.Desc
	pending    *prometheus.Desc
}

// NewPrometheusExporter creates an exporter for engine.
func NewPrometheusExporter(engine *goSession.Engine) *PrometheusExporter {
	return NewPrometheusExporterFromSource(engine)
}

// NewPrometheusExporterFromSource creates an exporter for any snapshot source.
func NewPrometheusExporterFromSource(source metricsSource) *PrometheusExporter {
	p := &PrometheusExporter{
		source:     source,
		counters:   make(map[goSession.MetricID]*prometheus.Desc, len(internaldefs.CounterDefs)),
		histograms: make(map[goSession.MetricID]*prometheus.Desc, len(internaldefs.HistogramDefs)),
		dropped:    prometheus.NewDesc(internaldefs.EventsDroppedName, internaldefs.EventsDroppedHelp, nil, nil),
		pending:    prometheus.NewDesc(internaldefs.EventsPendingName, internaldefs.EventsPendingHelp, nil, nil),
	}
	for _, def := range internaldefs.CounterDefs {
		p.counters[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	for _, def := range internaldefs.HistogramDefs {
		p.histograms[def.ID] = prometheus.NewDesc(def.Name, def.Help, nil, nil)
	}
	return p
}

// Describe implements prometheus.Collector.
func (p *PrometheusExporter) Describe(ch chan<- *prometheus.Desc) {
	for _, def := range internaldefs.CounterDefs {
		ch <- p.counters[def.ID]
	}
	for _, def := range internaldefs.HistogramDefs {
		ch <- p.histograms[def.ID]
	}
	ch <- p.dropped
	ch <- p.pending
}

// Collect implements prometheus.Collector. While engine metrics are disabled only the
// notifier queue metrics are emitted.
func (p *PrometheusExporter) Collect(ch chan<- prometheus.Metric) {
	if p == nil || p.source == nil {
		return
	}
	snapshot := p.source.MetricsSnapshot()

	if len(snapshot.Counters) > 0 {
		for _, def := range internaldefs.CounterDefs {
			ch <- prometheus.MustNewConstMetric(p.counters[def.ID], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramUpperBounds))
		for i, le := range internaldefs.HistogramUpperBounds {
			buckets[le] = cumulative[i]
		}
		count := cumulative[len(cumulative)-1]
		sum := snapshot.HistogramSums[def.ID].Seconds()
		ch <- prometheus.MustNewConstHistogram(p.histograms[def.ID], count, sum, buckets)
	}

	ch <- prometheus.MustNewConstMetric(p.dropped, prometheus.CounterValue, float64(p.source.EventsDropped()))
	ch <- prometheus.MustNewConstMetric(p.pending, prometheus.GaugeValue, float64(p.source.EventsPending()))
}

// Register adds the exporter to reg.
func (p *PrometheusExporter) Register(reg prometheus.Registerer) error {
	return reg.Register(p)
}

// Handler serves this exporter alone from a private registry, so nothing leaks
// into the global default registry.
func (p *PrometheusExporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(p)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
