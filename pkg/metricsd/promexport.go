package metricsd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexuscore/nexus/pkg/types"
)

// promCollector mirrors Registry's current snapshot into the Prometheus
// exposition format on every scrape, the way pkg/metrics
// registers package-global vectors — except here the set of series is
// dynamic, so a prometheus.Collector pulls a fresh Snapshot per Collect
// call instead of a fixed list of package-level vars.
type promCollector struct {
	reg *Registry
}

var _ prometheus.Collector = (*promCollector)(nil)

func (c *promCollector) Describe(ch chan<- *prometheus.Desc) {
	// Dynamic series: nothing to describe up front, consistent with an
	// unchecked collector (Prometheus client_golang supports this).
}

func (c *promCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.reg.Snapshot() {
		labelNames, labelValues := splitLabels(snap.Series.Labels)
		fqName := "nexus_" + snap.Series.Name

		switch snap.Series.Kind {
		case types.KindCounter:
			desc := prometheus.NewDesc(fqName, "nexus counter series "+snap.Series.Name, labelNames, nil)
			m, err := prometheus.NewConstMetric(desc, prometheus.CounterValue, snap.Counter, labelValues...)
			if err == nil {
				ch <- m
			}
		case types.KindGauge:
			desc := prometheus.NewDesc(fqName, "nexus gauge series "+snap.Series.Name, labelNames, nil)
			m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, snap.Gauge, labelValues...)
			if err == nil {
				ch <- m
			}
		case types.KindHistogram:
			desc := prometheus.NewDesc(fqName, "nexus histogram series "+snap.Series.Name, labelNames, nil)
			buckets := make(map[float64]uint64, len(snap.Series.Buckets))
			var cumulative uint64
			for i, b := range snap.Series.Buckets {
				if i < len(snap.HistCounts) {
					cumulative += snap.HistCounts[i]
				}
				buckets[b] = cumulative
			}
			m, err := prometheus.NewConstHistogram(desc, snap.HistObs, snap.HistSum, buckets, labelValues...)
			if err == nil {
				ch <- m
			}
		}
	}
}

func splitLabels(labels map[string]string) ([]string, []string) {
	names := make([]string, 0, len(labels))
	values := make([]string, 0, len(labels))
	for k, v := range labels {
		names = append(names, k)
		values = append(values, v)
	}
	return names, values
}

// Exporter owns the dedicated Prometheus registry the collector is
// registered against, kept separate from the package-default registry so
// tests can construct independent exporters without colliding.
type Exporter struct {
	promReg *prometheus.Registry
}

// NewExporter wires reg's live series into a fresh Prometheus registry.
func NewExporter(reg *Registry) *Exporter {
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(&promCollector{reg: reg})
	return &Exporter{promReg: promReg}
}

// Handler returns the HTTP handler bundlemgrd/nexusctl or any admin surface
// can mount at /metrics.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.promReg, promhttp.HandlerOpts{})
}
