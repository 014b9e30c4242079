// Package prom exposes a live metrics registry in the Prometheus format.
package prom

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wesleyorama2/vuload/internal/metrics"
)

const namespace = "vuload"

// Collector implements prometheus.Collector over a metrics.Registry.
//
// Each scrape takes a registry snapshot, so the exported values are
// consistent per metric. Load test metric names may carry tag suffixes
// ("checks{group:login}") which are not valid Prometheus names; they are
// exported as the value of the "metric" label instead.
type Collector struct {
	registry *metrics.Registry

	samplesDesc *prometheus.Desc
	valueDesc   *prometheus.Desc
	elapsedDesc *prometheus.Desc
}

// NewCollector creates a collector for the given registry.
func NewCollector(registry *metrics.Registry) *Collector {
	return &Collector{
		registry: registry,
		samplesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "metric_samples_total"),
			"Number of samples recorded for a load test metric.",
			[]string{"metric", "kind"}, nil,
		),
		valueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "metric_value"),
			"Derived statistic of a load test metric.",
			[]string{"metric", "kind", "stat"}, nil,
		),
		elapsedDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "elapsed_seconds"),
			"Seconds since the metrics registry was created.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.samplesDesc
	ch <- c.valueDesc
	ch <- c.elapsedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.registry.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.elapsedDesc, prometheus.GaugeValue, snap.Elapsed.Seconds())

	for _, name := range snap.Names() {
		m := snap.Metrics[name]
		kind := m.Kind.String()

		ch <- prometheus.MustNewConstMetric(c.samplesDesc, prometheus.CounterValue, float64(m.Count), name, kind)

		for stat, v := range statsFor(m) {
			ch <- prometheus.MustNewConstMetric(c.valueDesc, prometheus.GaugeValue, v, name, kind, stat)
		}
	}
}

func statsFor(m *metrics.MetricSnapshot) map[string]float64 {
	switch m.Kind {
	case metrics.KindTrend:
		return map[string]float64{
			"min": m.Min, "max": m.Max, "avg": m.Mean,
			"p50": m.P50, "p90": m.P90, "p95": m.P95, "p99": m.P99,
		}
	case metrics.KindCounter:
		return map[string]float64{"sum": m.Sum}
	case metrics.KindGauge:
		return map[string]float64{"value": m.Last, "min": m.Min, "max": m.Max}
	case metrics.KindRate:
		return map[string]float64{"rate": m.Rate}
	default:
		return nil
	}
}

// Handler returns an HTTP handler serving the registry on a dedicated
// Prometheus registry, alongside Go runtime and process collectors.
func Handler(registry *metrics.Registry) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(registry),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
