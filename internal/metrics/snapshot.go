package metrics

import (
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is an immutable point-in-time view of a Registry.
type Snapshot struct {
	Timestamp time.Time                  `json:"timestamp"`
	Elapsed   time.Duration              `json:"elapsed"`
	Metrics   map[string]*MetricSnapshot `json:"metrics"`
}

// Get returns the snapshot of a single metric.
func (s *Snapshot) Get(name string) (*MetricSnapshot, bool) {
	if s == nil {
		return nil, false
	}
	m, ok := s.Metrics[name]
	return m, ok
}

// Names returns the sorted metric names in the snapshot.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetricSnapshot contains the derived statistics of one metric.
//
// Which fields are meaningful depends on Kind:
//   - trend: Count, Min, Max, Mean, P50..P99 and Percentile
//   - counter: Sum (cumulative total) and Count (number of adds)
//   - gauge: Last, Min, Max
//   - rate: Rate, Passes, Fails
type MetricSnapshot struct {
	Name  string  `json:"name"`
	Kind  Kind    `json:"kind"`
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Last  float64 `json:"last"`

	Passes int64   `json:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty"`
	Rate   float64 `json:"rate,omitempty"`

	P50 float64 `json:"p50,omitempty"`
	P90 float64 `json:"p90,omitempty"`
	P95 float64 `json:"p95,omitempty"`
	P99 float64 `json:"p99,omitempty"`

	hist  *hdrhistogram.Histogram
	scale float64
}

// Percentile returns the p-th percentile (0-100) of a trend.
//
// Percentiles use the nearest-rank method over HDR histogram buckets with
// the registry's significant figures, clamped to the exact min and max.
// Returns 0 for non-trend metrics and empty trends.
func (m *MetricSnapshot) Percentile(p float64) float64 {
	if m.hist == nil || m.Count == 0 {
		return 0
	}
	if p <= 0 {
		return m.Min
	}
	if p >= 100 {
		return m.Max
	}

	v := float64(m.hist.ValueAtQuantile(p)) / m.scale
	if v < m.Min {
		v = m.Min
	}
	if v > m.Max {
		v = m.Max
	}
	return v
}

// PerSecond returns Sum divided by elapsed seconds, used for counter rates.
func (m *MetricSnapshot) PerSecond(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return m.Sum / elapsed.Seconds()
}
