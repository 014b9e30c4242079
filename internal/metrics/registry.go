package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Registry maps metric names to accumulating statistics.
//
// Each metric is created on first use with the kind it was recorded with;
// that kind is fixed for the lifetime of the registry. Metrics are never
// removed during a run.
//
// # Thread Safety
//
// Registry is safe for concurrent use. The name map is guarded by an
// RWMutex and every metric has its own mutex around its accumulator, so
// workers recording different metrics never contend.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*metric

	startTime time.Time
	config    Config
}

// Config contains histogram settings for trend metrics.
type Config struct {
	// Scale converts trend samples into histogram units (default: 1000,
	// i.e. millisecond samples are histogrammed with microsecond resolution)
	Scale float64

	// HistogramMin is the lowest discernible value in histogram units (default: 1)
	HistogramMin int64

	// HistogramMax is the highest trackable value in histogram units
	// (default: 3600000000, one hour of milliseconds at the default scale)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig() Config {
	return Config{
		Scale:            1000,
		HistogramMin:     1,
		HistogramMax:     3600000000,
		HistogramSigFigs: 3,
	}
}

// NewRegistry creates an empty registry with the default configuration.
func NewRegistry() *Registry {
	return NewRegistryWithConfig(DefaultConfig())
}

// NewRegistryWithConfig creates an empty registry with a custom configuration.
func NewRegistryWithConfig(config Config) *Registry {
	def := DefaultConfig()
	if config.Scale <= 0 {
		config.Scale = def.Scale
	}
	if config.HistogramMin <= 0 {
		config.HistogramMin = def.HistogramMin
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = def.HistogramMax
	}
	if config.HistogramSigFigs < 1 || config.HistogramSigFigs > 5 {
		config.HistogramSigFigs = def.HistogramSigFigs
	}

	return &Registry{
		metrics:   make(map[string]*metric),
		startTime: time.Now(),
		config:    config,
	}
}

// Record appends a sample to the named metric, creating it on first use.
//
// Returns a *KindMismatchError (matching ErrKindMismatch) if the metric
// already exists with a different kind, and ErrInvalidValue for NaN or
// infinite values. A rejected sample is not counted.
func (r *Registry) Record(name string, kind Kind, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ErrInvalidValue
	}

	m, err := r.getOrCreate(name, kind)
	if err != nil {
		return err
	}

	m.add(value, r.config)
	return nil
}

// Trend records a trend sample.
func (r *Registry) Trend(name string, value float64) error {
	return r.Record(name, KindTrend, value)
}

// Count adds value to a counter.
func (r *Registry) Count(name string, value float64) error {
	return r.Record(name, KindCounter, value)
}

// Gauge sets a gauge.
func (r *Registry) Gauge(name string, value float64) error {
	return r.Record(name, KindGauge, value)
}

// Rate records a boolean sample.
func (r *Registry) Rate(name string, ok bool) error {
	v := 0.0
	if ok {
		v = 1
	}
	return r.Record(name, KindRate, v)
}

func (r *Registry) getOrCreate(name string, kind Kind) (*metric, error) {
	r.mu.RLock()
	m, exists := r.metrics[name]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		m, exists = r.metrics[name]
		if !exists {
			m = newMetric(name, kind, r.config)
			r.metrics[name] = m
		}
		r.mu.Unlock()
	}

	if m.kind != kind {
		return nil, &KindMismatchError{Metric: name, Have: m.kind, Want: kind}
	}
	return m, nil
}

// Kind returns the kind of a metric, and false if it has not been recorded.
func (r *Registry) Kind(name string) (Kind, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.metrics[name]
	if !ok {
		return 0, false
	}
	return m.kind, true
}

// Names returns the sorted names of all metrics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Len returns the number of metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// StartTime returns when the registry was created.
func (r *Registry) StartTime() time.Time {
	return r.startTime
}

// Snapshot returns an immutable point-in-time view of every metric.
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	ms := make([]*metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		ms = append(ms, m)
	}
	r.mu.RUnlock()

	now := time.Now()
	snap := &Snapshot{
		Timestamp: now,
		Elapsed:   now.Sub(r.startTime),
		Metrics:   make(map[string]*MetricSnapshot, len(ms)),
	}
	for _, m := range ms {
		snap.Metrics[m.name] = m.snapshot(r.config)
	}
	return snap
}

// metric is a single lock-protected accumulator.
type metric struct {
	name string
	kind Kind

	mu     sync.Mutex
	count  int64
	sum    float64
	min    float64
	max    float64
	last   float64
	passes int64

	// trend only; HDR RecordValue is not thread-safe, guarded by mu
	hist *hdrhistogram.Histogram
}

func newMetric(name string, kind Kind, config Config) *metric {
	m := &metric{name: name, kind: kind}
	if kind == KindTrend {
		m.hist = hdrhistogram.New(config.HistogramMin, config.HistogramMax, config.HistogramSigFigs)
	}
	return m
}

func (m *metric) add(value float64, config Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.count == 0 || value < m.min {
		m.min = value
	}
	if m.count == 0 || value > m.max {
		m.max = value
	}
	m.count++
	m.sum += value
	m.last = value

	switch m.kind {
	case KindRate:
		if value != 0 {
			m.passes++
		}
	case KindTrend:
		scaled := int64(math.Round(value * config.Scale))
		if scaled < 0 {
			scaled = 0
		}
		if scaled > config.HistogramMax {
			scaled = config.HistogramMax
		}
		_ = m.hist.RecordValue(scaled)
	}
}

func (m *metric) snapshot(config Config) *MetricSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &MetricSnapshot{
		Name:  m.name,
		Kind:  m.kind,
		Count: m.count,
		Sum:   m.sum,
		Min:   m.min,
		Max:   m.max,
		Last:  m.last,
		scale: config.Scale,
	}
	if m.count > 0 {
		s.Mean = m.sum / float64(m.count)
	}

	switch m.kind {
	case KindRate:
		s.Passes = m.passes
		s.Fails = m.count - m.passes
		if m.count > 0 {
			s.Rate = float64(m.passes) / float64(m.count)
		}
	case KindTrend:
		s.hist = hdrhistogram.Import(m.hist.Export())
		s.P50 = s.Percentile(50)
		s.P90 = s.Percentile(90)
		s.P95 = s.Percentile(95)
		s.P99 = s.Percentile(99)
	}
	return s
}
