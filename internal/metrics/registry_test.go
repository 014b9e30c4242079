package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}

	snap := r.Snapshot()
	if len(snap.Metrics) != 0 {
		t.Errorf("initial snapshot has %d metrics, want 0", len(snap.Metrics))
	}
}

func TestRegistry_Trend(t *testing.T) {
	r := NewRegistry()

	for i := 1; i <= 100; i++ {
		require.NoError(t, r.Trend("response_time", float64(i)))
	}

	m, ok := r.Snapshot().Get("response_time")
	require.True(t, ok)

	assert.Equal(t, KindTrend, m.Kind)
	assert.Equal(t, int64(100), m.Count)
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 100.0, m.Max)
	assert.InDelta(t, 50.5, m.Mean, 1e-9)
	assert.InDelta(t, 50, m.P50, 0.5)
	assert.InDelta(t, 95, m.P95, 0.5)
	assert.InDelta(t, 99, m.Percentile(99), 0.5)
	assert.Equal(t, 1.0, m.Percentile(0))
	assert.Equal(t, 100.0, m.Percentile(100))
}

func TestRegistry_TrendPercentileClampedToRange(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Trend("t", 123.456))

	m, _ := r.Snapshot().Get("t")
	if got := m.Percentile(95); got != 123.456 {
		t.Errorf("Percentile(95) = %v, want 123.456 for a single sample", got)
	}
}

func TestRegistry_Counter(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Count("success_count", 1))
	require.NoError(t, r.Count("success_count", 1))
	require.NoError(t, r.Count("success_count", 3))

	m, _ := r.Snapshot().Get("success_count")
	assert.Equal(t, KindCounter, m.Kind)
	assert.Equal(t, 5.0, m.Sum)
	assert.Equal(t, int64(3), m.Count)
}

func TestRegistry_Gauge(t *testing.T) {
	r := NewRegistry()
	for _, v := range []float64{3, 10, 7} {
		require.NoError(t, r.Gauge("active_users", v))
	}

	m, _ := r.Snapshot().Get("active_users")
	assert.Equal(t, 7.0, m.Last)
	assert.Equal(t, 3.0, m.Min)
	assert.Equal(t, 10.0, m.Max)
}

func TestRegistry_Rate(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 20; i++ {
		require.NoError(t, r.Rate("error_rate", i%4 == 0))
	}

	m, _ := r.Snapshot().Get("error_rate")
	assert.Equal(t, int64(5), m.Passes)
	assert.Equal(t, int64(15), m.Fails)
	assert.InDelta(t, 0.25, m.Rate, 1e-9)
	assert.Equal(t, m.Count, m.Passes+m.Fails)
}

func TestRegistry_KindMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Trend("response_time", 10))

	err := r.Count("response_time", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrKindMismatch))

	var kindErr *KindMismatchError
	require.True(t, errors.As(err, &kindErr))
	assert.Equal(t, KindTrend, kindErr.Have)
	assert.Equal(t, KindCounter, kindErr.Want)

	m, _ := r.Snapshot().Get("response_time")
	assert.Equal(t, int64(1), m.Count, "rejected sample must not be counted")
}

func TestRegistry_InvalidValue(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Trend("t", math.NaN()), ErrInvalidValue)
	assert.ErrorIs(t, r.Gauge("g", math.Inf(1)), ErrInvalidValue)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_ConcurrentRecord(t *testing.T) {
	r := NewRegistry()

	const workers = 50
	const perWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_ = r.Count("success_count", 1)
				_ = r.Trend("response_time", float64(i))
				_ = r.Rate("error_rate", w%2 == 0)
			}
		}(w)
	}
	wg.Wait()

	snap := r.Snapshot()
	counter, _ := snap.Get("success_count")
	trend, _ := snap.Get("response_time")
	rate, _ := snap.Get("error_rate")

	assert.Equal(t, float64(workers*perWorker), counter.Sum)
	assert.Equal(t, int64(workers*perWorker), trend.Count)
	assert.Equal(t, int64(workers*perWorker), rate.Count)
	assert.InDelta(t, 0.5, rate.Rate, 1e-9)
}

func TestRegistry_SampleCountNonDecreasing(t *testing.T) {
	r := NewRegistry()

	var last int64
	for i := 0; i < 10; i++ {
		require.NoError(t, r.Trend("t", float64(i)))
		m, _ := r.Snapshot().Get("t")
		if m.Count < last {
			t.Fatalf("count decreased from %d to %d", last, m.Count)
		}
		last = m.Count
	}
	assert.Equal(t, int64(10), last)
}

func TestSnapshot_Immutable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Trend("t", 1))

	snap := r.Snapshot()
	require.NoError(t, r.Trend("t", 1000))

	m, _ := snap.Get("t")
	assert.Equal(t, int64(1), m.Count)
	assert.Equal(t, 1.0, m.Percentile(99))
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry()
	_ = r.Count("b", 1)
	_ = r.Count("a", 1)
	_ = r.Gauge("c", 1)

	assert.Equal(t, []string{"a", "b", "c"}, r.Names())

	kind, ok := r.Kind("c")
	assert.True(t, ok)
	assert.Equal(t, KindGauge, kind)

	_, ok = r.Kind("missing")
	assert.False(t, ok)
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"trend", KindTrend, false},
		{"Counter", KindCounter, false},
		{" gauge ", KindGauge, false},
		{"rate", KindRate, false},
		{"histogram", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestTagged(t *testing.T) {
	if got := Tagged("checks", "group", "GET Posts"); got != "checks{group:GET Posts}" {
		t.Errorf("Tagged() = %q", got)
	}
}
