package threshold

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/wesleyorama2/vuload/internal/metrics"
)

// Threshold is a pass/fail condition over one metric statistic.
type Threshold struct {
	*Expression

	// AbortOnFail stops the run as soon as the threshold is breached mid-run.
	AbortOnFail bool

	// DelayAbortEval postpones mid-run evaluation, giving metrics time to settle.
	DelayAbortEval time.Duration
}

// New parses a full-form expression into a Threshold.
func New(expr string) (Threshold, error) {
	e, err := Parse(expr)
	if err != nil {
		return Threshold{}, err
	}
	return Threshold{Expression: e}, nil
}

// MustNew is like New but panics on error.
func MustNew(expr string) Threshold {
	t, err := New(expr)
	if err != nil {
		panic(err)
	}
	return t
}

// Result is the outcome of evaluating one threshold.
type Result struct {
	Metric      string  `json:"metric"`
	Expression  string  `json:"expression"`
	Passed      bool    `json:"passed"`
	Actual      float64 `json:"actual"`
	AbortOnFail bool    `json:"abortOnFail,omitempty"`
	Err         error   `json:"-"`
	Message     string  `json:"message,omitempty"`
}

// MarshalJSON includes the error text.
func (r Result) MarshalJSON() ([]byte, error) {
	type alias Result
	out := struct {
		alias
		Error string `json:"error,omitempty"`
	}{alias: alias(r)}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Evaluate evaluates every threshold against the snapshot.
//
// Evaluation never aborts: an unknown metric or unsupported statistic
// produces a failed Result carrying the error.
func Evaluate(snap *metrics.Snapshot, thresholds []Threshold) []Result {
	results := make([]Result, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, EvaluateOne(snap, t))
	}
	return results
}

// EvaluateOne evaluates a single threshold.
func EvaluateOne(snap *metrics.Snapshot, t Threshold) Result {
	result := Result{
		Metric:      t.Metric,
		Expression:  t.Source,
		AbortOnFail: t.AbortOnFail,
	}

	m, ok := snap.Get(t.Metric)
	if !ok {
		result.Err = fmt.Errorf("%w: %s", ErrUnknownMetric, t.Metric)
		result.Message = result.Err.Error()
		return result
	}

	actual, err := statistic(m, t.Expression, snap.Elapsed)
	if err != nil {
		result.Err = err
		result.Message = err.Error()
		return result
	}

	result.Actual = actual
	result.Passed = t.Op.Compare(actual, t.Value)
	if !result.Passed {
		result.Message = fmt.Sprintf("%s is %.4g, want %s %v", statName(t.Expression), actual, t.Op, t.Value)
	}
	return result
}

// Passed reports whether every result passed. No results means pass.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// Failed returns the failed results.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func statistic(m *metrics.MetricSnapshot, e *Expression, elapsed time.Duration) (float64, error) {
	unsupported := func() (float64, error) {
		return 0, fmt.Errorf("%w: %s of %s metric %s", ErrUnsupportedStatistic, statName(e), m.Kind, m.Name)
	}

	switch m.Kind {
	case metrics.KindTrend:
		switch e.Statistic {
		case "avg":
			return m.Mean, nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		case "med":
			return m.Percentile(50), nil
		case "p":
			return m.Percentile(e.Percentile), nil
		case "count":
			return float64(m.Count), nil
		}
	case metrics.KindCounter:
		switch e.Statistic {
		case "count", "sum":
			return m.Sum, nil
		case "rate":
			return m.PerSecond(elapsed), nil
		}
	case metrics.KindGauge:
		switch e.Statistic {
		case "value":
			return m.Last, nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		}
	case metrics.KindRate:
		if e.Statistic == "rate" {
			return m.Rate, nil
		}
	}
	return unsupported()
}

func statName(e *Expression) string {
	if e.Statistic == "p" {
		return fmt.Sprintf("p(%v)", e.Percentile)
	}
	return e.Statistic
}
