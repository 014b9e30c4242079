// Package report writes the machine-readable result of a run.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/wesleyorama2/vuload/internal/engine"
	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/threshold"
)

// Report is the JSON document written by --out.
type Report struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Passed   bool `json:"passed"`
	ExitCode int  `json:"exitCode"`

	StartTime  time.Time           `json:"startTime"`
	EndTime    time.Time           `json:"endTime"`
	DurationMs int64               `json:"durationMs"`
	States     []engine.Transition `json:"states"`
	Iterations int64               `json:"iterations"`

	Metrics    map[string]*metrics.MetricSnapshot `json:"metrics"`
	Thresholds []threshold.Result                  `json:"thresholds"`
	Groups     []engine.GroupSummary               `json:"groups"`

	Errors      Errors `json:"errors"`
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abortReason,omitempty"`
	Interrupted bool   `json:"interrupted"`

	Timeline []Point `json:"timeline,omitempty"`
}

// Errors holds the text of the run-level errors.
type Errors struct {
	Setup    string `json:"setup,omitempty"`
	Teardown string `json:"teardown,omitempty"`
	Fatal    string `json:"fatal,omitempty"`
}

// New builds a report from a run result.
func New(name, description string, r *engine.Result, timeline []Point) (*Report, error) {
	if r == nil {
		return nil, errors.New("result cannot be nil")
	}

	rep := &Report{
		Name:        name,
		Description: description,
		Passed:      r.Passed,
		ExitCode:    r.ExitCode(),
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		DurationMs:  r.Duration.Milliseconds(),
		States:      r.States,
		Iterations:  r.Iterations,
		Metrics:     map[string]*metrics.MetricSnapshot{},
		Thresholds:  r.Thresholds,
		Groups:      r.Groups,
		Errors: Errors{
			Setup:    errString(r.SetupError),
			Teardown: errString(r.TeardownError),
			Fatal:    errString(r.FatalError),
		},
		Aborted:     r.Aborted,
		AbortReason: r.AbortReason,
		Interrupted: r.Interrupted,
		Timeline:    timeline,
	}
	if r.Snapshot != nil {
		rep.Metrics = r.Snapshot.Metrics
	}
	if rep.Thresholds == nil {
		rep.Thresholds = []threshold.Result{}
	}
	if rep.Groups == nil {
		rep.Groups = []engine.GroupSummary{}
	}
	return rep, nil
}

// Write encodes the report as indented JSON.
func (r *Report) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteFile writes the report to path.
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := r.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write report file: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Point is one progress sample of the run.
type Point struct {
	ElapsedMs   int64   `json:"elapsedMs"`
	ActiveVUs   int     `json:"activeVUs"`
	TargetVUs   int     `json:"targetVUs"`
	Phase       string  `json:"phase"`
	Requests    int64   `json:"requests"`
	IntervalRPS float64 `json:"intervalRPS"`
	ErrorRate   float64 `json:"errorRate"`
	LatencyP95  float64 `json:"latencyP95Ms"`
	Iterations  int64   `json:"iterations"`
}

// Timeline collects progress samples. It is safe for concurrent use.
type Timeline struct {
	mu     sync.Mutex
	points []Point
}

// Record appends a sample. The interval rate is computed from the
// previous sample.
func (t *Timeline) Record(stats scheduler.Stats, snap *metrics.Snapshot) {
	p := Point{
		ElapsedMs:  stats.Elapsed.Milliseconds(),
		ActiveVUs:  stats.Active,
		TargetVUs:  stats.Target,
		Phase:      string(stats.Phase),
		Iterations: stats.Iterations,
	}
	if m, ok := snap.Get(metrics.HTTPReqs); ok {
		p.Requests = int64(m.Sum)
	}
	if m, ok := snap.Get(metrics.HTTPReqFailed); ok {
		p.ErrorRate = m.Rate
	}
	if m, ok := snap.Get(metrics.HTTPReqDuration); ok {
		p.LatencyP95 = m.P95
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var prev Point
	if n := len(t.points); n > 0 {
		prev = t.points[n-1]
	}
	if dt := p.ElapsedMs - prev.ElapsedMs; dt > 0 {
		p.IntervalRPS = float64(p.Requests-prev.Requests) / (float64(dt) / 1000)
	}
	t.points = append(t.points, p)
}

// Points returns a copy of the samples.
func (t *Timeline) Points() []Point {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Point(nil), t.points...)
}
