package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuload/internal/engine"
	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/stage"
	"github.com/wesleyorama2/vuload/internal/threshold"
)

func result(t *testing.T) *engine.Result {
	t.Helper()
	reg := metrics.NewRegistry()
	require.NoError(t, reg.Trend(metrics.HTTPReqDuration, 120))
	require.NoError(t, reg.Rate("error_rate", false))
	snap := reg.Snapshot()

	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	return &engine.Result{
		States: []engine.Transition{
			{State: engine.StateIdle, At: start},
			{State: engine.StateReported, At: start.Add(time.Minute)},
		},
		StartTime: start,
		EndTime:   start.Add(time.Minute),
		Duration:  time.Minute,
		Snapshot:  snap,
		Thresholds: threshold.Evaluate(snap, []threshold.Threshold{
			threshold.MustNew("p95(http_req_duration) < 500"),
			threshold.MustNew("count(missing) > 1"),
		}),
		Groups:        []engine.GroupSummary{{Group: "GET Posts", Passes: 3, Fails: 1}},
		Iterations:    42,
		TeardownError: errors.New("logout failed"),
		Passed:        false,
	}
}

func TestReport_Write(t *testing.T) {
	rep, err := New("Posts API", "smoke", result(t), nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rep.Write(&buf))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "Posts API", doc["name"])
	assert.Equal(t, false, doc["passed"])
	assert.Equal(t, float64(1), doc["exitCode"])
	assert.Equal(t, float64(60000), doc["durationMs"])
	assert.Equal(t, float64(42), doc["iterations"])

	states := doc["states"].([]interface{})
	require.Len(t, states, 2)
	assert.Equal(t, "reported", states[1].(map[string]interface{})["state"])

	m := doc["metrics"].(map[string]interface{})
	trend := m[metrics.HTTPReqDuration].(map[string]interface{})
	assert.Equal(t, "trend", trend["kind"])
	assert.Equal(t, float64(120), trend["p95"])

	thresholds := doc["thresholds"].([]interface{})
	require.Len(t, thresholds, 2)
	assert.Equal(t, true, thresholds[0].(map[string]interface{})["passed"])
	failed := thresholds[1].(map[string]interface{})
	assert.Equal(t, false, failed["passed"])
	assert.Contains(t, failed["error"], "unknown metric")

	groups := doc["groups"].([]interface{})
	assert.Equal(t, float64(1), groups[0].(map[string]interface{})["fails"])

	errs := doc["errors"].(map[string]interface{})
	assert.Equal(t, "logout failed", errs["teardown"])
	assert.NotContains(t, errs, "setup")
	assert.NotContains(t, doc, "timeline")
}

func TestReport_EmptyCollections(t *testing.T) {
	rep, err := New("empty", "", &engine.Result{Passed: true}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, rep.Write(&buf))
	assert.Contains(t, buf.String(), `"thresholds": []`)
	assert.Contains(t, buf.String(), `"groups": []`)
	assert.Contains(t, buf.String(), `"metrics": {}`)

	_, err = New("nil", "", nil, nil)
	assert.Error(t, err)
}

func TestReport_WriteFile(t *testing.T) {
	rep, err := New("file", "", result(t), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, rep.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "file", back.Name)
	assert.Equal(t, int64(42), back.Iterations)

	err = rep.WriteFile(filepath.Join(t.TempDir(), "missing", "report.json"))
	assert.Error(t, err)
}

func TestTimeline(t *testing.T) {
	var tl Timeline
	reg := metrics.NewRegistry()

	require.NoError(t, reg.Count(metrics.HTTPReqs, 10))
	tl.Record(scheduler.Stats{Active: 2, Target: 2, Phase: stage.PhaseRampUp, Elapsed: time.Second}, reg.Snapshot())

	require.NoError(t, reg.Count(metrics.HTTPReqs, 40))
	require.NoError(t, reg.Rate(metrics.HTTPReqFailed, true))
	tl.Record(scheduler.Stats{Active: 4, Target: 4, Phase: stage.PhaseSteady, Elapsed: 3 * time.Second}, reg.Snapshot())

	points := tl.Points()
	require.Len(t, points, 2)
	assert.Equal(t, int64(10), points[0].Requests)
	assert.InDelta(t, 10.0, points[0].IntervalRPS, 0.001)
	assert.Equal(t, int64(50), points[1].Requests)
	assert.InDelta(t, 20.0, points[1].IntervalRPS, 0.001)
	assert.Equal(t, "steady", points[1].Phase)
	assert.Equal(t, 1.0, points[1].ErrorRate)

	points[0].Requests = 999
	assert.Equal(t, int64(10), tl.Points()[0].Requests, "Points returns a copy")
}
