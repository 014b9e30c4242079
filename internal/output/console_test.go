package output

import (
	"bytes"
	"errors"
	"strings"
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

func sampleResult(t *testing.T, passed bool) *engine.Result {
	t.Helper()
	reg := metrics.NewRegistry()
	for _, v := range []float64{100, 120, 300} {
		require.NoError(t, reg.Trend(metrics.HTTPReqDuration, v))
		require.NoError(t, reg.Count(metrics.HTTPReqs, 1))
		require.NoError(t, reg.Rate(metrics.Checks, true))
	}
	require.NoError(t, reg.Rate(metrics.Checks, false))
	require.NoError(t, reg.Count(metrics.DataReceived, 2048))
	require.NoError(t, reg.Gauge(metrics.VUs, 3))
	require.NoError(t, reg.Trend(metrics.Tagged("response_time", "name", "GET /posts"), 100))

	snap := reg.Snapshot()
	thresholds := threshold.Evaluate(snap, []threshold.Threshold{
		threshold.MustNew("p95(http_req_duration) < 500"),
		threshold.MustNew("rate(checks) > 0.99"),
		threshold.MustNew("avg(never_recorded) < 1"),
	})

	return &engine.Result{
		States:     []engine.Transition{{State: engine.StateIdle}, {State: engine.StateReported}},
		Duration:   90 * time.Second,
		Snapshot:   snap,
		Thresholds: thresholds,
		Groups: []engine.GroupSummary{
			{Group: "POST Posts", Passes: 9, Fails: 1},
			{Group: "GET Posts", Passes: 10},
		},
		Iterations:    1234,
		TeardownError: errors.New("logout failed"),
		Passed:        passed,
	}
}

func TestConsole_PrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})

	c.PrintSummary("Posts API", sampleResult(t, false))
	out := buf.String()

	assert.Contains(t, out, "Posts API - FAILED ✗")
	assert.Contains(t, out, "iterations: 1,234")
	assert.Contains(t, out, "duration: 1m30s")
	assert.Contains(t, out, "final state: reported")

	assert.Contains(t, out, "http_req_duration...........: avg=")
	assert.Contains(t, out, "data_received...............: 2.0 KiB")
	assert.Contains(t, out, "checks......................: 75.00% ✓ 3 ✗ 1")
	assert.NotContains(t, out, "response_time{", "tagged series stay out of the console table")

	assert.Contains(t, out, "✓ p95(http_req_duration) < 500 (actual: 300)")
	assert.Contains(t, out, "✗ rate(checks) > 0.99 (actual: 0.75)")
	assert.Contains(t, out, "avg(never_recorded) < 1 (unknown metric")

	// Groups are listed by name.
	getIdx := strings.Index(out, "✓ GET Posts (10 passed)")
	postIdx := strings.Index(out, "✗ POST Posts: 1 of 10 checks failed")
	require.NotEqual(t, -1, getIdx)
	require.NotEqual(t, -1, postIdx)
	assert.Less(t, getIdx, postIdx)

	assert.Contains(t, out, "teardown error: logout failed")
	assert.NotContains(t, out, "\033[", "no escape codes without color")
}

func TestConsole_QuietSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, Quiet: true})

	c.PrintHeader("quiet", stage.NewProfile(stage.Stage{Duration: time.Second, Target: 1}))
	c.Progress(scheduler.Stats{Active: 1}, nil)
	c.PrintSummary("quiet", sampleResult(t, true))

	assert.Equal(t, "PASSED ✓\n", buf.String())
}

func TestConsole_Progress(t *testing.T) {
	reg := metrics.NewRegistry()
	require.NoError(t, reg.Count(metrics.HTTPReqs, 1500))
	require.NoError(t, reg.Rate(metrics.HTTPReqFailed, false))
	require.NoError(t, reg.Trend(metrics.HTTPReqDuration, 42))

	profile := stage.NewProfile(
		stage.Stage{Duration: 20 * time.Second, Target: 30, Name: "warm"},
		stage.Stage{Duration: 20 * time.Second, Target: 30},
	)
	stats := scheduler.Stats{Active: 15, Target: 15, Phase: stage.PhaseRampUp, Elapsed: 10 * time.Second}

	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	c.PrintHeader("progress", profile)
	assert.Contains(t, buf.String(), "duration: 40.0s, max VUs: 30, stages: 2")
	assert.Contains(t, buf.String(), "warm")
	assert.Contains(t, buf.String(), "stage 2")

	buf.Reset()
	c.Progress(stats, reg.Snapshot())
	line := buf.String()
	assert.True(t, strings.HasSuffix(line, "\n"), "non-terminal output appends lines")
	assert.Contains(t, line, "[ 25%] 10.0s/40.0s")
	assert.Contains(t, line, "VUs 15/15")
	assert.Contains(t, line, "ramp-up (1/2)")
	assert.Contains(t, line, "reqs 1,500")
	assert.Contains(t, line, "errors 0.00%")
	assert.Contains(t, line, "p95 42.00ms")

	buf.Reset()
	tty := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, ForceTTY: true})
	tty.PrintHeader("progress", profile)
	buf.Reset()
	tty.Progress(stats, reg.Snapshot())
	assert.True(t, strings.HasPrefix(buf.String(), "\r"))
	assert.True(t, strings.HasSuffix(buf.String(), clearToEnd))

	buf.Reset()
	tty.PrintSummary("progress", &engine.Result{Passed: true})
	assert.True(t, strings.HasPrefix(buf.String(), "\n"), "summary starts below the progress line")
}

func TestColorScheme(t *testing.T) {
	plain := NoColorScheme()
	assert.Equal(t, "✓", plain.Icon(true))
	assert.Equal(t, "✗", plain.Icon(false))

	forced := ForcedColorScheme()
	assert.Contains(t, forced.PassIcon(), "\033[")
	assert.Equal(t, forced.Fail, forced.RateColor(0.2))
	assert.Equal(t, forced.Warn, forced.RateColor(0.02))
	assert.Equal(t, forced.Pass, forced.RateColor(0))
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "1")
	assert.False(t, SupportsColor(&bytes.Buffer{}))

	t.Setenv("NO_COLOR", "")
	t.Setenv("FORCE_COLOR", "1")
	assert.True(t, SupportsColor(&bytes.Buffer{}))
}
