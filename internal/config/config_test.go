package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/stage"
)

const sampleYAML = `
name: Posts API
settings:
  baseUrl: https://jsonplaceholder.typicode.com
  timeout: 10s
  headers:
    Content-Type: application/json
  maxRps: 50
variables:
  postId: "1"
options:
  setupTimeout: 1m
  gracefulStop: 5s
  pacing:
    type: constant
    duration: 1s
stages:
  - {duration: 20s, target: 30}
  - {duration: 60s, target: 100}
  - {duration: 20s, target: 30}
thresholds:
  http_req_duration: ["p(95)<500"]
  error_rate: ["rate<0.05"]
  success_count:
    - threshold: count>100
      abortOnFail: true
      delayAbortEval: 10s
setup:
  requests:
    - name: login
      method: post
      url: "{{baseUrl}}/login"
      body: '{"username":"test"}'
      extract:
        - {name: token, source: body, path: $.token}
iteration:
  groups:
    - name: GET Posts
      requests:
        - url: "/posts/{{postId}}"
          expectStatus: 200
          checks:
            - {type: jsonpath, path: $.id, condition: exists}
  sleep: 1s
teardown:
  requests:
    - {method: POST, url: /logout}
`

func TestParseConfig_YAML(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "test.yaml")
	require.NoError(t, err)
	ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "Posts API", cfg.Name)
	assert.Equal(t, 10*time.Second, time.Duration(cfg.Settings.Timeout))
	assert.Equal(t, 50.0, cfg.Settings.MaxRPS)
	assert.Equal(t, time.Minute, time.Duration(cfg.Options.SetupTimeout))
	assert.Equal(t, time.Second, time.Duration(cfg.Iteration.Sleep))

	require.Len(t, cfg.Stages, 3)
	assert.Equal(t, 60*time.Second, time.Duration(cfg.Stages[1].Duration))

	require.NotNil(t, cfg.Setup)
	assert.Equal(t, "POST", cfg.Setup.Requests[0].Method, "methods are upper-cased")
	assert.Equal(t, "GET", cfg.Iteration.Groups[0].Requests[0].Method, "method defaults to GET")
	assert.Equal(t, "jsonpath $.id exists", cfg.Iteration.Groups[0].Requests[0].Checks[0].Name)

	entries := cfg.Thresholds["success_count"]
	require.Len(t, entries, 1)
	assert.Equal(t, "count>100", entries[0].Threshold)
	assert.True(t, entries[0].AbortOnFail)
	assert.Equal(t, 10*time.Second, time.Duration(entries[0].DelayAbortEval))
}

func TestParseConfig_JSON(t *testing.T) {
	data := `{
		"name": "json test",
		"settings": {"baseUrl": "http://localhost:8080", "timeout": "5s"},
		"vus": 10,
		"duration": "30s",
		"thresholds": {
			"http_req_duration": ["p(95)<500", {"threshold": "avg<200", "abortOnFail": true}]
		},
		"iteration": {"requests": [{"url": "/health"}]}
	}`

	cfg, err := ParseConfig([]byte(data), "test.json")
	require.NoError(t, err)
	ApplyDefaults(cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.VUs)
	assert.Equal(t, 30*time.Second, time.Duration(cfg.Duration))

	entries := cfg.Thresholds["http_req_duration"]
	require.Len(t, entries, 2)
	assert.False(t, entries[0].AbortOnFail)
	assert.True(t, entries[1].AbortOnFail)
}

func TestParseConfig_InvalidDuration(t *testing.T) {
	_, err := ParseConfig([]byte("settings:\n  timeout: soon\n"), "x.yaml")
	assert.Error(t, err)
}

func TestProfile_Shorthand(t *testing.T) {
	cfg := &TestConfig{VUs: 10, Duration: Duration(30 * time.Second)}
	p := cfg.Profile()

	require.Len(t, p.Stages, 2)
	assert.Equal(t, stage.Stage{Duration: 0, Target: 10}, p.Stages[0])
	assert.Equal(t, stage.Stage{Duration: 30 * time.Second, Target: 10}, p.Stages[1])

	target, _ := p.TargetAt(0)
	assert.Equal(t, 10, target)
	assert.Equal(t, 30*time.Second, p.Total())
}

func TestProfile_Stages(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "")
	require.NoError(t, err)

	p := cfg.Profile()
	assert.Equal(t, 100, p.Max())
	assert.Equal(t, 100*time.Second, p.Total())
	assert.Equal(t, "stage-2", p.Stages[1].Name)
}

func TestThresholdList(t *testing.T) {
	cfg, err := ParseConfig([]byte(sampleYAML), "")
	require.NoError(t, err)

	list, err := cfg.ThresholdList()
	require.NoError(t, err)
	require.Len(t, list, 3)

	// Ordered by metric name.
	assert.Equal(t, "error_rate", list[0].Metric)
	assert.Equal(t, "http_req_duration", list[1].Metric)
	assert.Equal(t, 95.0, list[1].Percentile)
	assert.Equal(t, "success_count", list[2].Metric)
	assert.True(t, list[2].AbortOnFail)
	assert.Equal(t, 10*time.Second, list[2].DelayAbortEval)
}

func TestPacing(t *testing.T) {
	cfg := &TestConfig{}
	assert.Equal(t, scheduler.PacingNone, cfg.Pacing().Type)

	cfg.Options.Pacing = &PacingConfig{Type: "Random", Min: Duration(time.Second), Max: Duration(2 * time.Second)}
	p := cfg.Pacing()
	assert.Equal(t, scheduler.PacingRandom, p.Type)
	assert.Equal(t, 2*time.Second, p.Max)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"no load", "iteration: {requests: [{url: http://x/}]}", "stages"},
		{"both load forms", "vus: 1\nduration: 1s\nstages: [{duration: 1s, target: 1}]\niteration: {requests: [{url: http://x/}]}", "stages"},
		{"vus without duration", "vus: 1\niteration: {requests: [{url: http://x/}]}", "duration"},
		{"negative target", "stages: [{duration: 1s, target: -1}, {duration: 1s, target: 2}]\niteration: {requests: [{url: http://x/}]}", "stages[0].target"},
		{"all zero targets", "stages: [{duration: 1s, target: 0}]\niteration: {requests: [{url: http://x/}]}", "stages"},
		{"only zero-duration stages", "stages: [{duration: 0s, target: 50}]\niteration: {requests: [{url: http://x/}]}", "stages"},
		{"no requests", "vus: 1\nduration: 1s", "iteration"},
		{"relative url without base", "vus: 1\nduration: 1s\niteration: {requests: [{url: /posts}]}", "iteration.requests[0].url"},
		{"bad base url", "settings: {baseUrl: ftp://x}\nvus: 1\nduration: 1s\niteration: {requests: [{url: /posts}]}", "settings.baseUrl"},
		{"bad method", "vus: 1\nduration: 1s\niteration: {requests: [{url: http://x/, method: FETCH}]}", "iteration.requests[0].method"},
		{"bad threshold", "vus: 1\nduration: 1s\nthresholds: {error_rate: [\"rate<<1\"]}\niteration: {requests: [{url: http://x/}]}", "thresholds.error_rate[0]"},
		{"bad check type", "vus: 1\nduration: 1s\niteration: {requests: [{url: http://x/, checks: [{type: xml}]}]}", "iteration.requests[0].checks[0].type"},
		{"jsonpath without path", "vus: 1\nduration: 1s\niteration: {requests: [{url: http://x/, checks: [{type: jsonpath, condition: exists}]}]}", "iteration.requests[0].checks[0].path"},
		{"bad extract source", "vus: 1\nduration: 1s\niteration: {requests: [{url: http://x/, extract: [{name: a, source: cookie}]}]}", "iteration.requests[0].extract[0].source"},
		{"unnamed group", "vus: 1\nduration: 1s\niteration: {groups: [{requests: [{url: http://x/}]}]}", "iteration.groups[0].name"},
		{"bad pacing", "vus: 1\nduration: 1s\noptions: {pacing: {type: burst}}\niteration: {requests: [{url: http://x/}]}", "options.pacing"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig([]byte(tt.yaml), "t.yaml")
			require.NoError(t, err)
			ApplyDefaults(cfg)

			err = cfg.Validate()
			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs), "expected *ValidationErrors, got %v", err)

			var fields []string
			for _, e := range verrs.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestValidationErrors_Error(t *testing.T) {
	errs := &ValidationErrors{}
	assert.Equal(t, "no validation errors", errs.Error())

	errs.Add("a", "broken")
	assert.Equal(t, "validation error on field 'a': broken", errs.Error())

	errs.Add("", "also broken")
	assert.True(t, strings.HasPrefix(errs.Error(), "2 validation errors:"))
	assert.Contains(t, errs.Error(), "validation error: also broken")
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 3, len(cfg.Stages))

	_, err = LoadConfig(filepath.Join(dir, "missing.yml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("vus: 1\n"), 0o644))
	_, err = LoadConfig(bad)
	var verrs *ValidationErrors
	assert.ErrorAs(t, err, &verrs)
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
		err  bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"30", 30 * time.Second, false},
		{"0.5", 500 * time.Millisecond, false},
		{"soon", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationString(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseDurationString(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDurationString(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}
