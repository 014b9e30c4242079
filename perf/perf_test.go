package perf

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/vuload/internal/metrics"
)

const postsTest = `
name: Posts API
description: CRUD smoke test
settings:
  baseUrl: http://example.invalid
vus: 2
duration: 300ms
options:
  gracefulStop: 1s
thresholds:
  http_req_duration: ["p(95)<2000"]
  checks: ["rate>0.99"]
iteration:
  sleep: 20ms
  groups:
    - name: GET Posts
      requests:
        - url: /posts
          expectStatus: 200
          checks:
            - {type: jsonpath, path: "$[0].id", value: "1"}
`

func postsServer(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":1,"title":"hello"}]`)
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestParse(t *testing.T) {
	test, err := Parse([]byte(postsTest), "test.yaml")
	require.NoError(t, err)

	assert.Equal(t, "Posts API", test.Name())
	assert.Equal(t, "CRUD smoke test", test.Description())
	assert.Equal(t, 2, test.Thresholds())
	assert.Equal(t, 1, test.Requests())
	assert.Equal(t, 2, test.Profile().Max())
	assert.Equal(t, 300*time.Millisecond, test.Profile().Total())
}

func TestParse_Overrides(t *testing.T) {
	test, err := Parse([]byte(postsTest), "test.yaml", WithStages("1s:5,2s:5,1s:0"))
	require.NoError(t, err)
	p := test.Profile()
	require.Len(t, p.Stages, 3)
	assert.Equal(t, 5, p.Max())
	assert.Equal(t, "stage-2", p.Stages[1].Name)

	test, err = Parse([]byte(postsTest), "test.yaml", WithVUs(7, time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 7, test.Profile().Max())
	assert.Equal(t, time.Minute, test.Profile().Total())

	_, err = Parse([]byte(postsTest), "test.yaml", WithStages("10s"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid stages")

	_, err = Parse([]byte(postsTest), "test.yaml", WithVUs(3, 0))
	assert.Error(t, err, "vus without a duration is rejected")

	_, err = Parse([]byte(postsTest), "test.yaml", WithStages("0s:50"))
	require.Error(t, err, "a profile of steps only never applies its target")
	assert.Contains(t, err.Error(), "total stage duration")
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		contain string
	}{
		{
			name:    "yaml syntax",
			doc:     "name: [unclosed",
			contain: "failed to parse YAML config",
		},
		{
			name:    "no requests",
			doc:     "vus: 1\nduration: 1s\niteration: {}\n",
			contain: "iteration",
		},
		{
			name: "bad threshold",
			doc: `
settings: {baseUrl: http://localhost}
vus: 1
duration: 1s
thresholds:
  http_req_duration: ["fast please"]
iteration:
  requests: [{url: /}]
`,
			contain: "http_req_duration",
		},
		{
			name: "bad schema",
			doc: `
settings: {baseUrl: http://localhost}
vus: 1
duration: 1s
iteration:
  requests:
    - url: /
      checks:
        - {type: schema, schema: '{"type": 5}'}
`,
			contain: "iteration.requests[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), "test.yaml")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.contain)
		})
	}
}

func TestRunner_Run(t *testing.T) {
	server, hits := postsServer(t)
	test, err := Parse([]byte(postsTest), "test.yaml", WithBaseURL(server.URL))
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		updates int
	)
	runner, err := NewRunner(test, WithProgress(func(stats Stats, snap *Snapshot) {
		mu.Lock()
		updates++
		mu.Unlock()
		assert.NotNil(t, snap)
	}, 50*time.Millisecond))
	require.NoError(t, err)

	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Passed, "thresholds: %+v", res.Thresholds)
	assert.Equal(t, 0, res.ExitCode())
	assert.Greater(t, res.Iterations, int64(0))
	assert.GreaterOrEqual(t, hits.Load(), res.Iterations)

	mu.Lock()
	assert.Greater(t, updates, 0)
	mu.Unlock()

	m, ok := runner.Snapshot().Get(metrics.HTTPReqs)
	require.True(t, ok)
	assert.Equal(t, float64(hits.Load()), m.Sum)

	rep, err := runner.Report(res)
	require.NoError(t, err)
	assert.Equal(t, "Posts API", rep.Name)
	assert.True(t, rep.Passed)
	assert.NotEmpty(t, rep.Timeline)
	assert.Len(t, rep.Thresholds, 2)

	_, err = runner.Run(context.Background())
	assert.Error(t, err, "a runner is single-use")
}

func TestRunner_UserAgent(t *testing.T) {
	var agents sync.Map
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents.Store(r.UserAgent(), true)
		io.WriteString(w, `[{"id":1}]`)
	}))
	defer server.Close()

	test, err := Parse([]byte(postsTest), "test.yaml", WithBaseURL(server.URL), WithUserAgent("custom/1.0"))
	require.NoError(t, err)
	runner, err := NewRunner(test, WithHTTPClient(server.Client()))
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	_, ok := agents.Load("custom/1.0")
	assert.True(t, ok)
}

func TestRunner_MetricsHandler(t *testing.T) {
	server, _ := postsServer(t)
	test, err := Parse([]byte(postsTest), "test.yaml", WithBaseURL(server.URL))
	require.NoError(t, err)
	runner, err := NewRunner(test)
	require.NoError(t, err)
	_, err = runner.Run(context.Background())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	runner.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_reqs")
}

func TestRunFile(t *testing.T) {
	server, _ := postsServer(t)
	path := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(postsTest, "http://example.invalid", server.URL)), 0o644))

	rep, err := RunFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, rep.Passed)
	assert.Equal(t, 0, rep.ExitCode)

	_, err = RunFile(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewRunner_NilTest(t *testing.T) {
	_, err := NewRunner(nil)
	assert.Error(t, err)
}
