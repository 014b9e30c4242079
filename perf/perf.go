package perf

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/vuload/internal/config"
	"github.com/wesleyorama2/vuload/internal/engine"
	vuhttp "github.com/wesleyorama2/vuload/internal/http"
	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/metrics/prom"
	"github.com/wesleyorama2/vuload/internal/rate"
	"github.com/wesleyorama2/vuload/internal/report"
	"github.com/wesleyorama2/vuload/internal/scenario"
	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/stage"
	"github.com/wesleyorama2/vuload/internal/threshold"
)

type (
	// Result is the outcome of a run: verdict, metrics, thresholds and
	// lifecycle errors.
	Result = engine.Result

	// Report is the JSON document built from a Result.
	Report = report.Report

	// Stats is the pool state passed to progress callbacks.
	Stats = scheduler.Stats

	// Snapshot is a point-in-time copy of every metric.
	Snapshot = metrics.Snapshot

	// Profile is the ramp profile of a test.
	Profile = stage.Profile
)

// DefaultUserAgent is sent when settings.userAgent is unset.
const DefaultUserAgent = "vuload"

// Test is a parsed, defaulted and validated test file.
type Test struct {
	cfg        *config.TestConfig
	thresholds []threshold.Threshold
}

// Override changes a parsed test file before it is validated.
type Override func(*config.TestConfig) error

// WithStages replaces the ramp profile with a "duration:target,..." list,
// e.g. "30s:10,1m:10,30s:0".
func WithStages(list string) Override {
	return func(cfg *config.TestConfig) error {
		stages, err := stage.ParseStages(list)
		if err != nil {
			return fmt.Errorf("invalid stages %q: %w", list, err)
		}
		cfg.VUs, cfg.Duration = 0, 0
		cfg.Stages = make([]config.StageConfig, 0, len(stages))
		for _, s := range stages {
			cfg.Stages = append(cfg.Stages, config.StageConfig{
				Duration: config.Duration(s.Duration),
				Target:   s.Target,
				Name:     s.Name,
			})
		}
		return nil
	}
}

// WithVUs replaces the ramp profile with vus users for d.
func WithVUs(vus int, d time.Duration) Override {
	return func(cfg *config.TestConfig) error {
		cfg.Stages = nil
		cfg.VUs = vus
		cfg.Duration = config.Duration(d)
		return nil
	}
}

// WithBaseURL points the test at another host.
func WithBaseURL(baseURL string) Override {
	return func(cfg *config.TestConfig) error {
		cfg.Settings.BaseURL = baseURL
		return nil
	}
}

// WithUserAgent sets the User-Agent header when the file does not.
func WithUserAgent(ua string) Override {
	return func(cfg *config.TestConfig) error {
		if cfg.Settings.UserAgent == "" {
			cfg.Settings.UserAgent = ua
		}
		return nil
	}
}

// LoadFile reads a YAML or JSON test file. See Parse.
func LoadFile(path string, overrides ...Override) (*Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data, path, overrides...)
}

// Parse parses a test file, applies overrides and defaults, and checks
// everything that can be checked before running: structure, thresholds,
// checks, extractors and JSON schemas.
func Parse(data []byte, path string, overrides ...Override) (*Test, error) {
	cfg, err := config.ParseConfig(data, path)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if err := o(cfg); err != nil {
			return nil, err
		}
	}

	config.ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	thresholds, err := cfg.ThresholdList()
	if err != nil {
		return nil, err
	}
	if _, err := scenario.New(cfg); err != nil {
		return nil, err
	}
	return &Test{cfg: cfg, thresholds: thresholds}, nil
}

// Name returns the test name.
func (t *Test) Name() string { return t.cfg.Name }

// Description returns the test description.
func (t *Test) Description() string { return t.cfg.Description }

// Profile returns the ramp profile.
func (t *Test) Profile() Profile { return t.cfg.Profile() }

// Thresholds returns the number of threshold expressions.
func (t *Test) Thresholds() int { return len(t.thresholds) }

// Requests returns the number of requests in one iteration.
func (t *Test) Requests() int { return t.cfg.Iteration.RequestCount() }

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger for the engine and the scenario.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithProgress calls fn every interval while virtual users are running.
func WithProgress(fn func(Stats, *Snapshot), interval time.Duration) Option {
	return func(r *Runner) {
		r.onProgress = fn
		r.interval = interval
	}
}

// WithHTTPClient replaces the transport built from the test settings.
// Base URL, headers and rate limit still apply.
func WithHTTPClient(hc *http.Client) Option {
	return func(r *Runner) {
		r.httpClient = hc
	}
}

// Runner runs one Test. It is single-use.
//
// For programmatic test execution, load a test and call Run:
//
//	test, _ := perf.LoadFile("test.yaml")
//	runner, _ := perf.NewRunner(test)
//	result, _ := runner.Run(context.Background())
type Runner struct {
	test *Test

	logger     zerolog.Logger
	onProgress func(Stats, *Snapshot)
	interval   time.Duration
	httpClient *http.Client

	registry *metrics.Registry
	timeline *report.Timeline
	engine   *engine.Engine
}

// NewRunner creates a runner for test.
func NewRunner(test *Test, opts ...Option) (*Runner, error) {
	if test == nil {
		return nil, errors.New("test cannot be nil")
	}

	r := &Runner{
		test:     test,
		logger:   zerolog.Nop(),
		registry: metrics.NewRegistry(),
		timeline: &report.Timeline{},
	}
	for _, opt := range opts {
		opt(r)
	}

	cfg := test.cfg
	scn, err := scenario.New(cfg, scenario.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}

	r.engine, err = engine.New(scn, engine.Options{
		Profile:          cfg.Profile(),
		Thresholds:       test.thresholds,
		SetupTimeout:     time.Duration(cfg.Options.SetupTimeout),
		TeardownTimeout:  time.Duration(cfg.Options.TeardownTimeout),
		GracefulStop:     time.Duration(cfg.Options.GracefulStop),
		Tick:             time.Duration(cfg.Options.Tick),
		WatchInterval:    time.Duration(cfg.Options.WatchInterval),
		Pacing:           cfg.Pacing(),
		AbortOnError:     cfg.Options.AbortOnError,
		MetricNames:      cfg.MetricNames(),
		Client:           r.newClient(cfg.Settings),
		Registry:         r.registry,
		OnProgress:       r.progress,
		ProgressInterval: r.interval,
		Logger:           r.logger,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) newClient(s config.Settings) *vuhttp.Client {
	userAgent := s.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	opts := []vuhttp.ClientOption{
		vuhttp.WithBaseURL(s.BaseURL),
		vuhttp.WithTimeout(s.Timeout.GetDuration(config.DefaultTimeout)),
		vuhttp.WithHeader("User-Agent", userAgent),
		vuhttp.WithInsecureSkipVerify(s.InsecureSkipVerify),
	}
	if s.MaxConnsPerHost > 0 {
		opts = append(opts, vuhttp.WithMaxConnsPerHost(s.MaxConnsPerHost))
	}
	if r.httpClient != nil {
		opts = append(opts, vuhttp.WithHTTPClient(r.httpClient))
	}
	if lim := rate.NewLimiter(s.MaxRPS); lim != nil {
		opts = append(opts, vuhttp.WithRateLimiter(lim))
	}
	return vuhttp.NewClient(opts...)
}

func (r *Runner) progress(stats Stats) {
	snap := r.registry.Snapshot()
	r.timeline.Record(stats, snap)
	if r.onProgress != nil {
		r.onProgress(stats, snap)
	}
}

// Run executes setup, the ramp profile and teardown. Cancelling ctx stops
// the virtual users early; teardown still runs.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	return r.engine.Run(ctx)
}

// Snapshot returns the current metrics. It is safe to call while running.
func (r *Runner) Snapshot() *Snapshot {
	return r.registry.Snapshot()
}

// MetricsHandler serves the live metrics in the Prometheus text format.
func (r *Runner) MetricsHandler() http.Handler {
	return prom.Handler(r.registry)
}

// Report builds the JSON report for a result of this runner, including
// the progress timeline.
func (r *Runner) Report(res *Result) (*Report, error) {
	return report.New(r.test.Name(), r.test.Description(), res, r.timeline.Points())
}

// RunFile loads a test file, runs it and returns its report.
func RunFile(ctx context.Context, path string, overrides ...Override) (*Report, error) {
	test, err := LoadFile(path, overrides...)
	if err != nil {
		return nil, err
	}
	runner, err := NewRunner(test)
	if err != nil {
		return nil, err
	}
	res, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	return runner.Report(res)
}
