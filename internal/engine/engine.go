// Package engine orchestrates a load test: setup, the staged virtual-user
// run, teardown, and the final verdict.
//
// Example usage:
//
//	eng, _ := engine.New(scenario, engine.Options{
//	    Profile:    stage.NewProfile(stage.Stage{Duration: time.Minute, Target: 10}),
//	    Thresholds: []threshold.Threshold{threshold.MustNew("p95(http_req_duration) < 500")},
//	})
//	result, _ := eng.Run(context.Background())
//	os.Exit(result.ExitCode())
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	vuhttp "github.com/wesleyorama2/vuload/internal/http"
	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/stage"
	"github.com/wesleyorama2/vuload/internal/threshold"
	"github.com/wesleyorama2/vuload/internal/vu"
)

const (
	DefaultSetupTimeout     = 60 * time.Second
	DefaultTeardownTimeout  = 60 * time.Second
	DefaultProgressInterval = time.Second
)

var (
	// ErrSetupFailed marks a run whose setup returned an error, panicked or
	// timed out. No iteration runs.
	ErrSetupFailed = errors.New("setup failed")

	// ErrTeardownFailed marks a failed teardown. It is reported but does
	// not change the verdict.
	ErrTeardownFailed = errors.New("teardown failed")

	// ErrAlreadyRun is returned when Run is called twice on one Engine.
	ErrAlreadyRun = errors.New("engine has already run")
)

// Options configures a run.
type Options struct {
	Profile    stage.Profile
	Thresholds []threshold.Threshold

	SetupTimeout    time.Duration // default 60s
	TeardownTimeout time.Duration // default 60s
	GracefulStop    time.Duration // default 30s
	Tick            time.Duration // scheduler tick, default 100ms
	WatchInterval   time.Duration // abort-on-fail evaluation, default 2s

	Pacing       scheduler.Pacing
	AbortOnError bool
	MetricNames  vu.MetricNames

	// Client issues the scenario's requests. A default client is used if nil.
	Client *vuhttp.Client

	// Registry receives all samples. A new one is created if nil.
	Registry *metrics.Registry

	// OnProgress, if set, is called every ProgressInterval while running.
	OnProgress       func(scheduler.Stats)
	ProgressInterval time.Duration

	Logger zerolog.Logger
}

func (o *Options) applyDefaults() {
	if o.SetupTimeout <= 0 {
		o.SetupTimeout = DefaultSetupTimeout
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = DefaultTeardownTimeout
	}
	if o.GracefulStop <= 0 {
		o.GracefulStop = scheduler.DefaultGracefulStop
	}
	if o.Tick <= 0 {
		o.Tick = scheduler.DefaultTick
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.Client == nil {
		o.Client = vuhttp.NewClient()
	}
	if o.Registry == nil {
		o.Registry = metrics.NewRegistry()
	}
}

// Engine runs one test. It is single-use.
type Engine struct {
	scenario vu.Scenario
	opts     Options
	log      zerolog.Logger

	mu      sync.Mutex
	state   State
	history []Transition
	pool    *scheduler.Pool

	fatalOnce sync.Once
	fatalErr  error
	cancelRun context.CancelFunc
}

// New validates opts and creates an engine for scenario.
func New(scenario vu.Scenario, opts Options) (*Engine, error) {
	if scenario == nil {
		return nil, errors.New("scenario is required")
	}
	if err := opts.Profile.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ramp profile: %w", err)
	}
	if err := opts.Pacing.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pacing: %w", err)
	}
	for i, t := range opts.Thresholds {
		if t.Expression == nil {
			return nil, fmt.Errorf("threshold %d has no expression", i+1)
		}
	}
	opts.applyDefaults()

	e := &Engine{
		scenario: scenario,
		opts:     opts,
		log:      opts.Logger,
		state:    StateIdle,
	}
	e.history = []Transition{{State: StateIdle, At: time.Now()}}
	return e, nil
}

// Registry returns the registry samples are recorded into.
func (e *Engine) Registry() *metrics.Registry {
	return e.opts.Registry
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Stats returns the virtual user pool statistics, zero before Running.
func (e *Engine) Stats() scheduler.Stats {
	e.mu.Lock()
	pool := e.pool
	e.mu.Unlock()
	if pool == nil {
		return scheduler.Stats{}
	}
	return pool.Stats()
}

func (e *Engine) transition(to State) {
	e.mu.Lock()
	from := e.state
	if !canTransition(from, to) {
		e.mu.Unlock()
		panic(fmt.Sprintf("engine: invalid transition %s -> %s", from, to))
	}
	e.state = to
	e.history = append(e.history, Transition{State: to, At: time.Now()})
	e.mu.Unlock()

	e.log.Debug().Stringer("from", from).Stringer("to", to).Msg("state transition")
}

// fatal ends the run. Only the first error is kept.
func (e *Engine) fatal(err error) {
	e.fatalOnce.Do(func() {
		e.mu.Lock()
		e.fatalErr = err
		cancel := e.cancelRun
		e.mu.Unlock()

		e.log.Error().Err(err).Msg("fatal error, stopping run")
		if cancel != nil {
			cancel()
		}
	})
}

func (e *Engine) fatalError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fatalErr
}

// Run executes the test and returns its result. Cancelling ctx stops the
// running phase early; teardown still runs.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	e.mu.Unlock()

	result := &Result{StartTime: time.Now()}

	exec := vu.NewExecutor(e.scenario, e.opts.Client, e.opts.Registry,
		vu.WithMetricNames(e.opts.MetricNames),
		vu.WithAbortOnError(e.opts.AbortOnError),
		vu.WithFatalHandler(e.fatal),
		vu.WithLogger(e.log),
	)

	// Setup
	e.transition(StateSetup)
	data, err := e.setup(ctx, exec)
	if err == nil {
		err = e.fatalError()
	}
	if err != nil {
		result.SetupError = fmt.Errorf("%w: %w", ErrSetupFailed, err)
		e.log.Error().Err(err).Msg("setup failed, skipping run")
		e.transition(StateReported)
		return e.finish(result), nil
	}

	// Running
	e.transition(StateRunning)
	e.runPhase(ctx, exec, data, result)

	// Tearing down
	e.transition(StateTearingDown)
	if err := e.pool.Stop(e.opts.GracefulStop); err != nil {
		e.log.Warn().Err(err).Msg("virtual users did not stop in time")
	}
	if err := e.teardown(exec, data); err != nil {
		result.TeardownError = fmt.Errorf("%w: %w", ErrTeardownFailed, err)
		e.log.Error().Err(err).Msg("teardown failed")
	}

	e.transition(StateReported)
	return e.finish(result), nil
}

func (e *Engine) setup(ctx context.Context, exec *vu.Executor) (any, error) {
	sctx, cancel := context.WithTimeout(ctx, e.opts.SetupTimeout)
	defer cancel()

	type out struct {
		data any
		err  error
	}
	ch := make(chan out, 1)
	go func() {
		data, err := exec.RunSetup(sctx)
		ch <- out{data, err}
	}()

	select {
	case o := <-ch:
		return o.data, o.err
	case <-sctx.Done():
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s", e.opts.SetupTimeout)
		}
		return nil, sctx.Err()
	}
}

// teardown runs detached from the run context so an interrupted run still
// cleans up.
func (e *Engine) teardown(exec *vu.Executor, data any) error {
	tctx, cancel := context.WithTimeout(context.Background(), e.opts.TeardownTimeout)
	defer cancel()

	ch := make(chan error, 1)
	go func() {
		ch <- exec.RunTeardown(tctx, data)
	}()

	select {
	case err := <-ch:
		return err
	case <-tctx.Done():
		return fmt.Errorf("timed out after %s", e.opts.TeardownTimeout)
	}
}

func (e *Engine) runPhase(ctx context.Context, exec *vu.Executor, data any, result *Result) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := scheduler.New(exec, scheduler.Config{
		Tick:     e.opts.Tick,
		Pacing:   e.opts.Pacing,
		Data:     data,
		Registry: e.opts.Registry,
		Logger:   e.log,
	})

	e.mu.Lock()
	e.pool = pool
	e.cancelRun = cancel
	e.mu.Unlock()

	// A fatal error may have been raised between setup and here.
	if e.fatalError() != nil {
		cancel()
	}

	var wg sync.WaitGroup

	watcher := threshold.NewWatcher(e.opts.Registry, e.opts.Thresholds, e.opts.WatchInterval)
	var breach *threshold.Result
	if watcher.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r := watcher.Run(runCtx); r != nil {
				breach = r
				e.log.Warn().
					Str("threshold", r.Expression).
					Float64("actual", r.Actual).
					Msg("threshold breached, aborting run")
				cancel()
			}
		}()
	}

	if e.opts.OnProgress != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(e.opts.ProgressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-runCtx.Done():
					return
				case <-ticker.C:
					e.opts.OnProgress(pool.Stats())
				}
			}
		}()
	}

	e.log.Info().
		Int("stages", len(e.opts.Profile.Stages)).
		Int("maxVUs", e.opts.Profile.Max()).
		Dur("duration", e.opts.Profile.Total()).
		Msg("starting virtual users")

	err := pool.Run(runCtx, e.opts.Profile)
	cancel()
	wg.Wait()

	if breach != nil {
		result.Aborted = true
		result.AbortReason = fmt.Sprintf("threshold %q breached: %s", breach.Expression, breach.Message)
	}
	if ctx.Err() != nil {
		result.Interrupted = true
		e.log.Warn().Msg("run interrupted")
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		e.fatal(err)
	}
}

func (e *Engine) finish(result *Result) *Result {
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.FatalError = e.fatalError()

	snap := e.opts.Registry.Snapshot()
	result.Snapshot = snap
	result.Thresholds = threshold.Evaluate(snap, e.opts.Thresholds)
	result.Groups = groupSummaries(snap)

	e.mu.Lock()
	result.States = append([]Transition(nil), e.history...)
	if e.pool != nil {
		result.Iterations = e.pool.Iterations()
	}
	e.mu.Unlock()

	result.Passed = result.SetupError == nil &&
		result.FatalError == nil &&
		!result.Aborted &&
		threshold.Passed(result.Thresholds)

	e.log.Info().
		Bool("passed", result.Passed).
		Int64("iterations", result.Iterations).
		Dur("duration", result.Duration).
		Msg("run complete")
	return result
}

func groupSummaries(snap *metrics.Snapshot) []GroupSummary {
	prefix := metrics.Checks + "{group:"

	var groups []GroupSummary
	for _, name := range snap.Names() {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, "}") {
			continue
		}
		m, _ := snap.Get(name)
		groups = append(groups, GroupSummary{
			Group:  strings.TrimSuffix(strings.TrimPrefix(name, prefix), "}"),
			Passes: m.Passes,
			Fails:  m.Fails,
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Group < groups[j].Group })
	return groups
}
