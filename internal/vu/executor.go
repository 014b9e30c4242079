package vu

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	vuhttp "github.com/wesleyorama2/vuload/internal/http"
	"github.com/wesleyorama2/vuload/internal/metrics"
)

var (
	// ErrIterationAborted is returned by operations issued after a failure
	// when AbortOnError is set.
	ErrIterationAborted = errors.New("iteration aborted after failure")

	// ErrCheckFailed is returned by Context.Do when the response failed the
	// expected status or one of the operation's checks.
	ErrCheckFailed = errors.New("check failed")

	// ErrPanic wraps a panic recovered from scenario code.
	ErrPanic = errors.New("scenario panicked")
)

// MetricNames are the outcome metrics the executor records for every
// operation, in addition to the built-in http_* metrics.
type MetricNames struct {
	ResponseTime string // trend, ms
	Success      string // counter
	Failure      string // counter
	ErrorRate    string // rate
}

// DefaultMetricNames returns the names used when none are configured.
func DefaultMetricNames() MetricNames {
	return MetricNames{
		ResponseTime: "response_time",
		Success:      "success_count",
		Failure:      "failure_count",
		ErrorRate:    "error_rate",
	}
}

func (n MetricNames) withDefaults() MetricNames {
	d := DefaultMetricNames()
	if n.ResponseTime == "" {
		n.ResponseTime = d.ResponseTime
	}
	if n.Success == "" {
		n.Success = d.Success
	}
	if n.Failure == "" {
		n.Failure = d.Failure
	}
	if n.ErrorRate == "" {
		n.ErrorRate = d.ErrorRate
	}
	return n
}

// Executor runs scenario steps and records their outcomes.
type Executor struct {
	scenario Scenario
	client   *vuhttp.Client
	registry *metrics.Registry

	names        MetricNames
	abortOnError bool
	onFatal      func(error)
	logger       zerolog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetricNames overrides the outcome metric names. Empty fields keep
// their defaults.
func WithMetricNames(n MetricNames) ExecutorOption {
	return func(e *Executor) {
		e.names = n.withDefaults()
	}
}

// WithAbortOnError stops an iteration at its first failed operation.
func WithAbortOnError(abort bool) ExecutorOption {
	return func(e *Executor) {
		e.abortOnError = abort
	}
}

// WithFatalHandler sets the callback invoked for errors that must end the
// run, such as a metric recorded with two different kinds.
func WithFatalHandler(fn func(error)) ExecutorOption {
	return func(e *Executor) {
		e.onFatal = fn
	}
}

// WithLogger sets the logger handed to scenario code.
func WithLogger(l zerolog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an executor for scenario.
func NewExecutor(scenario Scenario, client *vuhttp.Client, registry *metrics.Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		scenario: scenario,
		client:   client,
		registry: registry,
		names:    DefaultMetricNames(),
		onFatal:  func(error) {},
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the registry outcomes are recorded into.
func (e *Executor) Registry() *metrics.Registry {
	return e.registry
}

// RunSetup runs the scenario's Setup step. A panic is returned as ErrPanic.
func (e *Executor) RunSetup(ctx context.Context) (data any, err error) {
	c := e.newContext(ctx, 0, 0, nil)
	defer e.recoverInto(&err, "setup")
	return e.scenario.Setup(c)
}

// RunTeardown runs the scenario's Teardown step with the setup data.
func (e *Executor) RunTeardown(ctx context.Context, data any) (err error) {
	c := e.newContext(ctx, 0, 0, data)
	defer e.recoverInto(&err, "teardown")
	return e.scenario.Teardown(c)
}

// RunIteration runs one work unit for virtual user vuID.
//
// Failures inside the iteration are recorded, never propagated: the
// returned error only describes how the iteration ended and the caller
// may ignore it.
func (e *Executor) RunIteration(ctx context.Context, vuID int, iteration int64, data any) (err error) {
	c := e.newContext(ctx, vuID, iteration, data)
	start := time.Now()

	defer func() {
		_ = e.record(metrics.IterationDuration, metrics.KindTrend, millis(time.Since(start)))
		_ = e.record(metrics.Iterations, metrics.KindCounter, 1)
	}()
	defer e.recoverInto(&err, "iteration")

	return e.scenario.Iterate(c)
}

func (e *Executor) recoverInto(err *error, step string) {
	if r := recover(); r != nil {
		e.logger.Error().
			Str("step", step).
			Interface("panic", r).
			Bytes("stack", debug.Stack()).
			Msg("recovered panic in scenario")
		*err = fmt.Errorf("%w in %s: %v", ErrPanic, step, r)
	}
}

func (e *Executor) newContext(ctx context.Context, vuID int, iteration int64, data any) *Context {
	return &Context{
		ctx:       ctx,
		exec:      e,
		vuID:      vuID,
		iteration: iteration,
		data:      data,
	}
}

// record writes one sample. A kind mismatch is fatal for the run; any other
// error is a programming error in the sample itself and only logged.
func (e *Executor) record(name string, kind metrics.Kind, value float64) error {
	err := e.registry.Record(name, kind, value)
	if err == nil {
		return nil
	}
	if errors.Is(err, metrics.ErrKindMismatch) {
		e.onFatal(err)
	} else {
		e.logger.Warn().Err(err).Str("metric", name).Msg("dropped sample")
	}
	return err
}

func (e *Executor) recordRate(name string, ok bool) {
	v := 0.0
	if ok {
		v = 1
	}
	_ = e.record(name, metrics.KindRate, v)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
