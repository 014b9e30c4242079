package vu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	vuhttp "github.com/wesleyorama2/vuload/internal/http"
	"github.com/wesleyorama2/vuload/internal/metrics"
)

// Op is one HTTP operation inside a work unit.
type Op struct {
	// Name tags the per-operation latency trend. Defaults to "METHOD URL".
	Name    string
	Method  string
	URL     string
	Headers map[string]string
	Body    any

	// ExpectStatus is the status that counts as success. Zero accepts any
	// status below 400.
	ExpectStatus int

	Checks []Check
}

// Check is a named assertion over a response. Assert returns nil on pass.
type Check struct {
	Name   string
	Assert func(resp *vuhttp.Response) error
}

// Context is what scenario code sees while it runs. A Context belongs to
// one virtual user and one step; it is not safe for concurrent use.
type Context struct {
	ctx       context.Context
	exec      *Executor
	vuID      int
	iteration int64
	data      any
	group     string
	aborted   bool
}

// Context returns the context governing blocking calls of this step.
func (c *Context) Context() context.Context { return c.ctx }

// VUID returns the virtual user index, starting at 1. Setup and teardown
// run as VU 0.
func (c *Context) VUID() int { return c.vuID }

// Iteration returns this virtual user's iteration number, starting at 0.
func (c *Context) Iteration() int64 { return c.iteration }

// Data returns the value Setup returned. It must be treated as read-only.
func (c *Context) Data() any { return c.data }

// GroupName returns the current group path, "" outside any group.
func (c *Context) GroupName() string { return c.group }

// Aborted reports whether a failure has aborted the rest of this iteration.
func (c *Context) Aborted() bool { return c.aborted }

// Logger returns a logger tagged with the virtual user and iteration.
func (c *Context) Logger() zerolog.Logger {
	return c.exec.logger.With().Int("vu", c.vuID).Int64("iter", c.iteration).Logger()
}

// Group runs fn with operations and checks tagged with name. Groups nest
// as "outer::inner".
func (c *Context) Group(name string, fn func(c *Context) error) error {
	if c.aborted {
		return ErrIterationAborted
	}

	parent := c.group
	if parent == "" {
		c.group = name
	} else {
		c.group = parent + "::" + name
	}
	defer func() { c.group = parent }()

	start := time.Now()
	err := fn(c)
	d := millis(time.Since(start))

	_ = c.exec.record(metrics.GroupDuration, metrics.KindTrend, d)
	_ = c.exec.record(metrics.Tagged(metrics.GroupDuration, "group", c.group), metrics.KindTrend, d)
	return err
}

// Do issues op and records its outcome.
//
// A transport failure is returned as *http.RequestError with a nil response.
// A response that fails its expected status or a check is returned together
// with an error wrapping ErrCheckFailed.
func (c *Context) Do(op Op) (*vuhttp.Response, error) {
	if c.aborted {
		return nil, ErrIterationAborted
	}

	e := c.exec
	name := op.Name
	if name == "" {
		name = strings.TrimSpace(op.Method + " " + op.URL)
	}

	req := vuhttp.NewRequest(op.Method, op.URL).WithBody(op.Body)
	for k, v := range op.Headers {
		req.WithHeader(k, v)
	}

	resp, err := e.client.Do(c.ctx, req)
	_ = e.record(metrics.HTTPReqs, metrics.KindCounter, 1)

	if err != nil {
		e.recordRate(metrics.HTTPReqFailed, true)
		c.recordCheck(statusCheckName(op.ExpectStatus), false)
		c.outcome(false)

		var reqErr *vuhttp.RequestError
		if !errors.As(err, &reqErr) {
			err = &vuhttp.RequestError{Method: op.Method, URL: op.URL, Err: err}
		}
		return nil, err
	}

	d := resp.DurationMillis()
	_ = e.record(metrics.HTTPReqDuration, metrics.KindTrend, d)
	_ = e.record(e.names.ResponseTime, metrics.KindTrend, d)
	_ = e.record(metrics.Tagged(e.names.ResponseTime, "name", name), metrics.KindTrend, d)
	_ = e.record(metrics.DataReceived, metrics.KindCounter, float64(len(resp.Body)))

	statusOK := statusMatches(resp.StatusCode, op.ExpectStatus)
	e.recordRate(metrics.HTTPReqFailed, !statusOK)
	c.recordCheck(statusCheckName(op.ExpectStatus), statusOK)

	var failed []string
	if !statusOK {
		failed = append(failed, fmt.Sprintf("%s (got %d)", statusCheckName(op.ExpectStatus), resp.StatusCode))
	}
	for _, chk := range op.Checks {
		if cerr := chk.Assert(resp); cerr != nil {
			c.recordCheck(chk.Name, false)
			failed = append(failed, fmt.Sprintf("%s: %v", chk.Name, cerr))
		} else {
			c.recordCheck(chk.Name, true)
		}
	}

	c.outcome(len(failed) == 0)
	if len(failed) > 0 {
		return resp, fmt.Errorf("%w: %s: %s", ErrCheckFailed, name, strings.Join(failed, "; "))
	}
	return resp, nil
}

// Get issues a GET operation expecting any non-error status.
func (c *Context) Get(name, url string) (*vuhttp.Response, error) {
	return c.Do(Op{Name: name, Method: http.MethodGet, URL: url})
}

// Post issues a POST operation with body.
func (c *Context) Post(name, url string, body any) (*vuhttp.Response, error) {
	return c.Do(Op{Name: name, Method: http.MethodPost, URL: url, Body: body})
}

// Put issues a PUT operation with body.
func (c *Context) Put(name, url string, body any) (*vuhttp.Response, error) {
	return c.Do(Op{Name: name, Method: http.MethodPut, URL: url, Body: body})
}

// Delete issues a DELETE operation.
func (c *Context) Delete(name, url string) (*vuhttp.Response, error) {
	return c.Do(Op{Name: name, Method: http.MethodDelete, URL: url})
}

// Check records a named check outside of any operation and returns ok.
func (c *Context) Check(name string, ok bool) bool {
	c.recordCheck(name, ok)
	return ok
}

// Record adds a sample to a custom metric. Recording a name with a kind
// other than the one it was created with ends the run.
func (c *Context) Record(name string, kind metrics.Kind, value float64) error {
	return c.exec.record(name, kind, value)
}

// Sleep pauses the virtual user for d, returning early with the context's
// error if the step is cancelled.
func (c *Context) Sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ctx.Done():
		return c.ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Context) recordCheck(name string, ok bool) {
	e := c.exec
	e.recordRate(metrics.Checks, ok)
	if c.group != "" {
		e.recordRate(metrics.Tagged(metrics.Checks, "group", c.group), ok)
	}
	if name != "" {
		e.recordRate(metrics.Tagged(metrics.Checks, "check", name), ok)
	}
}

// outcome records the operation-level success or failure.
func (c *Context) outcome(ok bool) {
	e := c.exec
	if ok {
		_ = e.record(e.names.Success, metrics.KindCounter, 1)
	} else {
		_ = e.record(e.names.Failure, metrics.KindCounter, 1)
		if e.abortOnError {
			c.aborted = true
		}
	}
	e.recordRate(e.names.ErrorRate, !ok)
}

func statusMatches(got, want int) bool {
	if want == 0 {
		return got < 400
	}
	return got == want
}

func statusCheckName(want int) string {
	if want == 0 {
		return "status < 400"
	}
	return fmt.Sprintf("status is %d", want)
}
