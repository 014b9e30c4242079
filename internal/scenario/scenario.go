// Package scenario turns a declarative test file into a vu.Scenario.
package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wesleyorama2/vuload/internal/config"
	"github.com/wesleyorama2/vuload/internal/vu"
)

// Declarative runs the requests of a TestConfig. Setup returns Vars holding
// the file's variables, baseUrl and every value extracted during setup.
type Declarative struct {
	vars     Vars
	headers  map[string]string
	setup    *step
	iterate  *step
	teardown *step
	logger   zerolog.Logger
}

type step struct {
	name     string
	requests []*request
	groups   []*group
	sleep    time.Duration
}

type group struct {
	name     string
	requests []*request
}

type request struct {
	name         string
	method       string
	url          string
	headers      map[string]string
	body         string
	expectStatus int
	checks       []*check
	extract      []*extractor
	thinkTime    time.Duration
}

// Option configures a Declarative scenario.
type Option func(*Declarative)

// WithLogger sets the logger used for extraction failures and
// unresolved placeholders.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Declarative) { d.logger = l }
}

// New compiles cfg. Schemas and patterns are compiled once here so
// iterations only evaluate them.
func New(cfg *config.TestConfig, opts ...Option) (*Declarative, error) {
	if cfg == nil {
		return nil, errors.New("scenario: nil config")
	}

	d := &Declarative{
		vars:    Vars{},
		headers: cfg.Settings.Headers,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}

	for k, v := range cfg.Variables {
		d.vars[k] = v
	}
	if cfg.Settings.BaseURL != "" {
		d.vars["baseUrl"] = strings.TrimRight(cfg.Settings.BaseURL, "/")
	}

	var err error
	if d.setup, err = compileStep("setup", cfg.Setup); err != nil {
		return nil, err
	}
	if d.iterate, err = compileStep("iteration", &cfg.Iteration); err != nil {
		return nil, err
	}
	if d.teardown, err = compileStep("teardown", cfg.Teardown); err != nil {
		return nil, err
	}
	return d, nil
}

func compileStep(name string, cfg *config.StepConfig) (*step, error) {
	if cfg == nil {
		return nil, nil
	}
	s := &step{name: name, sleep: time.Duration(cfg.Sleep)}

	for i, rc := range cfg.Requests {
		r, err := compileRequest(rc)
		if err != nil {
			return nil, fmt.Errorf("%s.requests[%d]: %w", name, i, err)
		}
		s.requests = append(s.requests, r)
	}
	for i, gc := range cfg.Groups {
		g := &group{name: gc.Name}
		for j, rc := range gc.Requests {
			r, err := compileRequest(rc)
			if err != nil {
				return nil, fmt.Errorf("%s.groups[%d].requests[%d]: %w", name, i, j, err)
			}
			g.requests = append(g.requests, r)
		}
		s.groups = append(s.groups, g)
	}
	return s, nil
}

func compileRequest(cfg config.RequestConfig) (*request, error) {
	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = "GET"
	}
	r := &request{
		name:         cfg.Name,
		method:       method,
		url:          cfg.URL,
		headers:      cfg.Headers,
		body:         cfg.Body,
		expectStatus: cfg.ExpectStatus,
		thinkTime:    time.Duration(cfg.ThinkTime),
	}
	// The unexpanded URL keeps per-request trends from fanning out by id.
	if r.name == "" {
		r.name = method + " " + cfg.URL
	}

	for _, cc := range cfg.Checks {
		c, err := compileCheck(cc)
		if err != nil {
			return nil, err
		}
		r.checks = append(r.checks, c)
	}
	for _, ec := range cfg.Extract {
		x, err := compileExtractor(ec)
		if err != nil {
			return nil, err
		}
		r.extract = append(r.extract, x)
	}
	return r, nil
}

// Setup runs the setup requests and returns the variables visible to
// iterations and teardown. Any failed request fails setup.
func (d *Declarative) Setup(c *vu.Context) (any, error) {
	vars := d.vars.Clone()
	if d.setup == nil {
		return vars, nil
	}
	if err := d.run(c, d.setup, vars, true); err != nil {
		return nil, err
	}
	return vars, nil
}

// Iterate runs one pass over the iteration requests. Values extracted here
// are visible to later requests of the same iteration only.
func (d *Declarative) Iterate(c *vu.Context) error {
	vars := d.dataVars(c).Clone()
	vars.setIteration(c.VUID(), c.Iteration())
	return d.run(c, d.iterate, vars, false)
}

// Teardown runs the teardown requests with the setup variables.
func (d *Declarative) Teardown(c *vu.Context) error {
	if d.teardown == nil {
		return nil
	}
	return d.run(c, d.teardown, d.dataVars(c).Clone(), true)
}

func (d *Declarative) dataVars(c *vu.Context) Vars {
	if vars, ok := c.Data().(Vars); ok {
		return vars
	}
	return d.vars
}

// run executes a step. With failFast the first failed request ends the
// step; otherwise every request runs and the failures are joined.
func (d *Declarative) run(c *vu.Context, s *step, vars Vars, failFast bool) error {
	var errs []error

	for _, r := range s.requests {
		if err := d.do(c, r, vars); err != nil {
			if failFast || stopped(c, err) {
				return err
			}
			errs = append(errs, err)
		}
	}

	for _, g := range s.groups {
		gerr := c.Group(g.name, func(c *vu.Context) error {
			var gerrs []error
			for _, r := range g.requests {
				if err := d.do(c, r, vars); err != nil {
					if failFast || stopped(c, err) {
						return err
					}
					gerrs = append(gerrs, err)
				}
			}
			return errors.Join(gerrs...)
		})
		if gerr != nil {
			if failFast || stopped(c, gerr) {
				return gerr
			}
			errs = append(errs, gerr)
		}
	}

	if err := c.Sleep(s.sleep); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (d *Declarative) do(c *vu.Context, r *request, vars Vars) error {
	url := vars.Expand(r.url)
	if missing := vars.Unresolved(url); len(missing) > 0 {
		d.logger.Debug().Strs("vars", missing).Str("request", r.name).Msg("unresolved placeholders")
	}

	op := vu.Op{
		Name:         r.name,
		Method:       r.method,
		URL:          url,
		Headers:      mergeHeaders(vars.ExpandMap(d.headers), vars.ExpandMap(r.headers)),
		ExpectStatus: r.expectStatus,
	}
	if r.body != "" {
		op.Body = vars.Expand(r.body)
	}
	for _, chk := range r.checks {
		op.Checks = append(op.Checks, chk.bind(vars))
	}

	resp, err := c.Do(op)
	if resp != nil {
		for _, x := range r.extract {
			v, xerr := x.extract(resp)
			c.Check("extract "+x.name, xerr == nil)
			if xerr != nil {
				d.logger.Warn().Err(xerr).Int("vu", c.VUID()).Str("request", r.name).Msg("extraction failed")
				err = errors.Join(err, xerr)
				continue
			}
			vars[x.name] = v
		}
	}
	if err != nil {
		return err
	}
	return c.Sleep(r.thinkTime)
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 {
		return override
	}
	out := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// stopped reports whether the rest of the step must be skipped: the
// iteration was aborted or its context is done.
func stopped(c *vu.Context, err error) bool {
	return errors.Is(err, vu.ErrIterationAborted) || c.Context().Err() != nil
}
