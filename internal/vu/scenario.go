// Package vu runs work units on behalf of virtual users.
//
// A Scenario supplies the three user-provided steps of a test. Setup runs
// once and its return value becomes the read-only test data handed to every
// iteration and to teardown. Iterate is the work unit each virtual user
// loops over.
package vu

// Scenario is the user-supplied behavior of a load test.
type Scenario interface {
	// Setup runs once before any iteration. Its result is shared read-only
	// with every iteration and with Teardown.
	Setup(c *Context) (any, error)

	// Iterate runs one work unit. It is called concurrently from every
	// virtual user.
	Iterate(c *Context) error

	// Teardown runs once after all virtual users have stopped.
	Teardown(c *Context) error
}

// ScenarioFuncs adapts plain functions to a Scenario. Nil functions are no-ops.
type ScenarioFuncs struct {
	SetupFunc    func(c *Context) (any, error)
	IterateFunc  func(c *Context) error
	TeardownFunc func(c *Context) error
}

func (s ScenarioFuncs) Setup(c *Context) (any, error) {
	if s.SetupFunc == nil {
		return nil, nil
	}
	return s.SetupFunc(c)
}

func (s ScenarioFuncs) Iterate(c *Context) error {
	if s.IterateFunc == nil {
		return nil
	}
	return s.IterateFunc(c)
}

func (s ScenarioFuncs) Teardown(c *Context) error {
	if s.TeardownFunc == nil {
		return nil
	}
	return s.TeardownFunc(c)
}
