package engine

import (
	"time"

	"github.com/wesleyorama2/vuload/internal/metrics"
	"github.com/wesleyorama2/vuload/internal/threshold"
)

// GroupSummary counts check outcomes in one group.
type GroupSummary struct {
	Group  string `json:"group"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Result is the outcome of a run.
type Result struct {
	States    []Transition  `json:"states"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Snapshot   *metrics.Snapshot  `json:"metrics"`
	Thresholds []threshold.Result `json:"thresholds"`
	Groups     []GroupSummary     `json:"groups,omitempty"`
	Iterations int64              `json:"iterations"`

	SetupError    error `json:"-"`
	TeardownError error `json:"-"`
	FatalError    error `json:"-"`

	// Aborted is set when an abort-on-fail threshold stopped the run.
	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abortReason,omitempty"`

	// Interrupted is set when the caller cancelled the run.
	Interrupted bool `json:"interrupted"`

	Passed bool `json:"passed"`
}

// ExitCode returns the process exit code for the verdict.
func (r *Result) ExitCode() int {
	if r.Passed {
		return 0
	}
	return 1
}

// FailedThresholds returns the thresholds that did not pass.
func (r *Result) FailedThresholds() []threshold.Result {
	return threshold.Failed(r.Thresholds)
}

// FailedGroups returns the groups with at least one failed check.
func (r *Result) FailedGroups() []GroupSummary {
	var failed []GroupSummary
	for _, g := range r.Groups {
		if g.Fails > 0 {
			failed = append(failed, g)
		}
	}
	return failed
}

// FinalState returns the last state entered.
func (r *Result) FinalState() State {
	if len(r.States) == 0 {
		return StateIdle
	}
	return r.States[len(r.States)-1].State
}
