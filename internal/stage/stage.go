// Package stage converts a ramp profile into a time-varying target concurrency.
package stage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Stage is one step of a ramp profile.
type Stage struct {
	// Duration of this stage; zero means the target is applied instantly
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Target concurrency at the end of the stage
	Target int `json:"target" yaml:"target"`

	// Optional name for this stage (for reporting)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// Phase describes the load trend of the stage in progress.
type Phase string

const (
	PhaseRampUp   Phase = "ramp-up"
	PhaseSteady   Phase = "steady"
	PhaseRampDown Phase = "ramp-down"
	PhaseDone     Phase = "done"
)

var (
	// ErrEmptyProfile is returned by Validate for a profile without stages.
	ErrEmptyProfile = errors.New("ramp profile has no stages")

	// ErrZeroDuration is returned by Validate when every stage is a step.
	// Such a profile ends before the first target is applied.
	ErrZeroDuration = errors.New("ramp profile has zero total duration")
)

// Profile is an ordered list of stages.
//
// The target at elapsed time t is interpolated linearly from the previous
// stage's target (StartTarget for the first stage) to the current stage's
// target over the stage's duration:
//
//	stages:
//	  - duration: 30s
//	    target: 10     # ramp from 0 to 10 over 30s
//	  - duration: 0s
//	    target: 50     # jump to 50 immediately
//	  - duration: 2m
//	    target: 50     # hold 50 for 2 minutes
type Profile struct {
	Stages      []Stage `json:"stages" yaml:"stages"`
	StartTarget int     `json:"startTarget,omitempty" yaml:"startTarget,omitempty"`
}

// NewProfile creates a profile starting from zero.
func NewProfile(stages ...Stage) Profile {
	return Profile{Stages: stages}
}

// Validate checks that the profile has stages, no negative values and a
// non-zero total duration.
func (p Profile) Validate() error {
	if len(p.Stages) == 0 {
		return ErrEmptyProfile
	}
	if p.StartTarget < 0 {
		return fmt.Errorf("start target must be >= 0, got %d", p.StartTarget)
	}
	for i, s := range p.Stages {
		if s.Duration < 0 {
			return fmt.Errorf("stage %d: duration must be >= 0, got %s", i+1, s.Duration)
		}
		if s.Target < 0 {
			return fmt.Errorf("stage %d: target must be >= 0, got %d", i+1, s.Target)
		}
	}
	if p.Total() == 0 {
		return ErrZeroDuration
	}
	return nil
}

// Total returns the length of the active phase.
func (p Profile) Total() time.Duration {
	var total time.Duration
	for _, s := range p.Stages {
		total += s.Duration
	}
	return total
}

// Max returns the highest target the profile can reach.
func (p Profile) Max() int {
	max := p.StartTarget
	for _, s := range p.Stages {
		if s.Target > max {
			max = s.Target
		}
	}
	return max
}

// TargetAt returns the target concurrency at elapsed time t and whether the
// active phase has ended. After the end, the last stage's target is returned.
func (p Profile) TargetAt(t time.Duration) (target int, done bool) {
	target, _, done = p.at(t)
	return target, done
}

// StageAt returns the index of the stage in progress at t, or len(Stages)
// once the profile is exhausted.
func (p Profile) StageAt(t time.Duration) int {
	_, idx, _ := p.at(t)
	return idx
}

// PhaseAt returns whether load is rising, steady or falling at t.
func (p Profile) PhaseAt(t time.Duration) Phase {
	_, idx, done := p.at(t)
	if done {
		return PhaseDone
	}

	prev := p.StartTarget
	if idx > 0 {
		prev = p.Stages[idx-1].Target
	}
	switch cur := p.Stages[idx].Target; {
	case cur > prev:
		return PhaseRampUp
	case cur < prev:
		return PhaseRampDown
	default:
		return PhaseSteady
	}
}

func (p Profile) at(t time.Duration) (target, idx int, done bool) {
	if t < 0 {
		t = 0
	}

	var stageStart time.Duration
	prev := p.StartTarget

	for i, s := range p.Stages {
		stageEnd := stageStart + s.Duration

		// Zero-duration stages never satisfy t < stageEnd, so their target
		// is applied as a step when the loop moves past them.
		if t < stageEnd {
			progress := float64(t-stageStart) / float64(s.Duration)
			v := float64(prev) + float64(s.Target-prev)*progress
			return int(v + 0.5), i, false
		}

		prev = s.Target
		stageStart = stageEnd
	}

	return prev, len(p.Stages), true
}

// ParseStages parses the compact CLI format "30s:10,1m:10,0s:50".
func ParseStages(s string) ([]Stage, error) {
	var stages []Stage

	parts := strings.Split(s, ",")
	for i, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		colonIdx := strings.LastIndex(part, ":")
		if colonIdx == -1 {
			return nil, fmt.Errorf("stage %d: expected 'duration:target' format, got '%s'", i+1, part)
		}

		d, err := time.ParseDuration(part[:colonIdx])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid duration '%s': %w", i+1, part[:colonIdx], err)
		}

		target, err := strconv.Atoi(part[colonIdx+1:])
		if err != nil {
			return nil, fmt.Errorf("stage %d: invalid target '%s': %w", i+1, part[colonIdx+1:], err)
		}

		stages = append(stages, Stage{
			Duration: d,
			Target:   target,
			Name:     fmt.Sprintf("stage-%d", i+1),
		})
	}

	if len(stages) == 0 {
		return nil, ErrEmptyProfile
	}
	return stages, nil
}
