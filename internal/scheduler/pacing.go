package scheduler

import (
	"fmt"
	"math/rand"
	"time"
)

// PacingType controls the pause between iterations of one virtual user.
type PacingType string

const (
	// PacingNone starts the next iteration immediately.
	PacingNone PacingType = "none"
	// PacingConstant waits a fixed Duration.
	PacingConstant PacingType = "constant"
	// PacingRandom waits a uniformly random time in [Min, Max).
	PacingRandom PacingType = "random"
)

// Pacing configures think time between iterations.
type Pacing struct {
	Type     PacingType    `json:"type" yaml:"type"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      time.Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      time.Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// Validate checks the pacing configuration.
func (p Pacing) Validate() error {
	switch p.Type {
	case "", PacingNone:
		return nil
	case PacingConstant:
		if p.Duration < 0 {
			return fmt.Errorf("pacing duration must be >= 0, got %s", p.Duration)
		}
	case PacingRandom:
		if p.Min < 0 || p.Max < p.Min {
			return fmt.Errorf("pacing range must satisfy 0 <= min <= max, got [%s, %s]", p.Min, p.Max)
		}
	default:
		return fmt.Errorf("unknown pacing type %q (must be none, constant or random)", p.Type)
	}
	return nil
}

// Next returns the pause before the next iteration.
func (p Pacing) Next() time.Duration {
	switch p.Type {
	case PacingConstant:
		return p.Duration
	case PacingRandom:
		diff := p.Max - p.Min
		if diff > 0 {
			return p.Min + time.Duration(rand.Int63n(int64(diff)))
		}
		return p.Min
	default:
		return 0
	}
}
