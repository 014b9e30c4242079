package engine

import (
	"fmt"
	"time"
)

// State is a phase of a test run.
type State int

const (
	StateIdle State = iota
	StateSetup
	StateRunning
	StateTearingDown
	StateReported
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSetup:
		return "setup"
	case StateRunning:
		return "running"
	case StateTearingDown:
		return "tearing-down"
	case StateReported:
		return "reported"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateReported; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// Transition records entering a state.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// validNext lists the states reachable from each state. Setup may jump
// straight to Reported when it fails.
var validNext = map[State][]State{
	StateIdle:        {StateSetup},
	StateSetup:       {StateRunning, StateReported},
	StateRunning:     {StateTearingDown},
	StateTearingDown: {StateReported},
}

func canTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}
