package stage

import (
	"errors"
	"testing"
	"time"
)

func TestTargetAt_Interpolation(t *testing.T) {
	p := NewProfile(
		Stage{Duration: 20 * time.Second, Target: 30},
		Stage{Duration: 60 * time.Second, Target: 100},
		Stage{Duration: 20 * time.Second, Target: 30},
	)

	tests := []struct {
		elapsed time.Duration
		want    int
		done    bool
	}{
		{0, 0, false},
		{10 * time.Second, 15, false},
		{20 * time.Second, 30, false},
		{50 * time.Second, 65, false},
		{80 * time.Second, 100, false},
		{90 * time.Second, 65, false},
		{100 * time.Second, 30, true},
		{5 * time.Minute, 30, true},
	}

	for _, tt := range tests {
		got, done := p.TargetAt(tt.elapsed)
		if got != tt.want || done != tt.done {
			t.Errorf("TargetAt(%s) = (%d, %v), want (%d, %v)", tt.elapsed, got, done, tt.want, tt.done)
		}
	}
}

func TestTargetAt_ZeroDurationStep(t *testing.T) {
	p := NewProfile(
		Stage{Duration: 10 * time.Second, Target: 10},
		Stage{Duration: 0, Target: 50},
		Stage{Duration: 10 * time.Second, Target: 50},
	)

	if got, _ := p.TargetAt(9 * time.Second); got != 9 {
		t.Errorf("TargetAt(9s) = %d, want 9", got)
	}
	if got, _ := p.TargetAt(10 * time.Second); got != 50 {
		t.Errorf("TargetAt(10s) = %d, want 50 right after the step", got)
	}
	if idx := p.StageAt(10 * time.Second); idx != 2 {
		t.Errorf("StageAt(10s) = %d, want 2", idx)
	}
}

func TestTargetAt_StartTarget(t *testing.T) {
	p := Profile{
		StartTarget: 10,
		Stages:      []Stage{{Duration: 10 * time.Second, Target: 0}},
	}

	if got, _ := p.TargetAt(0); got != 10 {
		t.Errorf("TargetAt(0) = %d, want 10", got)
	}
	if got, _ := p.TargetAt(5 * time.Second); got != 5 {
		t.Errorf("TargetAt(5s) = %d, want 5", got)
	}
}

func TestTargetAt_NeverExceedsMax(t *testing.T) {
	p := NewProfile(
		Stage{Duration: 3 * time.Second, Target: 7},
		Stage{Duration: 7 * time.Second, Target: 3},
		Stage{Duration: 0, Target: 11},
		Stage{Duration: 5 * time.Second, Target: 0},
	)
	max := p.Max()
	if max != 11 {
		t.Fatalf("Max() = %d, want 11", max)
	}

	for el := time.Duration(0); el <= p.Total()+time.Second; el += 37 * time.Millisecond {
		if got, _ := p.TargetAt(el); got < 0 || got > max {
			t.Fatalf("TargetAt(%s) = %d, outside [0, %d]", el, got, max)
		}
	}
}

func TestPhaseAt(t *testing.T) {
	p := NewProfile(
		Stage{Duration: 10 * time.Second, Target: 10},
		Stage{Duration: 10 * time.Second, Target: 10},
		Stage{Duration: 10 * time.Second, Target: 0},
	)

	tests := []struct {
		elapsed time.Duration
		want    Phase
	}{
		{time.Second, PhaseRampUp},
		{15 * time.Second, PhaseSteady},
		{25 * time.Second, PhaseRampDown},
		{31 * time.Second, PhaseDone},
	}
	for _, tt := range tests {
		if got := p.PhaseAt(tt.elapsed); got != tt.want {
			t.Errorf("PhaseAt(%s) = %s, want %s", tt.elapsed, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := (Profile{}).Validate(); !errors.Is(err, ErrEmptyProfile) {
		t.Errorf("empty profile: got %v, want ErrEmptyProfile", err)
	}
	if err := NewProfile(Stage{Duration: -time.Second, Target: 1}).Validate(); err == nil {
		t.Error("expected error for negative duration")
	}
	if err := NewProfile(Stage{Duration: time.Second, Target: -1}).Validate(); err == nil {
		t.Error("expected error for negative target")
	}
	if err := NewProfile(Stage{Duration: 0, Target: 5}, Stage{Duration: time.Second, Target: 5}).Validate(); err != nil {
		t.Errorf("zero-duration step followed by a hold should be valid: %v", err)
	}
	if err := NewProfile(Stage{Duration: 0, Target: 50}).Validate(); !errors.Is(err, ErrZeroDuration) {
		t.Errorf("step-only profile: got %v, want ErrZeroDuration", err)
	}
	if err := NewProfile(Stage{Duration: 0, Target: 10}, Stage{Duration: 0, Target: 0}).Validate(); !errors.Is(err, ErrZeroDuration) {
		t.Errorf("two steps: got %v, want ErrZeroDuration", err)
	}
}

func TestTotal(t *testing.T) {
	p := NewProfile(
		Stage{Duration: 30 * time.Second, Target: 10},
		Stage{Duration: 0, Target: 20},
		Stage{Duration: time.Minute, Target: 20},
	)
	if got := p.Total(); got != 90*time.Second {
		t.Errorf("Total() = %s, want 1m30s", got)
	}
}

func TestParseStages(t *testing.T) {
	stages, err := ParseStages("30s:10, 1m:10,0s:50")
	if err != nil {
		t.Fatalf("ParseStages() error: %v", err)
	}
	if len(stages) != 3 {
		t.Fatalf("got %d stages, want 3", len(stages))
	}
	if stages[1].Duration != time.Minute || stages[1].Target != 10 {
		t.Errorf("stage 2 = %+v", stages[1])
	}
	if stages[2].Duration != 0 || stages[2].Target != 50 {
		t.Errorf("stage 3 = %+v", stages[2])
	}

	for _, bad := range []string{"", "30s", "abc:10", "30s:ten"} {
		if _, err := ParseStages(bad); err == nil {
			t.Errorf("ParseStages(%q) expected error", bad)
		}
	}
}
