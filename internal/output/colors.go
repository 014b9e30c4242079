// Package output renders run progress and the end-of-run summary on a
// terminal.
package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for the different parts of the output.
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Dim       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Label:     color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Pass:      color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Fail:      color.New(color.FgRed, color.Bold),
		Dim:       color.New(color.Faint),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.DisableColor()
	}
	return s
}

// ForcedColorScheme returns the default scheme with colors enabled even
// when the process is not attached to a terminal.
func ForcedColorScheme() *ColorScheme {
	s := DefaultColorScheme()
	for _, c := range s.all() {
		c.EnableColor()
	}
	return s
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{s.Title, s.Label, s.Value, s.Pass, s.Warn, s.Fail, s.Dim, s.Highlight}
}

// PassIcon returns a colored checkmark.
func (s *ColorScheme) PassIcon() string {
	return s.Pass.Sprint("✓")
}

// FailIcon returns a colored cross.
func (s *ColorScheme) FailIcon() string {
	return s.Fail.Sprint("✗")
}

// Icon returns PassIcon or FailIcon.
func (s *ColorScheme) Icon(ok bool) string {
	if ok {
		return s.PassIcon()
	}
	return s.FailIcon()
}

// RateColor picks a color for an error fraction: green below 1%, yellow
// below 5%, red above.
func (s *ColorScheme) RateColor(errorRate float64) *color.Color {
	switch {
	case errorRate > 0.05:
		return s.Fail
	case errorRate > 0.01:
		return s.Warn
	default:
		return s.Pass
	}
}
