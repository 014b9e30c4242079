// Package metrics provides the thread-safe metrics registry for load tests.
package metrics

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies how a metric accumulates its samples.
type Kind int

const (
	// KindTrend keeps a distribution: count, min, max, mean and percentiles.
	KindTrend Kind = iota + 1
	// KindCounter keeps a cumulative sum.
	KindCounter
	// KindGauge keeps the last recorded value.
	KindGauge
	// KindRate keeps the fraction of non-zero samples.
	KindRate
)

func (k Kind) String() string {
	switch k {
	case KindTrend:
		return "trend"
	case KindCounter:
		return "counter"
	case KindGauge:
		return "gauge"
	case KindRate:
		return "rate"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind parses a kind name ("trend", "counter", "gauge", "rate").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trend":
		return KindTrend, nil
	case "counter":
		return KindCounter, nil
	case "gauge":
		return KindGauge, nil
	case "rate":
		return KindRate, nil
	default:
		return 0, fmt.Errorf("unknown metric kind: %q", s)
	}
}

var (
	// ErrKindMismatch is returned when a sample is recorded with a kind
	// different from the one the metric was created with.
	ErrKindMismatch = errors.New("metric kind mismatch")

	// ErrInvalidValue is returned for NaN or infinite samples.
	ErrInvalidValue = errors.New("invalid metric value")
)

// KindMismatchError describes a kind mismatch on a specific metric.
type KindMismatchError struct {
	Metric string
	Have   Kind
	Want   Kind
}

func (e *KindMismatchError) Error() string {
	return fmt.Sprintf("metric %q is a %s, cannot record it as a %s", e.Metric, e.Have, e.Want)
}

// Is reports whether target is ErrKindMismatch.
func (e *KindMismatchError) Is(target error) bool {
	return target == ErrKindMismatch
}

// Tagged returns the name of a sub-metric, e.g. Tagged("checks", "group", "login")
// yields "checks{group:login}".
func Tagged(name, key, value string) string {
	return name + "{" + key + ":" + value + "}"
}

// Builtin metric names recorded by the engine.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqDuration   = "http_req_duration"
	HTTPReqFailed     = "http_req_failed"
	DataReceived      = "data_received"
	Checks            = "checks"
	Iterations        = "iterations"
	IterationDuration = "iteration_duration"
	GroupDuration     = "group_duration"
	VUs               = "vus"
	VUsMax            = "vus_max"
)
