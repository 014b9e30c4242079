// Package config defines the declarative test file and turns it into
// engine inputs.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TestConfig is the root of a test file.
//
// Example YAML:
//
//	name: "Posts API"
//	settings:
//	  baseUrl: "https://jsonplaceholder.typicode.com"
//	stages:
//	  - {duration: 20s, target: 30}
//	  - {duration: 60s, target: 100}
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	iteration:
//	  groups:
//	    - name: GET Posts
//	      requests:
//	        - method: GET
//	          url: "{{baseUrl}}/posts"
//	          expectStatus: 200
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Settings  Settings          `json:"settings,omitempty" yaml:"settings,omitempty"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`
	Options   Options           `json:"options,omitempty" yaml:"options,omitempty"`

	// Stages is the ramp profile. VUs and Duration are a shorthand for a
	// single flat stage and cannot be combined with Stages.
	Stages   []StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`
	VUs      int           `json:"vus,omitempty" yaml:"vus,omitempty"`
	Duration Duration      `json:"duration,omitempty" yaml:"duration,omitempty"`

	// Thresholds maps a metric name to its threshold expressions.
	Thresholds map[string][]ThresholdEntry `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Setup     *StepConfig `json:"setup,omitempty" yaml:"setup,omitempty"`
	Iteration StepConfig  `json:"iteration" yaml:"iteration"`
	Teardown  *StepConfig `json:"teardown,omitempty" yaml:"teardown,omitempty"`
}

// Settings are HTTP settings shared by every request.
type Settings struct {
	BaseURL            string            `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Timeout            Duration          `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Headers            map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	UserAgent          string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	InsecureSkipVerify bool              `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// MaxConnsPerHost sizes the idle connection pool per host
	MaxConnsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`

	// MaxRPS caps the request rate across all virtual users; 0 is unlimited
	MaxRPS float64 `json:"maxRps,omitempty" yaml:"maxRps,omitempty"`
}

// Options control the run lifecycle.
type Options struct {
	SetupTimeout    Duration      `json:"setupTimeout,omitempty" yaml:"setupTimeout,omitempty"`
	TeardownTimeout Duration      `json:"teardownTimeout,omitempty" yaml:"teardownTimeout,omitempty"`
	GracefulStop    Duration      `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`
	Tick            Duration      `json:"tick,omitempty" yaml:"tick,omitempty"`
	WatchInterval   Duration      `json:"watchInterval,omitempty" yaml:"watchInterval,omitempty"`
	AbortOnError    bool          `json:"abortOnError,omitempty" yaml:"abortOnError,omitempty"`
	Pacing          *PacingConfig `json:"pacing,omitempty" yaml:"pacing,omitempty"`
	Metrics         MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// MetricsConfig renames the outcome metrics recorded for every request.
type MetricsConfig struct {
	ResponseTime string `json:"responseTime,omitempty" yaml:"responseTime,omitempty"`
	Success      string `json:"success,omitempty" yaml:"success,omitempty"`
	Failure      string `json:"failure,omitempty" yaml:"failure,omitempty"`
	ErrorRate    string `json:"errorRate,omitempty" yaml:"errorRate,omitempty"`
}

// PacingConfig controls pacing between iterations.
type PacingConfig struct {
	// Type is the pacing strategy: "none", "constant", "random"
	Type     string   `json:"type" yaml:"type"`
	Duration Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Min      Duration `json:"min,omitempty" yaml:"min,omitempty"`
	Max      Duration `json:"max,omitempty" yaml:"max,omitempty"`
}

// StageConfig is one stage of the ramp profile.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// ThresholdEntry is one threshold expression. In a file it is either a
// plain string or a mapping with abort options:
//
//	thresholds:
//	  http_req_duration: ["p(95)<500"]
//	  error_rate:
//	    - threshold: "rate<0.05"
//	      abortOnFail: true
//	      delayAbortEval: 10s
type ThresholdEntry struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

// UnmarshalYAML accepts a scalar or a mapping.
func (t *ThresholdEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = ThresholdEntry{Threshold: node.Value}
		return nil
	}
	type plain ThresholdEntry
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = ThresholdEntry(p)
	return nil
}

// UnmarshalJSON accepts a string or an object.
func (t *ThresholdEntry) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdEntry{Threshold: s}
		return nil
	}
	type plain ThresholdEntry
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*t = ThresholdEntry(p)
	return nil
}

// StepConfig is the body of setup, iteration or teardown. Top-level
// requests run first, then each group in order.
type StepConfig struct {
	Requests []RequestConfig `json:"requests,omitempty" yaml:"requests,omitempty"`
	Groups   []GroupConfig   `json:"groups,omitempty" yaml:"groups,omitempty"`

	// Sleep is think time at the end of the step
	Sleep Duration `json:"sleep,omitempty" yaml:"sleep,omitempty"`
}

// RequestCount returns the number of requests in the step.
func (s *StepConfig) RequestCount() int {
	if s == nil {
		return 0
	}
	n := len(s.Requests)
	for _, g := range s.Groups {
		n += len(g.Requests)
	}
	return n
}

// GroupConfig is a named list of requests.
type GroupConfig struct {
	Name     string          `json:"name" yaml:"name"`
	Requests []RequestConfig `json:"requests" yaml:"requests"`
}

// RequestConfig defines a single HTTP request.
type RequestConfig struct {
	// Name for this request (used in metrics)
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Method  string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Body is sent as is after variable substitution
	Body string `json:"body,omitempty" yaml:"body,omitempty"`

	// ExpectStatus is the status that counts as success; 0 accepts < 400
	ExpectStatus int `json:"expectStatus,omitempty" yaml:"expectStatus,omitempty"`

	Checks  []CheckConfig   `json:"checks,omitempty" yaml:"checks,omitempty"`
	Extract []ExtractConfig `json:"extract,omitempty" yaml:"extract,omitempty"`

	// ThinkTime is wait time after this request
	ThinkTime Duration `json:"thinkTime,omitempty" yaml:"thinkTime,omitempty"`
}

// CheckConfig defines a response check.
type CheckConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is one of status, body, header, jsonpath, schema, duration
	Type string `json:"type" yaml:"type"`

	// Condition is the comparison: eq, ne, gt, lt, gte, lte, contains,
	// matches or exists
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	Value string `json:"value,omitempty" yaml:"value,omitempty"`

	// Path is the JSONPath for jsonpath checks and the header name for
	// header checks
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Schema is an inline JSON schema for schema checks
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// ExtractConfig defines how to extract a variable from a response.
type ExtractConfig struct {
	Name string `json:"name" yaml:"name"`

	// Source is where to extract from: "body", "header", "status"
	Source string `json:"source" yaml:"source"`

	// Path is the JSONPath for body, the header name for header
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Regex optionally narrows the extracted value to its first capture group
	Regex string `json:"regex,omitempty" yaml:"regex,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}

	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
