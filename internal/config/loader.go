package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/vuload/internal/scheduler"
	"github.com/wesleyorama2/vuload/internal/stage"
	"github.com/wesleyorama2/vuload/internal/threshold"
	"github.com/wesleyorama2/vuload/internal/vu"
)

// DefaultTimeout is the request timeout used when settings.timeout is unset.
const DefaultTimeout = 30 * time.Second

// LoadConfig reads, parses, defaults and validates a test file.
//
// The format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}

	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseConfig parses configuration data without defaulting or validating.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a Go duration ("30s", "1m30s") or a bare
// number of seconds ("30").
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in unset values.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Name == "" {
		cfg.Name = "load test"
	}
	if cfg.Settings.Timeout == 0 {
		cfg.Settings.Timeout = Duration(DefaultTimeout)
	}

	steps := []*StepConfig{cfg.Setup, &cfg.Iteration, cfg.Teardown}
	for _, step := range steps {
		if step == nil {
			continue
		}
		defaultRequests(step.Requests)
		for i := range step.Groups {
			defaultRequests(step.Groups[i].Requests)
		}
	}
}

func defaultRequests(reqs []RequestConfig) {
	for i := range reqs {
		r := &reqs[i]
		if r.Method == "" {
			r.Method = "GET"
		}
		r.Method = strings.ToUpper(r.Method)
		for j := range r.Checks {
			if r.Checks[j].Name == "" {
				r.Checks[j].Name = defaultCheckName(r.Checks[j])
			}
		}
	}
}

func defaultCheckName(c CheckConfig) string {
	parts := []string{c.Type}
	if c.Path != "" {
		parts = append(parts, c.Path)
	}
	if c.Condition != "" {
		parts = append(parts, c.Condition)
	}
	if c.Value != "" {
		parts = append(parts, c.Value)
	}
	return strings.Join(parts, " ")
}

// Profile returns the ramp profile. The vus/duration shorthand becomes a
// step to vus followed by a flat stage.
func (c *TestConfig) Profile() stage.Profile {
	if len(c.Stages) == 0 {
		return stage.NewProfile(
			stage.Stage{Duration: 0, Target: c.VUs},
			stage.Stage{Duration: time.Duration(c.Duration), Target: c.VUs},
		)
	}

	stages := make([]stage.Stage, 0, len(c.Stages))
	for i, s := range c.Stages {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("stage-%d", i+1)
		}
		stages = append(stages, stage.Stage{
			Duration: time.Duration(s.Duration),
			Target:   s.Target,
			Name:     name,
		})
	}
	return stage.NewProfile(stages...)
}

// ThresholdList parses every threshold, ordered by metric name.
func (c *TestConfig) ThresholdList() ([]threshold.Threshold, error) {
	metrics := make([]string, 0, len(c.Thresholds))
	for m := range c.Thresholds {
		metrics = append(metrics, m)
	}
	sort.Strings(metrics)

	var out []threshold.Threshold
	for _, metric := range metrics {
		for _, entry := range c.Thresholds[metric] {
			expr, err := threshold.ParseFor(metric, entry.Threshold)
			if err != nil {
				return nil, err
			}
			out = append(out, threshold.Threshold{
				Expression:     expr,
				AbortOnFail:    entry.AbortOnFail,
				DelayAbortEval: time.Duration(entry.DelayAbortEval),
			})
		}
	}
	return out, nil
}

// Pacing returns the scheduler pacing.
func (c *TestConfig) Pacing() scheduler.Pacing {
	p := c.Options.Pacing
	if p == nil {
		return scheduler.Pacing{Type: scheduler.PacingNone}
	}
	return scheduler.Pacing{
		Type:     scheduler.PacingType(strings.ToLower(p.Type)),
		Duration: time.Duration(p.Duration),
		Min:      time.Duration(p.Min),
		Max:      time.Duration(p.Max),
	}
}

// MetricNames returns the outcome metric names; unset names keep defaults.
func (c *TestConfig) MetricNames() vu.MetricNames {
	m := c.Options.Metrics
	return vu.MetricNames{
		ResponseTime: m.ResponseTime,
		Success:      m.Success,
		Failure:      m.Failure,
		ErrorRate:    m.ErrorRate,
	}
}
