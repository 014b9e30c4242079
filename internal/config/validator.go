package config

import (
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/wesleyorama2/vuload/internal/threshold"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

var (
	validMethods = map[string]bool{
		http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
		http.MethodPatch: true, http.MethodDelete: true, http.MethodHead: true,
		http.MethodOptions: true,
	}

	validCheckTypes = map[string]bool{
		"status": true, "body": true, "header": true,
		"jsonpath": true, "schema": true, "duration": true,
	}

	validConditions = map[string]bool{
		"eq": true, "ne": true, "gt": true, "lt": true, "gte": true, "lte": true,
		"contains": true, "matches": true, "exists": true,
	}

	validSources = map[string]bool{"body": true, "header": true, "status": true}
)

// Validate validates the entire test configuration.
//
// Returns nil if valid, or a *ValidationErrors containing all problems.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateLoad(c, errs)
	validateSettings(&c.Settings, errs)
	validateOptions(&c.Options, errs)
	validateThresholds(c.Thresholds, errs)

	if c.Iteration.RequestCount() == 0 {
		errs.Add("iteration", "at least one request is required")
	}

	hasBase := c.Settings.BaseURL != ""
	if c.Setup != nil {
		validateStep("setup", c.Setup, hasBase, errs)
	}
	validateStep("iteration", &c.Iteration, hasBase, errs)
	if c.Teardown != nil {
		validateStep("teardown", c.Teardown, hasBase, errs)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateLoad(c *TestConfig, errs *ValidationErrors) {
	switch {
	case len(c.Stages) > 0 && (c.VUs > 0 || c.Duration > 0):
		errs.Add("stages", "use either stages or vus/duration, not both")
	case len(c.Stages) == 0 && c.VUs <= 0:
		errs.Add("stages", "either stages or vus and duration are required")
	case len(c.Stages) == 0 && c.Duration <= 0:
		errs.Add("duration", "duration must be greater than 0 when vus is set")
	}

	maxTarget := 0
	var total time.Duration
	for i, s := range c.Stages {
		total += time.Duration(s.Duration)
		field := fmt.Sprintf("stages[%d]", i)
		if s.Duration < 0 {
			errs.Add(field+".duration", "duration must be >= 0")
		}
		if s.Target < 0 {
			errs.Add(field+".target", "target must be >= 0")
		}
		if s.Target > maxTarget {
			maxTarget = s.Target
		}
	}
	if len(c.Stages) > 0 && maxTarget == 0 {
		errs.Add("stages", "at least one stage must have a target greater than 0")
	}
	if len(c.Stages) > 0 && total == 0 {
		errs.Add("stages", "total stage duration must be greater than 0")
	}
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs.Add("settings.baseUrl", fmt.Sprintf("must be an absolute http(s) URL, got %q", s.BaseURL))
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout must be >= 0")
	}
	if s.MaxRPS < 0 {
		errs.Add("settings.maxRps", "maxRps must be >= 0")
	}
	if s.MaxConnsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "must be >= 0")
	}
}

func validateOptions(o *Options, errs *ValidationErrors) {
	durations := map[string]Duration{
		"options.setupTimeout":    o.SetupTimeout,
		"options.teardownTimeout": o.TeardownTimeout,
		"options.gracefulStop":    o.GracefulStop,
		"options.tick":            o.Tick,
		"options.watchInterval":   o.WatchInterval,
	}
	for field, d := range durations {
		if d < 0 {
			errs.Add(field, "must be >= 0")
		}
	}

	if o.Pacing != nil {
		cfg := TestConfig{Options: Options{Pacing: o.Pacing}}
		if err := cfg.Pacing().Validate(); err != nil {
			errs.Add("options.pacing", err.Error())
		}
	}
}

func validateThresholds(thresholds map[string][]ThresholdEntry, errs *ValidationErrors) {
	for metric, entries := range thresholds {
		if len(entries) == 0 {
			errs.Add("thresholds."+metric, "at least one expression is required")
		}
		for i, entry := range entries {
			if _, err := threshold.ParseFor(metric, entry.Threshold); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
			if entry.DelayAbortEval < 0 {
				errs.Add(fmt.Sprintf("thresholds.%s[%d].delayAbortEval", metric, i), "must be >= 0")
			}
		}
	}
}

func validateStep(prefix string, s *StepConfig, hasBase bool, errs *ValidationErrors) {
	for i := range s.Requests {
		validateRequest(fmt.Sprintf("%s.requests[%d]", prefix, i), &s.Requests[i], hasBase, errs)
	}
	for i, g := range s.Groups {
		gp := fmt.Sprintf("%s.groups[%d]", prefix, i)
		if g.Name == "" {
			errs.Add(gp+".name", "group name is required")
		}
		if len(g.Requests) == 0 {
			errs.Add(gp+".requests", "at least one request is required")
		}
		for j := range g.Requests {
			validateRequest(fmt.Sprintf("%s.requests[%d]", gp, j), &g.Requests[j], hasBase, errs)
		}
	}
	if s.Sleep < 0 {
		errs.Add(prefix+".sleep", "must be >= 0")
	}
}

func validateRequest(prefix string, r *RequestConfig, hasBase bool, errs *ValidationErrors) {
	if r.URL == "" {
		errs.Add(prefix+".url", "url is required")
	} else if !hasBase && !strings.Contains(r.URL, "{{") &&
		!strings.HasPrefix(r.URL, "http://") && !strings.HasPrefix(r.URL, "https://") {
		errs.Add(prefix+".url", "relative url requires settings.baseUrl")
	}

	if r.Method != "" && !validMethods[strings.ToUpper(r.Method)] {
		errs.Add(prefix+".method", fmt.Sprintf("unsupported method %q", r.Method))
	}
	if r.ExpectStatus != 0 && (r.ExpectStatus < 100 || r.ExpectStatus > 599) {
		errs.Add(prefix+".expectStatus", fmt.Sprintf("invalid status %d", r.ExpectStatus))
	}
	if r.ThinkTime < 0 {
		errs.Add(prefix+".thinkTime", "must be >= 0")
	}

	for i, c := range r.Checks {
		validateCheck(fmt.Sprintf("%s.checks[%d]", prefix, i), c, errs)
	}
	for i, e := range r.Extract {
		validateExtract(fmt.Sprintf("%s.extract[%d]", prefix, i), e, errs)
	}
}

func validateCheck(prefix string, c CheckConfig, errs *ValidationErrors) {
	if !validCheckTypes[c.Type] {
		errs.Add(prefix+".type", fmt.Sprintf("unknown check type %q", c.Type))
		return
	}
	if c.Condition != "" && !validConditions[c.Condition] {
		errs.Add(prefix+".condition", fmt.Sprintf("unknown condition %q", c.Condition))
	}

	switch c.Type {
	case "jsonpath", "header":
		if c.Path == "" {
			errs.Add(prefix+".path", fmt.Sprintf("path is required for %s checks", c.Type))
		}
	case "schema":
		if c.Schema == "" {
			errs.Add(prefix+".schema", "schema is required for schema checks")
		}
	case "status", "duration":
		if c.Value == "" {
			errs.Add(prefix+".value", fmt.Sprintf("value is required for %s checks", c.Type))
		}
	}

	if c.Condition == "matches" {
		if _, err := regexp.Compile(c.Value); err != nil {
			errs.Add(prefix+".value", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}

func validateExtract(prefix string, e ExtractConfig, errs *ValidationErrors) {
	if e.Name == "" {
		errs.Add(prefix+".name", "name is required")
	}
	if !validSources[e.Source] {
		errs.Add(prefix+".source", fmt.Sprintf("unknown source %q (must be body, header or status)", e.Source))
	}
	if (e.Source == "body" || e.Source == "header") && e.Path == "" {
		errs.Add(prefix+".path", fmt.Sprintf("path is required for %s extraction", e.Source))
	}
	if e.Regex != "" {
		if _, err := regexp.Compile(e.Regex); err != nil {
			errs.Add(prefix+".regex", fmt.Sprintf("invalid regex: %v", err))
		}
	}
}
