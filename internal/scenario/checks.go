package scenario

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/vuload/internal/config"
	vuhttp "github.com/wesleyorama2/vuload/internal/http"
	"github.com/wesleyorama2/vuload/internal/vu"
	"github.com/wesleyorama2/vuload/pkg/jsonpath"
	"github.com/wesleyorama2/vuload/pkg/jsonschema"
)

// check is a compiled CheckConfig. Values may hold placeholders, so the
// vu.Check is bound per request.
type check struct {
	name      string
	kind      string
	condition string
	value     string
	path      string
	pattern   *regexp.Regexp
	schema    *jsonschema.Schema
}

func compileCheck(cfg config.CheckConfig) (*check, error) {
	c := &check{
		name:      cfg.Name,
		kind:      cfg.Type,
		condition: cfg.Condition,
		value:     cfg.Value,
		path:      cfg.Path,
	}
	if c.name == "" {
		c.name = strings.TrimSpace(strings.Join([]string{cfg.Type, cfg.Path, cfg.Condition, cfg.Value}, " "))
	}
	if c.condition == "" {
		c.condition = defaultCondition(cfg)
	}

	switch c.kind {
	case "status", "body", "header", "jsonpath", "duration":
	case "schema":
		s, err := jsonschema.Compile(cfg.Schema)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.name, err)
		}
		c.schema = s
	default:
		return nil, fmt.Errorf("check %q: unknown type %q", c.name, c.kind)
	}

	if c.condition == "matches" && !strings.Contains(c.value, "{{") {
		re, err := regexp.Compile(c.value)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.name, err)
		}
		c.pattern = re
	}
	return c, nil
}

func defaultCondition(cfg config.CheckConfig) string {
	switch cfg.Type {
	case "body":
		return "contains"
	case "duration":
		return "lt"
	case "header", "jsonpath":
		if cfg.Value == "" {
			return "exists"
		}
	}
	return "eq"
}

func (c *check) bind(vars Vars) vu.Check {
	expected := vars.Expand(c.value)
	return vu.Check{
		Name: c.name,
		Assert: func(resp *vuhttp.Response) error {
			return c.assert(resp, expected)
		},
	}
}

func (c *check) assert(resp *vuhttp.Response, expected string) error {
	switch c.kind {
	case "status":
		return c.compare(strconv.Itoa(resp.StatusCode), expected)

	case "body":
		return c.compare(resp.BodyString(), expected)

	case "header":
		values := resp.Headers.Values(c.path)
		if c.condition == "exists" {
			if len(values) == 0 {
				return fmt.Errorf("header %s not present", c.path)
			}
			return nil
		}
		return c.compare(resp.GetHeader(c.path), expected)

	case "jsonpath":
		if c.condition == "exists" {
			_, err := jsonpath.Lookup(resp.Body, c.path)
			return err
		}
		actual, err := jsonpath.Extract(resp.Body, c.path)
		if err != nil {
			return err
		}
		return c.compare(actual, expected)

	case "schema":
		return c.schema.Validate(resp.Body)

	case "duration":
		limit, err := parseMillis(expected)
		if err != nil {
			return err
		}
		actual := resp.DurationMillis()
		if !compareNumbers(c.condition, actual, limit) {
			return fmt.Errorf("duration %.2fms is not %s %.2fms", actual, c.condition, limit)
		}
		return nil
	}
	return fmt.Errorf("unknown check type %q", c.kind)
}

// compare applies the condition to a string value, numerically when both
// sides parse as numbers.
func (c *check) compare(actual, expected string) error {
	switch c.condition {
	case "exists":
		return nil
	case "contains":
		if !strings.Contains(actual, expected) {
			return fmt.Errorf("%q does not contain %q", truncate(actual), expected)
		}
		return nil
	case "matches":
		re := c.pattern
		if re == nil {
			var err error
			if re, err = regexp.Compile(expected); err != nil {
				return err
			}
		}
		if !re.MatchString(actual) {
			return fmt.Errorf("%q does not match %s", truncate(actual), re)
		}
		return nil
	}

	a, aerr := strconv.ParseFloat(strings.TrimSpace(actual), 64)
	e, eerr := strconv.ParseFloat(strings.TrimSpace(expected), 64)
	if aerr == nil && eerr == nil {
		if !compareNumbers(c.condition, a, e) {
			return fmt.Errorf("%s is not %s %s", actual, c.condition, expected)
		}
		return nil
	}

	switch c.condition {
	case "eq":
		if actual != expected {
			return fmt.Errorf("got %q, want %q", truncate(actual), expected)
		}
	case "ne":
		if actual == expected {
			return fmt.Errorf("got %q, want anything else", truncate(actual))
		}
	default:
		return fmt.Errorf("%s needs numeric values, got %q and %q", c.condition, truncate(actual), expected)
	}
	return nil
}

func compareNumbers(cond string, a, b float64) bool {
	switch cond {
	case "eq":
		return a == b
	case "ne":
		return a != b
	case "gt":
		return a > b
	case "gte":
		return a >= b
	case "lt":
		return a < b
	case "lte":
		return a <= b
	}
	return false
}

// parseMillis reads "500" as milliseconds and "1.5s" as a duration.
func parseMillis(s string) (float64, error) {
	if ms, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid duration limit %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}

func truncate(s string) string {
	const limit = 64
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
