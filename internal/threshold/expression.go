// Package threshold parses and evaluates pass/fail criteria over metric snapshots.
package threshold

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidExpression is returned when an expression cannot be parsed.
	ErrInvalidExpression = errors.New("invalid threshold expression")

	// ErrUnknownMetric marks a threshold on a metric that was never recorded.
	ErrUnknownMetric = errors.New("unknown metric")

	// ErrUnsupportedStatistic marks a statistic that does not apply to the
	// metric's kind, e.g. p95 of a rate.
	ErrUnsupportedStatistic = errors.New("unsupported statistic")
)

// Operator is a comparison operator.
type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
)

// Compare applies the operator to actual and expected.
func (op Operator) Compare(actual, expected float64) bool {
	switch op {
	case OpLess:
		return actual < expected
	case OpLessEqual:
		return actual <= expected
	case OpGreater:
		return actual > expected
	case OpGreaterEqual:
		return actual >= expected
	case OpEqual:
		return actual == expected
	case OpNotEqual:
		return actual != expected
	default:
		return false
	}
}

// Expression is a parsed threshold expression: Statistic(Metric) Op Value.
type Expression struct {
	Metric string
	// Statistic is one of avg, min, max, med, count, sum, rate, value or p.
	Statistic string
	// Percentile is set when Statistic is "p".
	Percentile float64
	Op         Operator
	Value      float64
	// Source is the expression text as written.
	Source string
}

// String returns the canonical full form, e.g. "p95(response_time) < 500".
func (e *Expression) String() string {
	stat := e.Statistic
	if stat == "p" {
		stat = "p" + strconv.FormatFloat(e.Percentile, 'f', -1, 64)
	}
	return fmt.Sprintf("%s(%s) %s %s", stat, e.Metric, e.Op, strconv.FormatFloat(e.Value, 'f', -1, 64))
}

var (
	ops = `(<=|>=|==|!=|<|>)`

	// p95(response_time) < 500
	fullRe = regexp.MustCompile(`^\s*([A-Za-z]+[0-9]*(?:\.[0-9]+)?)\((.+)\)\s*` + ops + `\s*(\S+)\s*$`)

	// p(95)<500, rate<0.05, count>100
	keyedRe = regexp.MustCompile(`^\s*(p\(\s*[0-9]+(?:\.[0-9]+)?\s*\)|[A-Za-z]+[0-9]*(?:\.[0-9]+)?)\s*` + ops + `\s*(\S+)\s*$`)
)

// Parse parses the full form "<statistic>(<metric>) <op> <value>".
func Parse(expr string) (*Expression, error) {
	m := fullRe.FindStringSubmatch(expr)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidExpression, expr)
	}

	metric := strings.TrimSpace(m[2])
	if metric == "" {
		return nil, fmt.Errorf("%w: %q: empty metric name", ErrInvalidExpression, expr)
	}
	return build(metric, m[1], m[3], m[4], expr)
}

// ParseFor parses the keyed form used in test files, where the metric is
// given separately: ParseFor("http_req_duration", "p(95)<500").
//
// A full-form expression is accepted too, as long as it names the same metric.
func ParseFor(metric, expr string) (*Expression, error) {
	if m := keyedRe.FindStringSubmatch(expr); m != nil {
		return build(metric, m[1], m[2], m[3], expr)
	}

	e, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	if e.Metric != metric {
		return nil, fmt.Errorf("%w: %q is listed under metric %q", ErrInvalidExpression, expr, metric)
	}
	return e, nil
}

func build(metric, stat, op, value, source string) (*Expression, error) {
	statistic, pct, err := parseStatistic(stat)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, source, err)
	}

	v, err := parseValue(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, source, err)
	}

	return &Expression{
		Metric:     metric,
		Statistic:  statistic,
		Percentile: pct,
		Op:         Operator(op),
		Value:      v,
		Source:     strings.TrimSpace(source),
	}, nil
}

func parseStatistic(s string) (string, float64, error) {
	s = strings.ToLower(strings.ReplaceAll(s, " ", ""))

	switch s {
	case "avg", "mean":
		return "avg", 0, nil
	case "min", "max", "med", "count", "sum", "rate", "value":
		return s, 0, nil
	}

	if strings.HasPrefix(s, "p") {
		num := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(s, "p"), "("), ")")
		pct, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return "", 0, fmt.Errorf("invalid percentile %q", s)
		}
		if pct < 0 || pct > 100 {
			return "", 0, fmt.Errorf("percentile %v out of range [0, 100]", pct)
		}
		return "p", pct, nil
	}

	return "", 0, fmt.Errorf("unknown statistic %q", s)
}

// parseValue parses a number, or a duration ("500ms", "1.5s") converted to
// milliseconds, the unit trend metrics are recorded in.
func parseValue(s string) (float64, error) {
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	return float64(d) / float64(time.Millisecond), nil
}
