package scenario

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/wesleyorama2/vuload/internal/config"
	vuhttp "github.com/wesleyorama2/vuload/internal/http"
	"github.com/wesleyorama2/vuload/pkg/jsonpath"
)

type extractor struct {
	name   string
	source string
	path   string
	regex  *regexp.Regexp
}

func compileExtractor(cfg config.ExtractConfig) (*extractor, error) {
	x := &extractor{name: cfg.Name, source: cfg.Source, path: cfg.Path}
	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return nil, fmt.Errorf("extract %q: %w", cfg.Name, err)
		}
		x.regex = re
	}
	return x, nil
}

func (x *extractor) extract(resp *vuhttp.Response) (string, error) {
	var value string
	switch x.source {
	case "body":
		v, err := jsonpath.Extract(resp.Body, x.path)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", x.name, err)
		}
		value = v
	case "header":
		value = resp.GetHeader(x.path)
		if value == "" {
			return "", fmt.Errorf("extract %s: header %s not present", x.name, x.path)
		}
	case "status":
		value = strconv.Itoa(resp.StatusCode)
	default:
		return "", fmt.Errorf("extract %s: unknown source %q", x.name, x.source)
	}

	if x.regex == nil {
		return value, nil
	}
	m := x.regex.FindStringSubmatch(value)
	switch {
	case m == nil:
		return "", fmt.Errorf("extract %s: %q does not match %s", x.name, truncate(value), x.regex)
	case len(m) > 1:
		return m[1], nil
	default:
		return m[0], nil
	}
}
