// Package jsonpath resolves simple JSONPath expressions ($.a.b[0], $['k'],
// $.items[*].id) against response bodies.
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

var (
	// ErrEmptyDocument is returned for an empty body.
	ErrEmptyDocument = errors.New("empty JSON document")

	// ErrEmptyPath is returned for an empty expression.
	ErrEmptyPath = errors.New("empty JSONPath expression")

	// ErrNotFound is returned when the path does not resolve.
	ErrNotFound = errors.New("path not found")

	// ErrInvalidJSON is returned when the document is not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON document")
)

// Lookup resolves path in doc.
func Lookup(doc []byte, path string) (gjson.Result, error) {
	if len(doc) == 0 {
		return gjson.Result{}, ErrEmptyDocument
	}
	if strings.TrimSpace(path) == "" {
		return gjson.Result{}, ErrEmptyPath
	}
	if !gjson.ValidBytes(doc) {
		return gjson.Result{}, ErrInvalidJSON
	}

	result := gjson.GetBytes(doc, Translate(path))
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return result, nil
}

// Extract returns the value at path as a string. Objects and arrays are
// returned as raw JSON and null as "null".
func Extract(doc []byte, path string) (string, error) {
	result, err := Lookup(doc, path)
	if err != nil {
		return "", err
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// Exists reports whether path resolves in doc.
func Exists(doc []byte, path string) bool {
	_, err := Lookup(doc, path)
	return err == nil
}

// ExtractAll extracts every named path. Values that resolve are returned
// even when others fail; the error joins every failure.
func ExtractAll(doc []byte, paths map[string]string) (map[string]string, error) {
	if len(paths) == 0 {
		return nil, ErrEmptyPath
	}

	values := make(map[string]string, len(paths))
	var errs []error
	for name, path := range paths {
		v, err := Extract(doc, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		values[name] = v
	}
	return values, errors.Join(errs...)
}

// Translate converts a JSONPath expression into gjson path syntax:
//
//	$              -> @this
//	$.users[0].name -> users.0.name
//	$['a.b']       -> a\.b
//	$.items[*].id  -> items.#.id
func Translate(path string) string {
	p := strings.TrimPrefix(strings.TrimSpace(path), "$")
	if p == "" {
		return "@this"
	}

	var parts []string
	for i := 0; i < len(p); {
		switch p[i] {
		case '.':
			i++
			j := segmentEnd(p, i)
			if j > i {
				parts = append(parts, key(p[i:j]))
			}
			i = j
		case '[':
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				parts = append(parts, key(p[i+1:]))
				i = len(p)
				continue
			}
			tok := strings.TrimSpace(p[i+1 : i+end])
			quoted := len(tok) >= 2 && (tok[0] == '\'' || tok[0] == '"')
			tok = strings.Trim(tok, `'"`)
			if quoted {
				parts = append(parts, escape(tok))
			} else {
				parts = append(parts, key(tok))
			}
			i += end + 1
		default:
			j := segmentEnd(p, i)
			parts = append(parts, key(p[i:j]))
			i = j
		}
	}
	return strings.Join(parts, ".")
}

func segmentEnd(p string, i int) int {
	for i < len(p) && p[i] != '.' && p[i] != '[' {
		i++
	}
	return i
}

func key(s string) string {
	if s == "*" {
		return "#"
	}
	return escape(s)
}

func escape(s string) string {
	if !strings.ContainsAny(s, `.*?|#@\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '*', '?', '|', '#', '@', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}
