// Package jsonschema validates response bodies against JSON Schema
// documents.
package jsonschema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const resourceURL = "inline.json"

// ErrInvalidSchema is returned when a schema does not compile.
var ErrInvalidSchema = errors.New("invalid schema")

// ErrInvalidDocument is returned when the instance is not valid JSON.
var ErrInvalidDocument = errors.New("invalid JSON")

// ValidationErrors lists every violation found in a document.
type ValidationErrors []error

func (ve ValidationErrors) Error() string {
	msgs := make([]string, len(ve))
	for i, err := range ve {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Schema is a compiled schema. It is safe for concurrent use.
type Schema struct {
	schema *jsonschema.Schema
	source string
}

// Compile compiles an inline schema document.
func Compile(source string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, strings.NewReader(source)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	compiled, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return &Schema{schema: compiled, source: source}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(source string) *Schema {
	s, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks doc against the schema. A document that violates the
// schema yields ValidationErrors.
func (s *Schema) Validate(doc []byte) error {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()

	var instance interface{}
	if err := dec.Decode(&instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	err := s.schema.Validate(instance)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return flatten(verr)
	}
	return ValidationErrors{err}
}

// String returns the schema source.
func (s *Schema) String() string {
	return s.source
}

// Validate compiles schema and validates doc in one call.
func Validate(doc []byte, schema string) error {
	s, err := Compile(schema)
	if err != nil {
		return err
	}
	return s.Validate(doc)
}

// flatten collects the leaf causes of a validation error.
func flatten(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		loc := err.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return ValidationErrors{fmt.Errorf("at %s: %s", loc, err.Message)}
	}

	var out ValidationErrors
	for _, cause := range err.Causes {
		out = append(out, flatten(cause)...)
	}
	return out
}
