package llm

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	llmclient "repolens/internal/llm/client"
	"repolens/internal/util/jsonutil"
)

// ErrSchemaMismatch is wrapped by every structured-output validation failure.
var ErrSchemaMismatch = errors.New("llm: output does not match schema")

// Schema describes and validates a structured result of type T.
type Schema[T any] interface {
	// Spec is sent to the backend to request JSON of this shape.
	Spec() *llmclient.Schema
	// Parse validates model output. ok is false when the output is JSON null,
	// which counts as no usable result rather than a failure.
	Parse(text string) (value T, ok bool, err error)
}

// Validator is implemented by result types with semantic checks beyond shape.
type Validator interface {
	Validate() error
}

// JSONSchema validates output against a llmclient.Schema and decodes it into T
// using the fields' json tags.
type JSONSchema[T any] struct {
	spec *llmclient.Schema
}

// NewJSONSchema returns a schema for T. The spec itself is checked eagerly.
func NewJSONSchema[T any](spec *llmclient.Schema) (*JSONSchema[T], error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &JSONSchema[T]{spec: spec}, nil
}

// MustJSONSchema is NewJSONSchema for package-level schema variables.
func MustJSONSchema[T any](spec *llmclient.Schema) *JSONSchema[T] {
	s, err := NewJSONSchema[T](spec)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *JSONSchema[T]) Spec() *llmclient.Schema { return s.spec }

func (s *JSONSchema[T]) Parse(text string) (T, bool, error) {
	var zero T
	raw, err := jsonutil.Extract(text)
	if err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if jsonutil.IsNull(raw) {
		return zero, false, nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if err := checkValue(s.spec, doc, "$"); err != nil {
		return zero, false, err
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &out,
	})
	if err != nil {
		return zero, false, err
	}
	if err := dec.Decode(doc); err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if err := validate(&out); err != nil {
		return zero, false, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	return out, true, nil
}

// validate runs Validate on *p or p, whichever implements Validator.
func validate[T any](p *T) error {
	if v, ok := any(*p).(Validator); ok {
		return v.Validate()
	}
	if v, ok := any(p).(Validator); ok {
		return v.Validate()
	}
	return nil
}

// checkValue walks a decoded JSON document against the schema.
func checkValue(s *llmclient.Schema, v any, at string) error {
	mismatch := func(want string) error {
		return fmt.Errorf("%w: %s: want %s, got %T", ErrSchemaMismatch, at, want, v)
	}
	switch s.Type {
	case "object":
		obj, ok := v.(map[string]any)
		if !ok {
			return mismatch("object")
		}
		for _, name := range s.Required {
			if val, ok := obj[name]; !ok || val == nil {
				return fmt.Errorf("%w: %s: missing required property %q", ErrSchemaMismatch, at, name)
			}
		}
		for name, val := range obj {
			p, ok := s.Properties[name]
			if !ok || val == nil {
				continue
			}
			if err := checkValue(p, val, at+"."+name); err != nil {
				return err
			}
		}
	case "array":
		arr, ok := v.([]any)
		if !ok {
			return mismatch("array")
		}
		for i, item := range arr {
			if err := checkValue(s.Items, item, fmt.Sprintf("%s[%d]", at, i)); err != nil {
				return err
			}
		}
	case "string":
		str, ok := v.(string)
		if !ok {
			return mismatch("string")
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			return fmt.Errorf("%w: %s: %q not in %v", ErrSchemaMismatch, at, str, s.Enum)
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return mismatch("number")
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) {
			return mismatch("integer")
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return mismatch("boolean")
		}
	}
	return nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
