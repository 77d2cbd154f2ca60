package structured

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// DecodeError records why a response could not be decoded. Raw keeps the
// model text for diagnostics.
type DecodeError struct {
	Stage string
	Raw   string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("structured: decode %s output: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Result is the outcome of recovering a T from model text. When Recovered
// is true, Value is the documented default and Err says why.
type Result[T any] struct {
	Value     T
	Recovered bool
	Err       *DecodeError
}

// Schema is a compiled JSON Schema.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document.
func CompileSchema(name string, doc []byte) (*Schema, error) {
	var schemaDoc any
	if err := json.Unmarshal(doc, &schemaDoc); err != nil {
		return nil, fmt.Errorf("structured: unmarshal schema %s: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, schemaDoc); err != nil {
		return nil, fmt.Errorf("structured: add schema resource %s: %w", name, err)
	}
	s, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("structured: compile schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: s}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas.
func MustCompileSchema(name string, doc []byte) *Schema {
	s, err := CompileSchema(name, doc)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a decoded JSON value against the schema.
func (s *Schema) Validate(v any) error {
	if s == nil {
		return nil
	}
	return s.schema.Validate(v)
}

// Decoder recovers T values for one stage.
type Decoder[T any] struct {
	Stage  string
	Schema *Schema
	// Default builds the fallback payload from the raw model text.
	Default func(raw string) T
}

// Decode runs the recovery procedure over raw model output.
func (d Decoder[T]) Decode(raw string) Result[T] {
	v, err := d.decode(raw)
	if err == nil {
		return Result[T]{Value: v}
	}
	res := Result[T]{Recovered: true, Err: &DecodeError{Stage: d.Stage, Raw: raw, Err: err}}
	if d.Default != nil {
		res.Value = d.Default(raw)
	}
	return res
}

func (d Decoder[T]) decode(raw string) (T, error) {
	var zero T
	obj, err := Extract(raw)
	if err != nil {
		return zero, err
	}
	var generic any
	if err := json.Unmarshal([]byte(obj), &generic); err != nil {
		return zero, err
	}
	if err := d.Schema.Validate(generic); err != nil {
		return zero, fmt.Errorf("schema %s: %w", d.Schema.name, err)
	}
	var v T
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return zero, err
	}
	return v, nil
}
