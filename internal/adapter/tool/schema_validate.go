package tool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileSchema compiles a tool's full JSON Schema for strict validation.
// A nil schema yields a nil compiled schema.
func compileSchema(toolID string, schema map[string]any) (*jsonschema.Schema, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %q: %w", toolID, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", toolID, err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", toolID, err)
	}
	return compiled, nil
}

// validateDeep runs the compiled schema against input, recursing into
// nested properties that ValidateShallow ignores.
func validateDeep(schema *jsonschema.Schema, input any) error {
	if schema == nil {
		return nil
	}
	value, err := normalize(input)
	if err != nil {
		return &validationError{reason: fmt.Sprintf("input is not JSON-encodable: %v", err)}
	}
	if err := schema.Validate(value); err != nil {
		return &validationError{reason: deepReason(err)}
	}
	return nil
}

// deepReason flattens a jsonschema error to its most specific cause.
func deepReason(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return fmt.Sprintf("%s: %s", loc, ve.Message)
}
