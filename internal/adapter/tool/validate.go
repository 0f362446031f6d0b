package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// validationError carries the reason reported after "Input validation failed: ".
type validationError struct{ reason string }

func (e *validationError) Error() string { return e.reason }

// ValidateShallow checks input against the top level of schema: the declared
// "type" (arrays are distinct from objects) and, for objects, the "required"
// keys. Nested schemas are not inspected. A nil schema accepts everything.
func ValidateShallow(schema map[string]any, input any) error {
	if len(schema) == 0 {
		return nil
	}
	value, err := normalize(input)
	if err != nil {
		return &validationError{reason: fmt.Sprintf("input is not JSON-encodable: %v", err)}
	}

	if declared, ok := schema["type"]; ok {
		types := declaredTypes(declared)
		if len(types) > 0 && !matchesAny(types, value) {
			return &validationError{reason: fmt.Sprintf("Expected %s, got %s", strings.Join(types, " or "), jsonType(value))}
		}
	}

	obj, isObj := value.(map[string]any)
	if !isObj || !declaresType(schema, "object") {
		return nil
	}
	for _, key := range requiredKeys(schema["required"]) {
		if _, ok := obj[key]; !ok {
			return &validationError{reason: "Missing required field: " + key}
		}
	}
	return nil
}

// normalize converts input to the shape encoding/json produces, so maps,
// structs and slices of any Go type are validated the same way.
func normalize(input any) (any, error) {
	switch input.(type) {
	case nil, string, bool, float64, map[string]any, []any:
		return input, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func jsonType(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64:
		if t == math.Trunc(t) {
			return "integer"
		}
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func matchesAny(types []string, v any) bool {
	actual := jsonType(v)
	for _, want := range types {
		if want == actual || (want == "number" && actual == "integer") {
			return true
		}
	}
	return false
}

func declaredTypes(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func declaresType(schema map[string]any, want string) bool {
	for _, t := range declaredTypes(schema["type"]) {
		if t == want {
			return true
		}
	}
	return false
}

func requiredKeys(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
