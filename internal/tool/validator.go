package tool

import (
	"github.com/harunnryd/sekisho/internal/errors"
)

// ValidateLoose checks required fields and top-level property types only.
// Unknown extra fields pass through untouched; nested objects are not
// descended into.
func ValidateLoose(schema Schema, args map[string]any) error {
	for _, name := range schemaRequired(schema) {
		if _, ok := args[name]; !ok {
			return errors.Wrap(errors.ErrInvalidArguments, "missing required field: "+name)
		}
	}

	props := schemaProperties(schema)
	for key, value := range args {
		propSchema, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		want, ok := propSchema["type"].(string)
		if !ok {
			continue
		}
		if !typeMatches(want, value) {
			return errors.Wrap(errors.ErrInvalidArguments, "field type mismatch: "+key)
		}
	}
	return nil
}

func typeMatches(want string, value any) bool {
	if value == nil {
		return true
	}
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "number", "integer":
		_, ok := value.(float64)
		return ok
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	}
	return true
}
