package tool

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/harunnryd/sekisho/internal/errors"
)

// aliasGroups maps interchangeable argument names onto whichever member the
// tool's schema actually declares. Order inside a group sets the preferred
// canonical name.
var aliasGroups = [][]string{
	{"filePath", "path", "filepath", "file_path", "file", "filename", "uri"},
	{"oldString", "old", "from", "pattern", "search", "oldText"},
	{"newString", "new", "to", "replacement", "replace", "newText"},
	{"replaceAll", "all", "global"},
	{"content", "text", "data", "body", "contents"},
}

var drivePrefix = regexp.MustCompile(`^[A-Za-z]:`)

// RepairArguments turns whatever the model produced into an object the
// schema can accept: JSON-in-a-string gets re-parsed, a bare string gets
// wrapped under the schema's single required key, and well-known argument
// aliases are renamed. Type coercion is deliberately not attempted.
func RepairArguments(schema Schema, raw json.RawMessage) (map[string]any, error) {
	var value any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &value); err != nil {
			// Not JSON at all: treat the raw bytes as a bare string.
			value = string(raw)
		}
	}

	switch v := value.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return normalizeAliases(schema, v), nil
	case string:
		var inner map[string]any
		if err := json.Unmarshal([]byte(v), &inner); err == nil {
			return normalizeAliases(schema, inner), nil
		}
		key, ok := singleRequiredKey(schema, v)
		if !ok {
			return nil, errors.Wrap(errors.ErrInvalidArguments, "arguments type mismatch")
		}
		return map[string]any{key: strings.TrimSpace(v)}, nil
	default:
		return nil, errors.Wrap(errors.ErrInvalidArguments, "arguments type mismatch")
	}
}

// singleRequiredKey decides where a bare-string argument belongs: the sole
// required field, then the sole property, then a path-shaped guess, then the
// conventional free-text keys.
func singleRequiredKey(schema Schema, raw string) (string, bool) {
	props := schemaProperties(schema)

	if req := schemaRequired(schema); len(req) == 1 {
		return req[0], true
	}
	if len(props) == 1 {
		for name := range props {
			return name, true
		}
	}
	if looksLikePath(raw) {
		for _, name := range []string{"filePath", "path", "uri"} {
			if _, ok := props[name]; ok {
				return name, true
			}
		}
	}
	for _, name := range []string{"command", "text", "input", "content"} {
		if _, ok := props[name]; ok {
			return name, true
		}
	}
	return "", false
}

func looksLikePath(s string) bool {
	s = strings.TrimSpace(s)
	return strings.ContainsAny(s, `/\`) ||
		strings.HasPrefix(s, ".") ||
		strings.HasPrefix(s, "~") ||
		drivePrefix.MatchString(s)
}

// normalizeAliases renames arguments to the schema's spelling. A key the
// schema declares itself is never rewritten, so grep's "pattern" survives
// even though it aliases oldString elsewhere.
func normalizeAliases(schema Schema, args map[string]any) map[string]any {
	props := schemaProperties(schema)
	if len(props) == 0 {
		return args
	}

	for _, group := range aliasGroups {
		target := ""
		for _, name := range group {
			if _, ok := props[name]; ok {
				target = name
				break
			}
		}
		if target == "" {
			continue
		}
		if _, present := args[target]; present {
			continue
		}
		for _, name := range group {
			if name == target {
				continue
			}
			if _, declared := props[name]; declared {
				continue
			}
			if v, present := args[name]; present {
				args[target] = v
				delete(args, name)
				break
			}
		}
	}
	return args
}

func schemaProperties(schema Schema) map[string]any {
	props, _ := schema.Parameters["properties"].(map[string]any)
	return props
}

func schemaRequired(schema Schema) []string {
	var out []string
	switch req := schema.Parameters["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out = append(out, s)
			}
		}
	case []string:
		out = req
	}
	return out
}
