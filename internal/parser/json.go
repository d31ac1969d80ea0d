package parser

import (
	"encoding/json"
	"strings"
)

// parseJSONLoose accepts either a whole-text JSON value or the first
// balanced {...} object embedded in surrounding prose.
func parseJSONLoose(text string) (any, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v, true
	}
	if obj, ok := extractBalanced(trimmed, strings.IndexByte(trimmed, '{')); ok {
		if err := json.Unmarshal([]byte(obj), &v); err == nil {
			return v, true
		}
	}
	return nil, false
}

// LooseJSON exposes the embedded-object tolerant decode for callers that
// need the raw value (the planner's plan objects).
func LooseJSON(text string) (any, bool) {
	return parseJSONLoose(text)
}

// extractBalanced returns the balanced {...} or [...] starting at start,
// respecting JSON string quoting.
func extractBalanced(text string, start int) (string, bool) {
	if start < 0 || start >= len(text) {
		return "", false
	}
	open := text[start]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return "", false
	}

	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// extractFromJSON recognizes the JSON shapes models actually produce:
// singleton wrappers, a bare {name, arguments} object, and the tool_calls
// array under its various spellings, optionally nested in "opencode".
func extractFromJSON(v any) []ToolCall {
	root, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := root["opencode"].(map[string]any); ok {
		root = inner
	}

	for _, key := range []string{"tool_call", "toolCall", "toolcall"} {
		if item, ok := root[key].(map[string]any); ok {
			if c, ok := makeCall(item); ok {
				return []ToolCall{c}
			}
		}
	}

	if c, ok := makeCall(root); ok {
		return []ToolCall{c}
	}

	var items []any
	for _, key := range []string{"tool_calls", "toolCalls", "toolcalls"} {
		if arr, ok := root[key].([]any); ok {
			items = arr
			break
		}
	}

	var calls []ToolCall
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if c, ok := makeCall(obj); ok {
			calls = append(calls, c)
		}
	}
	return calls
}

func makeCall(item map[string]any) (ToolCall, bool) {
	c := ToolCall{ID: NewCallID()}
	if id, ok := item["id"].(string); ok {
		c.ID = id
	}

	c.Name = stringField(item, "name", "tool", "toolName")
	if c.Name == "" {
		if fn, ok := item["function"].(map[string]any); ok {
			c.Name, _ = fn["name"].(string)
		}
	}

	args, hasArgs := argumentsField(item)
	if !hasArgs || c.Name == "" {
		return ToolCall{}, false
	}
	c.Arguments = args
	return c, true
}

func stringField(item map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// argumentsField normalizes the argument value to raw JSON. A string that
// itself parses as JSON passes through verbatim; any other string is quoted.
func argumentsField(item map[string]any) (json.RawMessage, bool) {
	var value any
	found := false
	for _, key := range []string{"arguments", "args", "input"} {
		if v, ok := item[key]; ok {
			value, found = v, true
			break
		}
	}
	if !found {
		if fn, ok := item["function"].(map[string]any); ok {
			if v, ok := fn["arguments"]; ok {
				value, found = v, true
			}
		}
	}
	if !found {
		return nil, false
	}

	switch v := value.(type) {
	case nil:
		return json.RawMessage("{}"), true
	case string:
		if json.Valid([]byte(v)) {
			return json.RawMessage(v), true
		}
		quoted, _ := json.Marshal(v)
		return quoted, true
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("{}"), true
		}
		return raw, true
	}
}
