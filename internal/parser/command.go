package parser

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/google/shlex"
)

// extractFromTodowriteText parses command-style "todowrite: key=value, ..."
// or "todowrite {json}" fragments. Only the first call per occurrence is
// kept.
func extractFromTodowriteText(text string) []ToolCall {
	lower := strings.ToLower(text)
	const tool = "todowrite"
	var calls []ToolCall

	pos := 0
	for pos < len(lower) {
		start := indexFrom(lower, tool, pos)
		if start < 0 {
			break
		}
		after := start + len(tool)

		leftOK := start == 0 || unicode.IsSpace(rune(lower[start-1])) || lower[start-1] == '`'
		rightOK := after >= len(lower) || unicode.IsSpace(rune(lower[after])) || lower[after] == ':' || lower[after] == '('
		if !leftOK || !rightOK {
			pos = after
			continue
		}

		argsStart := after
		if argsStart < len(text) && text[argsStart] == ':' {
			argsStart++
		}

		args, inlineCall := parseAssignments(text, argsStart)
		if inlineCall != nil {
			calls = append(calls, *inlineCall)
			pos = after
			continue
		}
		// Assignment-style arguments only produce the first call; repeated
		// mentions of the tool name are prose, not new calls.
		if len(calls) > 0 {
			pos = after
			continue
		}
		if len(args) > 0 {
			raw, err := json.Marshal(args)
			if err == nil {
				calls = append(calls, ToolCall{ID: NewCallID(), Name: tool, Arguments: raw})
			}
		}
		pos = after
	}
	return calls
}

// parseAssignments reads key=value pairs; a bare {json} object instead
// yields a complete call. Values may be quoted, bracketed JSON, or bare
// words.
func parseAssignments(text string, p int) (map[string]any, *ToolCall) {
	args := map[string]any{}

	for p < len(text) {
		for p < len(text) && (unicode.IsSpace(rune(text[p])) || text[p] == ',' || text[p] == ';') {
			p++
		}
		if p >= len(text) {
			break
		}

		if text[p] == '{' {
			if obj, ok := extractBalanced(text, p); ok {
				var v map[string]any
				if err := json.Unmarshal([]byte(obj), &v); err == nil {
					raw, _ := json.Marshal(v)
					return nil, &ToolCall{ID: NewCallID(), Name: "todowrite", Arguments: raw}
				}
			}
			break
		}

		keyStart := p
		for p < len(text) && (isWordChar(text[p])) {
			p++
		}
		if p <= keyStart {
			break
		}
		key := text[keyStart:p]

		for p < len(text) && unicode.IsSpace(rune(text[p])) {
			p++
		}
		if p >= len(text) || text[p] != '=' {
			break
		}
		p++
		for p < len(text) && unicode.IsSpace(rune(text[p])) {
			p++
		}
		if p >= len(text) {
			break
		}

		var rawValue string
		switch c := text[p]; {
		case c == '"' || c == '\'':
			rawValue, p = scanQuoted(text, p)
		case c == '{' || c == '[':
			b, ok := extractBalanced(text, p)
			if !ok {
				return args, nil
			}
			rawValue = b
			p += len(b)
		default:
			vstart := p
			for p < len(text) && !unicode.IsSpace(rune(text[p])) && text[p] != ',' && text[p] != ';' {
				p++
			}
			rawValue = text[vstart:p]
		}

		trimmed := strings.TrimSpace(rawValue)
		if trimmed != "" && (trimmed[0] == '{' || trimmed[0] == '[') {
			var v any
			if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
				args[key] = v
				continue
			}
		}
		args[key] = trimmed
	}
	return args, nil
}

func scanQuoted(text string, p int) (string, int) {
	quote := text[p]
	p++
	vstart := p
	escape := false
	for ; p < len(text); p++ {
		c := text[p]
		if escape {
			escape = false
			continue
		}
		if c == '\\' {
			escape = true
			continue
		}
		if c == quote {
			break
		}
	}
	value := text[vstart:min(p, len(text))]
	if p < len(text) && text[p] == quote {
		p++
	}
	return value, p
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// extractFromCatText turns "cat <path>" fragments, bare or backticked, into
// read calls.
func extractFromCatText(text string) []ToolCall {
	lower := strings.ToLower(text)
	const cmd = "cat"
	var calls []ToolCall

	pos := 0
	for pos < len(lower) {
		start := indexFrom(lower, cmd, pos)
		if start < 0 {
			break
		}
		after := start + len(cmd)

		leftOK := start == 0 || unicode.IsSpace(rune(lower[start-1])) || lower[start-1] == '`' || lower[start-1] == ':'
		rightOK := after >= len(lower) || unicode.IsSpace(rune(lower[after])) || lower[after] == '`'
		if !leftOK || !rightOK {
			pos = after
			continue
		}

		path := catPath(text[after:])
		if path != "" {
			raw, _ := json.Marshal(map[string]string{"filePath": path})
			calls = append(calls, ToolCall{ID: NewCallID(), Name: "read", Arguments: raw})
		}
		pos = after
	}
	return calls
}

// catPath takes the first shell token after "cat" and strips redirection
// and backtick/semicolon decorations.
func catPath(rest string) string {
	rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
	if rest == "" {
		return ""
	}

	var token string
	if fields, err := shlex.Split(rest); err == nil && len(fields) > 0 {
		token = fields[0]
	} else {
		end := 0
		for end < len(rest) && !unicode.IsSpace(rune(rest[end])) && !strings.ContainsRune(";,<`", rune(rest[end])) {
			end++
		}
		token = rest[:end]
	}

	if lt := strings.IndexByte(token, '<'); lt >= 0 {
		token = token[:lt]
	}
	token = strings.TrimRight(token, "`;,")
	token = strings.TrimPrefix(token, "`")
	return strings.TrimSpace(token)
}
