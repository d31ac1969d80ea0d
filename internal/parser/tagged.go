package parser

import (
	"encoding/json"
	"strings"
	"unicode"
)

const (
	toolTag   = "<tool_call"
	toolTag2  = "<toolcall"
	argTag    = "<arg_value>"
	argEnd    = "</arg_value>"
	argKeyEnd = "</arg_key>"
)

func isToolNameChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' ||
		c == '_' || c == '-' || c == '.' || c == ':' || c == '/'
}

// extractFromTaggedText parses <tool_call name="X">...</...> style markup,
// case-insensitively, tolerating missing attributes and unterminated tags.
func extractFromTaggedText(text string) []ToolCall {
	lower := strings.ToLower(text)
	var calls []ToolCall

	pos := 0
	for pos < len(lower) {
		start := indexFrom(lower, toolTag, pos)
		if alt := indexFrom(lower, toolTag2, pos); start < 0 || (alt >= 0 && alt < start) {
			start = alt
		}
		if start < 0 {
			break
		}
		tagClose := indexFrom(lower, ">", start)
		if tagClose < 0 {
			break
		}

		tagText := text[start : tagClose+1]
		name := strings.TrimSpace(findAttr(tagText, "name"))

		afterName := tagClose + 1
		if name == "" {
			nameStart := tagClose + 1
			for nameStart < len(text) && unicode.IsSpace(rune(text[nameStart])) {
				nameStart++
			}
			nameEnd := nameStart
			for nameEnd < len(text) && isToolNameChar(text[nameEnd]) {
				nameEnd++
			}
			name = strings.TrimSpace(text[nameStart:nameEnd])
			afterName = nameEnd
		}
		if name == "" {
			pos = tagClose + 1
			continue
		}

		blockEnd := len(text)
		if next := indexFrom(lower, toolTag, tagClose+1); next >= 0 {
			blockEnd = next
		}
		if next := indexFrom(lower, toolTag2, tagClose+1); next >= 0 && next < blockEnd {
			blockEnd = next
		}

		argsText := taggedArguments(text, lower, afterName, blockEnd)
		calls = append(calls, taggedCall(name, argsText))
		pos = blockEnd
	}
	return calls
}

// taggedArguments prefers an explicit <arg_value> block, falls back to the
// text between an <arg_key> close and the stray </arg_value>, and finally
// takes the whole remaining block.
func taggedArguments(text, lower string, afterName, blockEnd int) string {
	if astart := indexFrom(lower, argTag, afterName); astart >= 0 && astart < blockEnd {
		astart += len(argTag)
		aend := indexFrom(lower, argEnd, astart)
		if aend < 0 || aend > blockEnd {
			aend = blockEnd
		}
		return strings.TrimSpace(text[astart:aend])
	}

	if maybeClose := indexFrom(lower, argEnd, afterName); maybeClose >= 0 && maybeClose < blockEnd {
		rawStart := afterName
		if keyClose := strings.LastIndex(lower[:maybeClose], argKeyEnd); keyClose >= afterName {
			rawStart = keyClose + len(argKeyEnd)
		}
		argsText := ""
		if rawStart <= maybeClose {
			argsText = strings.TrimSpace(text[rawStart:maybeClose])
		}
		if argsText == "" {
			if raw2 := maybeClose + len(argEnd); raw2 < blockEnd {
				argsText = strings.TrimSpace(text[raw2:blockEnd])
			}
		}
		return argsText
	}

	return strings.TrimSpace(text[afterName:blockEnd])
}

func taggedCall(name, argsText string) ToolCall {
	if argsText != "" {
		if first, ok := extractBalanced(argsText, strings.IndexByte(argsText, '{')); ok {
			argsText = strings.TrimSpace(first)
		}
	}

	c := ToolCall{ID: NewCallID(), Name: name}
	switch {
	case argsText == "":
		c.Arguments = json.RawMessage("{}")
	default:
		if j, ok := parseJSONLoose(argsText); ok {
			raw, err := json.Marshal(j)
			if err == nil {
				c.Arguments = raw
				break
			}
		}
		raw := argsText
		if lt := strings.IndexByte(raw, '<'); lt >= 0 {
			raw = strings.TrimSpace(raw[:lt])
		}
		if raw != "" && c.Name == "cat" {
			raw = stripCatDecorations(raw)
		}
		quoted, _ := json.Marshal(raw)
		c.Arguments = quoted
	}

	if c.Name == "cat" {
		c.Name = "read"
	}
	return c
}

// stripCatDecorations peels a leading "cat" word plus backticks and
// trailing semicolons off a shell-flavored argument.
func stripCatDecorations(raw string) string {
	if len(raw) >= 3 && strings.EqualFold(raw[:3], "cat") {
		rest := raw[3:]
		if trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace); trimmed != rest && trimmed != "" {
			raw = trimmed
		}
	}
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "`"))
	raw = strings.TrimRight(raw, "`;")
	return strings.TrimSpace(raw)
}

// findAttr pulls attr="value" (or unquoted) out of one tag, matching the
// attribute name case-insensitively.
func findAttr(tagText, attr string) string {
	tagLower := strings.ToLower(tagText)
	p := strings.Index(tagLower, attr)
	if p < 0 {
		return ""
	}
	p += len(attr)
	for p < len(tagText) && unicode.IsSpace(rune(tagText[p])) {
		p++
	}
	if p >= len(tagText) || tagText[p] != '=' {
		return ""
	}
	p++
	for p < len(tagText) && unicode.IsSpace(rune(tagText[p])) {
		p++
	}
	if p >= len(tagText) {
		return ""
	}
	if q := tagText[p]; q == '"' || q == '\'' {
		p++
		if end := strings.IndexByte(tagText[p:], q); end >= 0 {
			return tagText[p : p+end]
		}
		return ""
	}
	end := p
	for end < len(tagText) && !unicode.IsSpace(rune(tagText[end])) && tagText[end] != '>' {
		end++
	}
	return tagText[p:end]
}

func indexFrom(s, substr string, from int) int {
	if from < 0 || from > len(s) {
		return -1
	}
	if i := strings.Index(s[from:], substr); i >= 0 {
		return i + from
	}
	return -1
}
