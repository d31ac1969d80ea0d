// Package parser recovers structured tool calls from free-form assistant
// text. Strategies run in order from strictest to loosest; the first that
// yields calls wins.
package parser

import (
	"encoding/json"

	"github.com/harunnryd/sekisho/internal/session"
)

// ToolCall is one recovered call. Arguments is always valid JSON, "{}" when
// the source carried none.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func NewCallID() string { return session.NewID("call") }

// Final decodes a {"final":"..."} assistant object, tolerating surrounding
// prose the same way Parse does.
func Final(assistantText string) (string, bool) {
	j, ok := parseJSONLoose(assistantText)
	if !ok {
		return "", false
	}
	obj, ok := j.(map[string]any)
	if !ok {
		return "", false
	}
	final, ok := obj["final"].(string)
	return final, ok
}

// Parse extracts tool calls from assistant text. A nil result means the text
// is a plain answer.
func Parse(assistantText string) []ToolCall {
	if j, ok := parseJSONLoose(assistantText); ok {
		if calls := extractFromJSON(j); len(calls) > 0 {
			return calls
		}
	}
	if calls := extractFromTaggedText(assistantText); len(calls) > 0 {
		return calls
	}
	if calls := extractFromTodowriteText(assistantText); len(calls) > 0 {
		return calls
	}
	return extractFromCatText(assistantText)
}
