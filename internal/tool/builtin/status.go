package builtin

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/harunnryd/sekisho/internal/session"
	"github.com/harunnryd/sekisho/internal/tool"
)

var inferTaskStatusSchema = tool.Schema{
	Name:        "runtime.infer_task_status",
	Description: "Infer todo/task status from server session context.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"session_id":              map[string]any{"type": "string"},
			"max_history_messages":    map[string]any{"type": "integer"},
			"max_recent_tool_results": map[string]any{"type": "integer"},
		},
		"required": []any{"session_id"},
	},
}

// RegisterTaskStatus wires the session-aware status tool. It scans the
// persisted history for todo-list markup and recent TOOL_RESULT messages.
func RegisterTaskStatus(reg *tool.Registry, sessions *session.Manager) {
	reg.Register(inferTaskStatusSchema, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		sessionID, ok := args["session_id"].(string)
		if !ok {
			return tool.Failure("missing required field: session_id")
		}
		maxHistory := intArg(args, "max_history_messages", 200)
		maxResults := intArg(args, "max_recent_tool_results", 20)

		s, err := sessions.GetOrCreate(ctx, sessionID)
		if err != nil {
			return tool.Failure(err.Error())
		}

		res := tool.Success(map[string]any{
			"session_id":          s.SessionID,
			"history_messages":    len(s.History),
			"turns":               len(s.Turns),
			"todos":               inferTodos(s, maxHistory),
			"recent_tool_results": recentToolResults(s, maxResults),
		})
		if len(s.Turns) > 0 {
			res["last_turn_id"] = s.Turns[len(s.Turns)-1].TurnID
		}
		return res
	})
}

func statusScore(status string) int {
	switch status {
	case "completed":
		return 3
	case "in_progress":
		return 2
	case "pending":
		return 1
	}
	return 0
}

var checkboxPrefixes = []struct {
	prefix string
	status string
}{
	{"- [ ]", "pending"},
	{"* [ ]", "pending"},
	{"- [x]", "completed"},
	{"* [x]", "completed"},
}

// parseTodoLine recognizes markdown checkboxes and plain bullets annotated
// with a status word.
func parseTodoLine(rawLine string) (text, status string, ok bool) {
	line := strings.TrimSpace(rawLine)
	if line == "" {
		return "", "", false
	}
	lower := strings.ToLower(line)

	for _, cb := range checkboxPrefixes {
		if strings.HasPrefix(lower, cb.prefix) {
			text = strings.TrimSpace(line[len(cb.prefix):])
			if text == "" {
				return "", "", false
			}
			return text, cb.status, true
		}
	}

	if strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ") {
		text = strings.TrimSpace(line[2:])
		if text == "" {
			return "", "", false
		}
		switch {
		case strings.Contains(lower, "in progress") || strings.Contains(lower, "in_progress"):
			return text, "in_progress", true
		case strings.Contains(lower, "completed") || strings.Contains(lower, "done"):
			return text, "completed", true
		case strings.Contains(lower, "pending"):
			return text, "pending", true
		}
		return text, "unknown", true
	}
	return "", "", false
}

func inferTodos(s session.Session, maxHistoryMessages int) []map[string]any {
	best := map[string]string{}

	start := 0
	if maxHistoryMessages > 0 && len(s.History) > maxHistoryMessages {
		start = len(s.History) - maxHistoryMessages
	}
	for _, m := range s.History[start:] {
		if m.Role != "assistant" && m.Role != "user" {
			continue
		}
		for _, line := range strings.Split(m.Content, "\n") {
			text, status, ok := parseTodoLine(line)
			if !ok {
				continue
			}
			if cur, seen := best[text]; !seen || statusScore(status) > statusScore(cur) {
				best[text] = status
			}
		}
	}

	todos := make([]map[string]any, 0, len(best))
	for text, status := range best {
		todos = append(todos, map[string]any{"text": text, "status": status})
	}
	return todos
}

// recentToolResults walks the history backwards collecting synthetic
// "TOOL_RESULT <name> <json>" user messages.
func recentToolResults(s session.Session, maxItems int) []map[string]any {
	out := make([]map[string]any, 0)
	if maxItems <= 0 {
		return out
	}

	const prefix = "TOOL_RESULT "
	for i := len(s.History) - 1; i >= 0 && len(out) < maxItems; i-- {
		m := s.History[i]
		if m.Role != "user" || !strings.HasPrefix(m.Content, prefix) {
			continue
		}
		rest := m.Content[len(prefix):]
		sp := strings.IndexByte(rest, ' ')
		if sp < 0 {
			continue
		}
		name := rest[:sp]
		payload := strings.TrimSpace(rest[sp+1:])

		var parsed any
		ok := true
		if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
			parsed = payload
		} else if obj, isObj := parsed.(map[string]any); isObj {
			if v, has := obj["ok"].(bool); has {
				ok = v
			}
		}
		out = append(out, map[string]any{"name": name, "ok": ok, "result": parsed})
	}
	return out
}
