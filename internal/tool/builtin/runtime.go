package builtin

import (
	"context"
	"time"

	"github.com/harunnryd/sekisho/internal/tool"
)

var echoSchema = tool.Schema{
	Name:        "runtime.echo",
	Description: "Echo back the provided text.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{"text": map[string]any{"type": "string"}},
		"required":   []any{"text"},
	},
}

func echoHandler(ctx context.Context, callID string, args map[string]any) tool.Result {
	text, ok := args["text"].(string)
	if !ok {
		return tool.Failure("missing required field: text")
	}
	return tool.Success(map[string]any{"text": text})
}

var addSchema = tool.Schema{
	Name:        "runtime.add",
	Description: "Add two numbers and return the sum.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "number"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a", "b"},
	},
}

func addHandler(ctx context.Context, callID string, args map[string]any) tool.Result {
	a, okA := args["a"].(float64)
	b, okB := args["b"].(float64)
	if !okA || !okB {
		if _, hasA := args["a"]; !hasA {
			return tool.Failure("missing required fields: a, b")
		}
		if _, hasB := args["b"]; !hasB {
			return tool.Failure("missing required fields: a, b")
		}
		return tool.Failure("fields a and b must be numbers")
	}
	return tool.Success(map[string]any{"sum": a + b})
}

var timeSchema = tool.Schema{
	Name:        "runtime.time",
	Description: "Return the current unix time in seconds.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{},
	},
}

func timeHandler(ctx context.Context, callID string, args map[string]any) tool.Result {
	return tool.Success(map[string]any{"unix_seconds": time.Now().Unix()})
}

var todowriteSchema = tool.Schema{
	Name:        "todowrite",
	Description: "Write or update a todo list.",
	Parameters: map[string]any{
		"type":       "object",
		"properties": map[string]any{},
		"required":   []any{},
	},
}

// todowrite accepts anything and acknowledges; the runtime keeps no todo
// state of its own.
func todowriteHandler(ctx context.Context, callID string, args map[string]any) tool.Result {
	return tool.Success(nil)
}

var invalidSchema = tool.Schema{
	Name:        "invalid",
	Description: "Invalid tool placeholder.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tool":  map[string]any{"type": "string"},
			"error": map[string]any{"type": "string"},
		},
		"required": []any{"tool", "error"},
	},
}

// invalidHandler echoes a structured rejection; the orchestrator routes
// unparseable calls here so the model sees what went wrong.
func invalidHandler(ctx context.Context, callID string, args map[string]any) tool.Result {
	toolName, _ := args["tool"].(string)
	errMsg, _ := args["error"].(string)
	if toolName == "" {
		toolName = "<unknown>"
	}
	if errMsg == "" {
		errMsg = "unknown error"
	}
	return tool.Failure("invalid tool call: " + toolName + ": " + errMsg)
}
