package builtin

import (
	"context"

	"github.com/harunnryd/sekisho/internal/tool"
)

// unsupportedTools are capabilities the local runtime refuses. They register
// with real schemas so planners can still validate calls against them, but
// every invocation fails with a uniform message.
var unsupportedTools = []struct {
	schema  tool.Schema
	message string
}{
	{schema: tool.Schema{
		Name:        "webfetch",
		Description: "UNSUPPORTED in local-ai-runtime: fetch web content.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"url": map[string]any{"type": "string"}},
			"required":   []any{"url"},
		},
	}},
	{schema: tool.Schema{
		Name:        "websearch",
		Description: "UNSUPPORTED in local-ai-runtime: web search.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
				"num":   map[string]any{"type": "integer"},
				"lr":    map[string]any{"type": "string"},
			},
			"required": []any{"query"},
		},
	}},
	{schema: tool.Schema{
		Name:        "codesearch",
		Description: "UNSUPPORTED in local-ai-runtime: code search.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":     map[string]any{"type": "string"},
				"tokensNum": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		},
	}},
	{schema: tool.Schema{
		Name:        "skill",
		Description: "UNSUPPORTED in local-ai-runtime: load skills.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []any{"name"},
		},
	}},
	{schema: tool.Schema{
		Name:        "question",
		Description: "UNSUPPORTED in local-ai-runtime: ask user questions.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"questions": map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
			},
			"required": []any{"questions"},
		},
	}},
	{schema: tool.Schema{
		Name:        "bash",
		Description: "UNSUPPORTED in local-ai-runtime: execute shell commands.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
				"timeout": map[string]any{"type": "integer"},
				"workdir": map[string]any{"type": "string"},
			},
			"required": []any{"command"},
		},
	}},
	{schema: tool.Schema{
		Name:        "terminal",
		Description: "UNSUPPORTED in local-ai-runtime: interact with terminal.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"command": map[string]any{"type": "string"}},
			"required":   []any{"command"},
		},
	}},
	{schema: tool.Schema{
		Name:        "task",
		Description: "UNSUPPORTED in local-ai-runtime: spawn sub-agents.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"prompt": map[string]any{"type": "string"}},
			"required":   []any{"prompt"},
		},
	}},
	{schema: tool.Schema{
		Name:        "todoread",
		Description: "UNSUPPORTED in local-ai-runtime: read todo list.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
			"required":   []any{},
		},
	}},
	{schema: tool.Schema{
		Name:        "lsp",
		Description: "UNSUPPORTED in local-ai-runtime: language server operations.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"operation": map[string]any{"type": "string"}},
			"required":   []any{"operation"},
		},
	}, message: "lsp is unsupported (use ide.hover/ide.definition/ide.diagnostics if available)"},
	{schema: tool.Schema{
		Name:        "batch",
		Description: "UNSUPPORTED in local-ai-runtime: batch tool calls.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"calls": map[string]any{"type": "array"}},
			"required":   []any{"calls"},
		},
	}},
	{schema: tool.Schema{
		Name:        "patch",
		Description: "UNSUPPORTED in local-ai-runtime: apply patches.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"patch": map[string]any{"type": "string"}},
			"required":   []any{"patch"},
		},
	}},
	{schema: tool.Schema{
		Name:        "multiedit",
		Description: "UNSUPPORTED in local-ai-runtime: multiple edits in one call.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"filePath": map[string]any{"type": "string"},
				"edits":    map[string]any{"type": "array"},
			},
			"required": []any{"filePath", "edits"},
		},
	}},
}

func unsupportedHandler(message string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		return tool.Failure(message)
	}
}

func registerUnsupported(reg *tool.Registry) {
	for _, u := range unsupportedTools {
		msg := u.message
		if msg == "" {
			msg = u.schema.Name + " is unsupported"
		}
		reg.Register(u.schema, unsupportedHandler(msg))
	}

	// webfetch historically answered under several spellings; the message
	// keeps the canonical name.
	for _, alias := range []string{"web_fetch", "WebFetch"} {
		s := unsupportedTools[0].schema
		s.Name = alias
		reg.Register(s, unsupportedHandler("webfetch is unsupported"))
	}
}
