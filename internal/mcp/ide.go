package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/tool"
	"github.com/harunnryd/sekisho/internal/tool/builtin"
)

// RegisterIDETools adds the ide.* convenience tools: workspace confinement
// and file:// URI construction happen locally, the heavy lifting delegates
// to fs.* / lsp.* remote tools. ide.read_file falls back to the local read
// tool when no MCP server answers.
func RegisterIDETools(reg *tool.Registry, b *Bridge, workspaceRoot string) {
	reg.Register(tool.Schema{
		Name:        "ide.read_file",
		Description: "Read a text file under workspace root.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		path, ok := args["path"].(string)
		if !ok {
			return tool.Failure("missing required field: path")
		}
		norm, err := builtin.NormalizeUnderRoot(workspaceRoot, path)
		if err != nil {
			return tool.Failure(pathMessage(err))
		}
		if r, ok := b.CallRemote(ctx, callID, "fs.read_file", map[string]any{"path": norm}); ok {
			return r
		}
		raw, _ := json.Marshal(map[string]any{"filePath": norm})
		r, invokeErr := reg.Invoke(ctx, "read", callID, raw)
		if invokeErr != nil {
			return tool.Failure("mcp: call failed")
		}
		return r
	})

	reg.Register(tool.Schema{
		Name:        "ide.search",
		Description: "Search text in workspace files.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query":       map[string]any{"type": "string"},
				"path":        map[string]any{"type": "string"},
				"max_results": map[string]any{"type": "integer"},
			},
			"required": []any{"query"},
		},
	}, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		query, ok := args["query"].(string)
		if !ok {
			return tool.Failure("missing required field: query")
		}
		remote := map[string]any{"query": query}
		if n, ok := args["max_results"].(float64); ok {
			remote["max_results"] = int(n)
		}
		if p, ok := args["path"].(string); ok {
			norm, err := builtin.NormalizeUnderRoot(workspaceRoot, p)
			if err != nil {
				return tool.Failure(pathMessage(err))
			}
			remote["path"] = norm
		} else if workspaceRoot != "" {
			remote["path"] = workspaceRoot
		}
		if r, ok := b.CallRemote(ctx, callID, "fs.search", remote); ok {
			return r
		}
		return tool.Failure("mcp: call failed")
	})

	reg.Register(tool.Schema{
		Name:        "ide.diagnostics",
		Description: "Get diagnostics for a file.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"uri": map[string]any{"type": "string"}},
			"required":   []any{"uri"},
		},
	}, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		uri, ok := args["uri"].(string)
		if !ok {
			return tool.Failure("missing required field: uri")
		}
		norm, err := builtin.NormalizeUnderRoot(workspaceRoot, uri)
		if err != nil {
			return tool.Failure(pathMessage(err))
		}
		if r, ok := b.CallRemote(ctx, callID, "lsp.diagnostics", map[string]any{"uri": fileURI(norm)}); ok {
			return r
		}
		return tool.Failure("mcp: call failed")
	})

	registerPositional(reg, b, workspaceRoot, "ide.hover", "Get hover information at a position.", "lsp.hover")
	registerPositional(reg, b, workspaceRoot, "ide.definition", "Get definition location at a position.", "lsp.definition")
}

// registerPositional covers the uri+line+character shaped ide tools.
func registerPositional(reg *tool.Registry, b *Bridge, workspaceRoot, name, description, remote string) {
	reg.Register(tool.Schema{
		Name:        name,
		Description: description,
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"uri":       map[string]any{"type": "string"},
				"line":      map[string]any{"type": "integer"},
				"character": map[string]any{"type": "integer"},
			},
			"required": []any{"uri", "line", "character"},
		},
	}, func(ctx context.Context, callID string, args map[string]any) tool.Result {
		uri, ok := args["uri"].(string)
		if !ok {
			return tool.Failure("missing required field: uri")
		}
		line, lineOK := args["line"].(float64)
		character, charOK := args["character"].(float64)
		if !lineOK || !charOK {
			return tool.Failure("missing required fields: line, character")
		}
		norm, err := builtin.NormalizeUnderRoot(workspaceRoot, uri)
		if err != nil {
			return tool.Failure(pathMessage(err))
		}
		remoteArgs := map[string]any{
			"uri":       fileURI(norm),
			"line":      int(line),
			"character": int(character),
		}
		if r, ok := b.CallRemote(ctx, callID, remote, remoteArgs); ok {
			return r
		}
		return tool.Failure("mcp: call failed")
	})
}

func fileURI(normalized string) string {
	if normalized == "" {
		return "file:///"
	}
	if strings.HasPrefix(normalized, "/") {
		return "file://" + normalized
	}
	return "file:///" + normalized
}

func pathMessage(err error) string {
	if stderrors.Is(err, errors.ErrOutsideWorkspace) {
		return "path is outside workspace root"
	}
	return "invalid path"
}
