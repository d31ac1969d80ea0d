package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/harunnryd/sekisho/internal/tool"
)

var writeSchema = tool.Schema{
	Name:        "write",
	Description: "Write text content to a file.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":  map[string]any{"type": "string"},
			"filePath": map[string]any{"type": "string"},
		},
		"required": []any{"content", "filePath"},
	},
}

func writeHandler(workspaceRoot string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		filePath, okPath := args["filePath"].(string)
		content, okContent := args["content"].(string)
		if !okPath || !okContent {
			return tool.Failure("missing required fields: filePath, content")
		}

		norm, err := NormalizeUnderRoot(workspaceRoot, filePath)
		if err != nil {
			return pathFailure(err)
		}

		_, statErr := os.Stat(norm)
		existed := statErr == nil

		if dir := filepath.Dir(norm); dir != "." {
			os.MkdirAll(dir, 0o755)
		}
		if err := os.WriteFile(norm, []byte(content), 0o644); err != nil {
			return tool.Failure("failed to open file for writing")
		}

		return tool.Success(map[string]any{
			"title":    norm,
			"output":   "",
			"metadata": map[string]any{"filepath": norm, "exists": existed},
		})
	}
}

var editSchema = tool.Schema{
	Name:        "edit",
	Description: "Edit a file by replacing a string.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath":   map[string]any{"type": "string"},
			"oldString":  map[string]any{"type": "string"},
			"newString":  map[string]any{"type": "string"},
			"replaceAll": map[string]any{"type": "boolean"},
		},
		"required": []any{"filePath", "oldString", "newString"},
	},
}

func editHandler(workspaceRoot string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		filePath, okPath := args["filePath"].(string)
		oldString, okOld := args["oldString"].(string)
		newString, okNew := args["newString"].(string)
		if !okPath || !okOld || !okNew {
			return tool.Failure("missing required fields: filePath, oldString, newString")
		}
		if oldString == newString {
			return tool.Failure("oldString and newString must be different")
		}
		replaceAll, _ := args["replaceAll"].(bool)

		norm, err := NormalizeUnderRoot(workspaceRoot, filePath)
		if err != nil {
			return pathFailure(err)
		}

		if dir := filepath.Dir(norm); dir != "." {
			os.MkdirAll(dir, 0o755)
		}

		// Empty oldString means create or overwrite.
		if oldString == "" {
			if err := os.WriteFile(norm, []byte(newString), 0o644); err != nil {
				return tool.Failure("failed to open file for writing")
			}
			return tool.Success(map[string]any{
				"title":    norm,
				"output":   "",
				"metadata": map[string]any{"filepath": norm},
			})
		}

		data, err := os.ReadFile(norm)
		if err != nil {
			return tool.Failure("file not found")
		}
		content := string(data)

		first := strings.Index(content, oldString)
		if first < 0 {
			return tool.Failure("oldString not found in content")
		}

		replacements := 0
		if replaceAll {
			replacements = strings.Count(content, oldString)
			content = strings.ReplaceAll(content, oldString, newString)
		} else {
			if strings.LastIndex(content, oldString) != first {
				return tool.Failure("found multiple matches for oldString; set replaceAll=true or provide a more specific oldString")
			}
			content = content[:first] + newString + content[first+len(oldString):]
			replacements = 1
		}

		if err := os.WriteFile(norm, []byte(content), 0o644); err != nil {
			return tool.Failure("failed to open file for writing")
		}
		return tool.Success(map[string]any{
			"title":    norm,
			"output":   "",
			"metadata": map[string]any{"filepath": norm, "replacements": replacements},
		})
	}
}
