package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/sekisho/internal/tool"
)

const (
	readDefaultLimit = 2000
	maxLineLength    = 2000
	readMaxBytes     = 50 * 1024
)

var readSchema = tool.Schema{
	Name:        "read",
	Description: "Read a text file.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"filePath": map[string]any{"type": "string"},
			"offset":   map[string]any{"type": "integer"},
			"limit":    map[string]any{"type": "integer"},
		},
		"required": []any{"filePath"},
	},
}

func readHandler(workspaceRoot string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		filePath, ok := args["filePath"].(string)
		if !ok {
			return tool.Failure("missing required field: filePath")
		}
		offset := intArg(args, "offset", 0)
		limit := intArg(args, "limit", readDefaultLimit)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 {
			limit = readDefaultLimit
		}

		norm, err := NormalizeUnderRoot(workspaceRoot, filePath)
		if err != nil {
			return pathFailure(err)
		}

		f, err := os.Open(norm)
		if err != nil {
			return tool.Failure("file not found")
		}
		defer f.Close()

		var outLines []string
		totalLines := 0
		bytes := 0
		truncatedByBytes := false

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			totalLines++
			if totalLines-1 < offset {
				continue
			}
			if len(outLines) >= limit {
				continue
			}
			shown := scanner.Text()
			if len(shown) > maxLineLength {
				shown = shown[:maxLineLength] + "..."
			}
			add := len(shown)
			if len(outLines) > 0 {
				add++
			}
			if bytes+add > readMaxBytes {
				truncatedByBytes = true
				break
			}
			bytes += add
			outLines = append(outLines, shown)
		}

		lastReadLine := offset + len(outLines)
		hasMoreLines := totalLines > lastReadLine || truncatedByBytes
		truncated := hasMoreLines || truncatedByBytes

		var b strings.Builder
		b.WriteString("<file>\n")
		for i, line := range outLines {
			fmt.Fprintf(&b, "%05d| %s", offset+i+1, line)
			if i+1 < len(outLines) {
				b.WriteString("\n")
			}
		}
		switch {
		case truncatedByBytes:
			fmt.Fprintf(&b, "\n\n(Output truncated at %d bytes. Use 'offset' parameter to read beyond line %d)", readMaxBytes, lastReadLine)
		case hasMoreLines:
			fmt.Fprintf(&b, "\n\n(File has more lines. Use 'offset' parameter to read beyond line %d)", lastReadLine)
		default:
			fmt.Fprintf(&b, "\n\n(End of file - total %d lines)", totalLines)
		}
		b.WriteString("\n</file>")

		return tool.Success(map[string]any{
			"title":  norm,
			"output": b.String(),
			"metadata": map[string]any{
				"truncated":    truncated,
				"lastReadLine": lastReadLine,
				"totalLines":   totalLines,
			},
		})
	}
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}
