package builtin

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/harunnryd/sekisho/internal/tool"
)

var globSchema = tool.Schema{
	Name:        "glob",
	Description: "Match files using a glob pattern.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"path":    map[string]any{"type": "string"},
		},
		"required": []any{"pattern"},
	},
}

// walkFiles runs fn over regular files under base, pruning the skip set.
// fn returns false to stop early.
func walkFiles(base string, fn func(path, rel string, info os.FileInfo) bool) {
	filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != base && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			rel = d.Name()
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !fn(path, filepath.ToSlash(rel), info) {
			return filepath.SkipAll
		}
		return nil
	})
}

func globHandler(workspaceRoot string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		pattern, ok := args["pattern"].(string)
		if !ok {
			return tool.Failure("missing required field: pattern")
		}
		base := "."
		if p, ok := args["path"].(string); ok {
			base = p
		}

		normBase, err := NormalizeUnderRoot(workspaceRoot, base)
		if err != nil {
			return pathFailure(err)
		}

		globs, err := compileGlobs(pattern)
		if err != nil {
			return tool.Failure("invalid glob pattern: " + err.Error())
		}

		type hit struct {
			path  string
			mtime int64
		}
		var hits []hit
		truncated := false

		walkFiles(normBase, func(path, rel string, info os.FileInfo) bool {
			if !matchAnyGlob(globs, rel) {
				return true
			}
			hits = append(hits, hit{path: filepath.ToSlash(path), mtime: info.ModTime().UnixNano()})
			if len(hits) >= resultLimit {
				truncated = true
				return false
			}
			return true
		})

		sort.Slice(hits, func(i, j int) bool { return hits[i].mtime > hits[j].mtime })

		var b strings.Builder
		if len(hits) == 0 {
			b.WriteString("No files found")
		} else {
			for i, h := range hits {
				b.WriteString(h.path)
				if i+1 < len(hits) {
					b.WriteString("\n")
				}
			}
			if truncated {
				b.WriteString("\n\n(Results are truncated. Consider using a more specific path or pattern.)")
			}
		}

		return tool.Success(map[string]any{
			"title":    normBase,
			"output":   b.String(),
			"metadata": map[string]any{"count": len(hits), "truncated": truncated},
		})
	}
}

var grepSchema = tool.Schema{
	Name:        "grep",
	Description: "Search file contents using a regex pattern.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"pattern": map[string]any{"type": "string"},
			"path":    map[string]any{"type": "string"},
			"include": map[string]any{"type": "string"},
		},
		"required": []any{"pattern"},
	},
}

func grepHandler(workspaceRoot string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		patternStr, ok := args["pattern"].(string)
		if !ok {
			return tool.Failure("missing required field: pattern")
		}
		base := "."
		if p, ok := args["path"].(string); ok {
			base = p
		}

		normBase, err := NormalizeUnderRoot(workspaceRoot, base)
		if err != nil {
			return pathFailure(err)
		}

		pattern, err := regexp.Compile(patternStr)
		if err != nil {
			return tool.Failure("invalid regex: " + err.Error())
		}

		var includeGlobs []*regexp.Regexp
		if inc, ok := args["include"].(string); ok {
			includeGlobs, err = compileGlobs(inc)
			if err != nil {
				includeGlobs = nil
			}
		}

		type match struct {
			path  string
			mtime int64
			line  int
			text  string
		}
		var matches []match

		walkFiles(normBase, func(path, rel string, info os.FileInfo) bool {
			if !matchAnyGlob(includeGlobs, rel) {
				return true
			}
			f, err := os.Open(path)
			if err != nil {
				return true
			}
			defer f.Close()

			mtime := info.ModTime().UnixNano()
			scanner := bufio.NewScanner(f)
			scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
			lineNum := 0
			for scanner.Scan() {
				lineNum++
				line := scanner.Text()
				if !pattern.MatchString(line) {
					continue
				}
				if len(line) > maxLineLength {
					line = line[:maxLineLength] + "..."
				}
				matches = append(matches, match{path: filepath.ToSlash(path), mtime: mtime, line: lineNum, text: line})
				if len(matches) >= resultLimit {
					return false
				}
			}
			return true
		})

		sort.SliceStable(matches, func(i, j int) bool { return matches[i].mtime > matches[j].mtime })

		var b strings.Builder
		if len(matches) == 0 {
			b.WriteString("No files found")
		} else {
			fmt.Fprintf(&b, "Found %d matches\n", len(matches))
			current := ""
			for i, m := range matches {
				if m.path != current {
					if current != "" {
						b.WriteString("\n")
					}
					current = m.path
					b.WriteString(current + ":\n")
				}
				fmt.Fprintf(&b, "  Line %d: %s", m.line, m.text)
				if i+1 < len(matches) {
					b.WriteString("\n")
				}
			}
		}
		truncated := len(matches) >= resultLimit
		if truncated {
			b.WriteString("\n\n(Results are truncated. Consider using a more specific path or pattern.)")
		}

		return tool.Success(map[string]any{
			"title":    patternStr,
			"output":   b.String(),
			"metadata": map[string]any{"matches": len(matches), "truncated": truncated},
		})
	}
}
