package builtin

import (
	"context"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/harunnryd/sekisho/internal/tool"
)

var listSchema = tool.Schema{
	Name:        "list",
	Description: "List files under a directory.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
			"ignore": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{},
	},
}

var defaultListIgnores = []string{
	"node_modules/**", "__pycache__/**", ".git/**", "dist/**", "build/**",
	"target/**", "vendor/**", "bin/**", "obj/**", ".idea/**", ".vscode/**",
	".zig-cache/**", "zig-out/**", ".coverage/**", "coverage/**", "tmp/**",
	"temp/**", ".cache/**", "cache/**", "logs/**", ".venv/**", "venv/**", "env/**",
}

func listHandler(workspaceRoot string) tool.Handler {
	return func(ctx context.Context, callID string, args map[string]any) tool.Result {
		base := "."
		if p, ok := args["path"].(string); ok {
			base = p
		}

		normBase, err := NormalizeUnderRoot(workspaceRoot, base)
		if err != nil {
			return pathFailure(err)
		}

		var ignoreGlobs []*regexp.Regexp
		for _, ig := range defaultListIgnores {
			if re, err := regexp.Compile(globToRegex(ig)); err == nil {
				ignoreGlobs = append(ignoreGlobs, re)
			}
		}
		if extra, ok := args["ignore"].([]any); ok {
			for _, item := range extra {
				s, ok := item.(string)
				if !ok {
					continue
				}
				if globs, err := compileGlobs(s); err == nil {
					ignoreGlobs = append(ignoreGlobs, globs...)
				}
			}
		}

		var files []string
		walkFiles(normBase, func(_, rel string, info os.FileInfo) bool {
			if len(ignoreGlobs) > 0 && matchAnyGlob(ignoreGlobs, rel) {
				return true
			}
			files = append(files, rel)
			return len(files) < resultLimit
		})
		sort.Strings(files)

		output := renderTree(normBase, files)

		return tool.Success(map[string]any{
			"title":    normBase,
			"output":   output,
			"metadata": map[string]any{"count": len(files), "truncated": len(files) >= resultLimit},
		})
	}
}

// renderTree formats relative file paths as an indented directory tree,
// directories before their files, two spaces per depth level.
func renderTree(root string, files []string) string {
	dirs := map[string]bool{".": true}
	filesByDir := map[string][]string{}
	for _, f := range files {
		dir := path.Dir(f)
		filesByDir[dir] = append(filesByDir[dir], path.Base(f))
		for d := dir; d != "." && d != "/"; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	for _, v := range filesByDir {
		sort.Strings(v)
	}

	var render func(dirPath string, depth int) string
	render = func(dirPath string, depth int) string {
		var out strings.Builder
		if depth > 0 {
			out.WriteString(strings.Repeat("  ", depth))
			out.WriteString(path.Base(dirPath) + "/\n")
		}

		var children []string
		for d := range dirs {
			if d == "." || d == dirPath {
				continue
			}
			if path.Dir(d) == dirPath {
				children = append(children, d)
			}
		}
		sort.Strings(children)
		for _, child := range children {
			out.WriteString(render(child, depth+1))
		}

		for _, fn := range filesByDir[dirPath] {
			out.WriteString(strings.Repeat("  ", depth+1))
			out.WriteString(fn + "\n")
		}
		return out.String()
	}

	header := strings.TrimSuffix(root, "/") + "/\n"
	return header + render(".", 0)
}
