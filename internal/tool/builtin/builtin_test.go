package builtin

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/tool"
)

func newRegistry(t *testing.T) (*tool.Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg := tool.NewRegistry()
	Register(reg, root)
	return reg, root
}

func invoke(t *testing.T, reg *tool.Registry, name string, args map[string]any) tool.Result {
	t.Helper()
	_, handler, ok := reg.Get(name)
	require.True(t, ok, "tool %q not registered", name)
	return handler(context.Background(), "call-test", args)
}

func TestNormalizeUnderRoot(t *testing.T) {
	root := t.TempDir()

	got, err := NormalizeUnderRoot(root, "sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), got)

	got, err = NormalizeUnderRoot(root, "file://"+root+"/a%20b.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a b.txt"), got)

	_, err = NormalizeUnderRoot(root, "../outside.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrOutsideWorkspace)
	assert.Equal(t, "path is outside workspace root", errors.ErrOutsideWorkspace.Error())

	_, err = NormalizeUnderRoot(root, "/etc/passwd")
	assert.ErrorIs(t, err, errors.ErrOutsideWorkspace)
}

func TestReadFormatsNumberedLines(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("one\ntwo\nthree\n"), 0o644))

	res := invoke(t, reg, "read", map[string]any{"filePath": "a.txt"})
	require.True(t, res.OK())

	output := res["output"].(string)
	assert.True(t, strings.HasPrefix(output, "<file>\n00001| one\n00002| two\n00003| three"))
	assert.Contains(t, output, "(End of file - total 3 lines)")
	assert.True(t, strings.HasSuffix(output, "</file>"))

	meta := res["metadata"].(map[string]any)
	assert.Equal(t, false, meta["truncated"])
	assert.Equal(t, 3, meta["lastReadLine"])
	assert.Equal(t, 3, meta["totalLines"])
}

func TestReadOffsetAndLimit(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("l1\nl2\nl3\nl4\nl5\n"), 0o644))

	res := invoke(t, reg, "read", map[string]any{"filePath": "a.txt", "offset": float64(1), "limit": float64(2)})
	require.True(t, res.OK())

	output := res["output"].(string)
	assert.Contains(t, output, "00002| l2")
	assert.Contains(t, output, "00003| l3")
	assert.NotContains(t, output, "00001|")
	assert.Contains(t, output, "(File has more lines. Use 'offset' parameter to read beyond line 3)")

	meta := res["metadata"].(map[string]any)
	assert.Equal(t, true, meta["truncated"])
	assert.Equal(t, 3, meta["lastReadLine"])
}

func TestReadMissingFile(t *testing.T) {
	reg, _ := newRegistry(t)
	res := invoke(t, reg, "read", map[string]any{"filePath": "nope.txt"})
	assert.False(t, res.OK())
	assert.Equal(t, "file not found", res["error"])
}

func TestWriteReportsPriorExistence(t *testing.T) {
	reg, root := newRegistry(t)

	res := invoke(t, reg, "write", map[string]any{"filePath": "new/dir/a.txt", "content": "hello"})
	require.True(t, res.OK())
	assert.Equal(t, false, res["metadata"].(map[string]any)["exists"])

	data, err := os.ReadFile(filepath.Join(root, "new", "dir", "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	res = invoke(t, reg, "write", map[string]any{"filePath": "new/dir/a.txt", "content": "again"})
	require.True(t, res.OK())
	assert.Equal(t, true, res["metadata"].(map[string]any)["exists"])
}

func TestWriteOutsideRootRejected(t *testing.T) {
	reg, _ := newRegistry(t)
	res := invoke(t, reg, "write", map[string]any{"filePath": "../escape.txt", "content": "x"})
	assert.False(t, res.OK())
	assert.Equal(t, "path is outside workspace root", res["error"])
}

func TestEditSingleMatch(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello world"), 0o644))

	res := invoke(t, reg, "edit", map[string]any{
		"filePath": "a.txt", "oldString": "world", "newString": "go",
	})
	require.True(t, res.OK())
	assert.Equal(t, 1, res["metadata"].(map[string]any)["replacements"])

	data, _ := os.ReadFile(filepath.Join(root, "a.txt"))
	assert.Equal(t, "hello go", string(data))
}

func TestEditRejectsAmbiguousMatch(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("aa bb aa"), 0o644))

	res := invoke(t, reg, "edit", map[string]any{
		"filePath": "a.txt", "oldString": "aa", "newString": "cc",
	})
	assert.False(t, res.OK())
	assert.Contains(t, res["error"].(string), "found multiple matches for oldString")

	res = invoke(t, reg, "edit", map[string]any{
		"filePath": "a.txt", "oldString": "aa", "newString": "cc", "replaceAll": true,
	})
	require.True(t, res.OK())
	assert.Equal(t, 2, res["metadata"].(map[string]any)["replacements"])
}

func TestEditEqualStringsRejected(t *testing.T) {
	reg, _ := newRegistry(t)
	res := invoke(t, reg, "edit", map[string]any{
		"filePath": "a.txt", "oldString": "same", "newString": "same",
	})
	assert.False(t, res.OK())
	assert.Equal(t, "oldString and newString must be different", res["error"])
}

func TestEditEmptyOldCreatesFile(t *testing.T) {
	reg, root := newRegistry(t)
	res := invoke(t, reg, "edit", map[string]any{
		"filePath": "fresh.txt", "oldString": "", "newString": "content",
	})
	require.True(t, res.OK())

	data, err := os.ReadFile(filepath.Join(root, "fresh.txt"))
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))
}

func TestGlobBraceAndRecency(t *testing.T) {
	reg, root := newRegistry(t)
	old := filepath.Join(root, "pkg", "old.go")
	recent := filepath.Join(root, "sub", "recent.ts")
	require.NoError(t, os.MkdirAll(filepath.Dir(old), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Dir(recent), 0o755))
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(recent, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "skip.txt"), []byte("z"), 0o644))
	require.NoError(t, os.Chtimes(old, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour)))

	res := invoke(t, reg, "glob", map[string]any{"pattern": "**/*.{go,ts}"})
	require.True(t, res.OK())

	output := res["output"].(string)
	lines := strings.Split(output, "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "recent.ts")
	assert.Contains(t, lines[1], "old.go")
	assert.NotContains(t, output, "skip.txt")
}

func TestGlobSkipsVendorDirs(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "pkg", "index.js"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "lib", "app.js"), []byte("y"), 0o644))

	res := invoke(t, reg, "glob", map[string]any{"pattern": "**/*.js"})
	require.True(t, res.OK())
	assert.Contains(t, res["output"].(string), "app.js")
	assert.NotContains(t, res["output"].(string), "node_modules")
}

func TestGlobNoMatches(t *testing.T) {
	reg, _ := newRegistry(t)
	res := invoke(t, reg, "glob", map[string]any{"pattern": "*.zig"})
	require.True(t, res.OK())
	assert.Equal(t, "No files found", res["output"])
}

func TestGrepFindsMatches(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.go"), []byte("func main() {}\nvar x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("func helper\n"), 0o644))

	res := invoke(t, reg, "grep", map[string]any{"pattern": "^func ", "include": "*.go"})
	require.True(t, res.OK())

	output := res["output"].(string)
	assert.Contains(t, output, "Found 1 matches")
	assert.Contains(t, output, "Line 1: func main() {}")
	assert.NotContains(t, output, "b.txt")
}

func TestGrepInvalidRegex(t *testing.T) {
	reg, _ := newRegistry(t)
	res := invoke(t, reg, "grep", map[string]any{"pattern": "("})
	assert.False(t, res.OK())
	assert.Contains(t, res["error"].(string), "invalid regex")
}

func TestListRendersTree(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "util"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "util", "strings.go"), []byte("x"), 0o644))

	res := invoke(t, reg, "list", map[string]any{})
	require.True(t, res.OK())

	output := res["output"].(string)
	assert.Contains(t, output, "  src/\n")
	assert.Contains(t, output, "    util/\n")
	assert.Contains(t, output, "      strings.go\n")
	assert.Contains(t, output, "  main.go\n")
}

func TestRuntimeHelpers(t *testing.T) {
	reg, _ := newRegistry(t)

	res := invoke(t, reg, "runtime.echo", map[string]any{"text": "ping"})
	require.True(t, res.OK())
	assert.Equal(t, "ping", res["text"])

	res = invoke(t, reg, "runtime.add", map[string]any{"a": float64(2), "b": float64(3)})
	require.True(t, res.OK())
	assert.Equal(t, float64(5), res["sum"])

	res = invoke(t, reg, "runtime.add", map[string]any{"a": "two", "b": float64(3)})
	assert.False(t, res.OK())
	assert.Equal(t, "fields a and b must be numbers", res["error"])

	res = invoke(t, reg, "runtime.time", map[string]any{})
	require.True(t, res.OK())
	assert.InDelta(t, time.Now().Unix(), res["unix_seconds"].(int64), 5)

	res = invoke(t, reg, "todowrite", map[string]any{"todos": []any{}})
	assert.True(t, res.OK())
}

func TestInvalidTool(t *testing.T) {
	reg, _ := newRegistry(t)
	res := invoke(t, reg, "invalid", map[string]any{"tool": "bash", "error": "not allowed"})
	assert.False(t, res.OK())
	assert.Equal(t, "invalid tool call: bash: not allowed", res["error"])
}

func TestUnsupportedTools(t *testing.T) {
	reg, _ := newRegistry(t)
	for _, name := range []string{"webfetch", "websearch", "bash", "terminal", "task", "todoread", "batch", "patch", "multiedit", "skill", "question", "codesearch"} {
		res := invoke(t, reg, name, map[string]any{})
		assert.False(t, res.OK(), name)
		assert.Equal(t, name+" is unsupported", res["error"], name)
	}

	res := invoke(t, reg, "lsp", map[string]any{})
	assert.Equal(t, "lsp is unsupported (use ide.hover/ide.definition/ide.diagnostics if available)", res["error"])

	res = invoke(t, reg, "web_fetch", map[string]any{})
	assert.Equal(t, "webfetch is unsupported", res["error"])
}

func TestAliasesShareHandlers(t *testing.T) {
	reg, root := newRegistry(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("data\n"), 0o644))

	for _, alias := range []string{"readFile", "read_file"} {
		res := invoke(t, reg, alias, map[string]any{"filePath": "a.txt"})
		assert.True(t, res.OK(), alias)
	}
	assert.True(t, reg.Has("writeFile"))
	assert.True(t, reg.Has("editFile"))
}
